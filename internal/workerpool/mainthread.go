package workerpool

import (
	"context"
	"sync"
	"time"

	"github.com/stretchplay/engine/internal/clock"
)

// MainThreadProcessor satisfies Processor by running conversions inline on a
// single background goroutine behind a task channel, for hosts that cannot
// spawn a full worker pool. It has exactly one slot.
type MainThreadProcessor struct {
	mu         sync.Mutex
	convert    ConvertFunc
	clock      clock.Clock
	tasks      chan job
	done       chan struct{}
	wg         sync.WaitGroup
	busy       bool
	chunkIndex int
	postTime   time.Time
	cancel     context.CancelFunc
	terminated bool

	onResult func(Response)
	onError  func(ConvertError)
}

// NewMainThreadProcessor constructs and starts a single-slot inline processor.
func NewMainThreadProcessor(convert ConvertFunc, c clock.Clock, onResult func(Response), onError func(ConvertError)) *MainThreadProcessor {
	if c == nil {
		c = clock.Real{}
	}
	p := &MainThreadProcessor{
		convert:  convert,
		clock:    c,
		tasks:    make(chan job, 1),
		done:     make(chan struct{}),
		onResult: onResult,
		onError:  onError,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *MainThreadProcessor) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.tasks:
			p.processRecovering(j)
		}
	}
}

// processRecovering runs process and converts a panic into a ConvertError
// instead of taking down the single background goroutine.
func (p *MainThreadProcessor) processRecovering(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			onError := p.onError
			p.busy = false
			p.cancel = nil
			p.mu.Unlock()
			if onError != nil {
				onError(ConvertError{ChunkIndex: j.chunkIndex, Message: "conversion panicked"})
			}
		}
	}()
	p.process(j)
}

func (p *MainThreadProcessor) process(j job) {
	cancelled := false
	var output [][]float32
	var length int

	select {
	case <-j.ctx.Done():
		cancelled = true
	default:
		output, length = p.convert(j.ctx, j.channels, j.tempo, j.sampleRate)
		select {
		case <-j.ctx.Done():
			cancelled = true
		default:
		}
	}

	p.mu.Lock()
	onResult := p.onResult
	p.busy = false
	p.cancel = nil
	p.mu.Unlock()

	if onResult == nil {
		return
	}
	if cancelled {
		onResult(Response{ChunkIndex: j.chunkIndex, Cancelled: true})
	} else {
		onResult(Response{ChunkIndex: j.chunkIndex, Output: output, OutputLength: length})
	}
}

func (p *MainThreadProcessor) PostConvert(chunkIndex int, channels [][]float32, tempo float64, sampleRate int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated || p.busy {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.busy = true
	p.chunkIndex = chunkIndex
	p.postTime = p.clock.Now()
	p.cancel = cancel
	select {
	case p.tasks <- job{chunkIndex: chunkIndex, channels: channels, tempo: tempo, sampleRate: sampleRate, ctx: ctx, cancel: cancel}:
	default:
		p.busy = false
		p.cancel = nil
	}
}

func (p *MainThreadProcessor) CancelChunk(chunkIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy && p.chunkIndex == chunkIndex && p.cancel != nil {
		p.cancel()
	}
}

func (p *MainThreadProcessor) CancelCurrent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy && p.cancel != nil {
		p.cancel()
	}
}

func (p *MainThreadProcessor) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.terminated && !p.busy
}

func (p *MainThreadProcessor) IsBusy(chunkIndex int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy && p.chunkIndex == chunkIndex
}

func (p *MainThreadProcessor) LastPostTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.busy {
		return time.Time{}
	}
	return p.postTime
}

func (p *MainThreadProcessor) PostTimeForChunk(chunkIndex int) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy && p.chunkIndex == chunkIndex {
		return p.postTime, true
	}
	return time.Time{}, false
}

func (p *MainThreadProcessor) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.onResult = nil
	p.onError = nil
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	close(p.done)
}
