package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchplay/engine/internal/clock"
	"github.com/stretchplay/engine/internal/cpuspec"
	"github.com/stretchplay/engine/internal/errors"
	"github.com/stretchplay/engine/internal/logging"
)

// DefaultMaxCrashes is how many times a slot may panic and be respawned
// before it is retired permanently.
const DefaultMaxCrashes = 2

type job struct {
	chunkIndex int
	channels   [][]float32
	tempo      float64
	sampleRate int
	ctx        context.Context
	cancel     context.CancelFunc
}

type slotState struct {
	busy       bool
	chunkIndex int
	postTime   time.Time
	cancel     context.CancelFunc
	crashes    int
	dead       bool
	jobs       chan job
}

// Manager is the real, goroutine-backed Processor.
type Manager struct {
	mu         sync.Mutex
	slots      []*slotState
	maxCrashes int
	convert    ConvertFunc
	clock      clock.Clock

	results chan any
	done    chan struct{}
	wg      sync.WaitGroup

	onResult  func(Response)
	onError   func(ConvertError)
	onAllDead func()

	terminated   bool
	allDeadFired bool

	logger *slog.Logger
}

type resultMsg struct {
	Response
}

type errorMsg struct {
	ConvertError
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	PoolSize   int // 0 = auto-detect via internal/cpuspec
	MaxCrashes int // 0 = DefaultMaxCrashes
	Convert    ConvertFunc
	Clock      clock.Clock
	OnResult   func(Response)
	OnError    func(ConvertError)
	OnAllDead  func()
}

// NewManager constructs and starts a worker pool.
func NewManager(cfg ManagerConfig) *Manager {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = cpuspec.GetCPUSpec().GetOptimalThreadCount()
		if poolSize <= 0 {
			poolSize = 2
		}
		if poolSize > 4 {
			poolSize = 4 // DSP conversion work is heavier per-thread than inference
		}
	}
	maxCrashes := cfg.MaxCrashes
	if maxCrashes <= 0 {
		maxCrashes = DefaultMaxCrashes
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Real{}
	}

	logger := logging.ForService("workerpool")
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		maxCrashes: maxCrashes,
		convert:    cfg.Convert,
		clock:      c,
		results:    make(chan any, poolSize*2),
		done:       make(chan struct{}),
		onResult:   cfg.OnResult,
		onError:    cfg.OnError,
		onAllDead:  cfg.OnAllDead,
		logger:     logger,
	}

	for i := 0; i < poolSize; i++ {
		s := &slotState{jobs: make(chan job, 1)}
		m.slots = append(m.slots, s)
		m.spawnSlot(i)
	}

	m.wg.Add(1)
	go m.dispatchLoop()

	return m
}

func (m *Manager) spawnSlot(id int) {
	m.wg.Add(1)
	go m.runSlot(id)
}

func (m *Manager) runSlot(id int) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.handleCrash(id, r)
		}
	}()

	m.mu.Lock()
	s := m.slots[id]
	m.mu.Unlock()

	for {
		select {
		case <-m.done:
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			m.processJob(id, j)
		}
	}
}

func (m *Manager) processJob(id int, j job) {
	var output [][]float32
	var outputLength int
	cancelled := false

	select {
	case <-j.ctx.Done():
		cancelled = true
	default:
		output, outputLength = m.convert(j.ctx, j.channels, j.tempo, j.sampleRate)
		select {
		case <-j.ctx.Done():
			cancelled = true
		default:
		}
	}

	if cancelled {
		m.results <- resultMsg{Response{ChunkIndex: j.chunkIndex, Cancelled: true}}
	} else {
		m.results <- resultMsg{Response{ChunkIndex: j.chunkIndex, Output: output, OutputLength: outputLength}}
	}

	m.mu.Lock()
	if id < len(m.slots) {
		s := m.slots[id]
		s.busy = false
		s.cancel = nil
	}
	m.mu.Unlock()
}

func (m *Manager) handleCrash(id int, recovered any) {
	m.mu.Lock()
	s := m.slots[id]
	s.busy = false
	s.crashes++
	crashCount := s.crashes
	failedChunk := s.chunkIndex
	shouldRespawn := crashCount < m.maxCrashes && !m.terminated
	if !shouldRespawn {
		s.dead = true
	}
	allDead := m.allSlotsDeadLocked()
	fireAllDead := allDead && !m.allDeadFired && !m.terminated
	if fireAllDead {
		m.allDeadFired = true
	}
	onAllDead := m.onAllDead
	m.mu.Unlock()

	m.logger.Error("worker slot panicked", "slot", id, "recover", recovered, "crashes", crashCount)

	eerr := errors.New(fmt.Errorf("%v", recovered)).
		Component(component).
		Category(errors.CategoryWorker).
		ChunkContext(failedChunk).
		Build()
	m.results <- errorMsg{ConvertError{ChunkIndex: failedChunk, Message: eerr.Error()}}

	if shouldRespawn {
		m.spawnSlot(id)
	}
	if fireAllDead && onAllDead != nil {
		onAllDead()
	}
}

func (m *Manager) allSlotsDeadLocked() bool {
	for _, s := range m.slots {
		if !s.dead {
			return false
		}
	}
	return len(m.slots) > 0
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.results:
			m.mu.Lock()
			onResult, onError := m.onResult, m.onError
			m.mu.Unlock()
			switch v := msg.(type) {
			case resultMsg:
				if onResult != nil {
					onResult(v.Response)
				}
			case errorMsg:
				if onError != nil {
					onError(v.ConvertError)
				}
			}
		}
	}
}

// PostConvert implements Processor.
func (m *Manager) PostConvert(chunkIndex int, channels [][]float32, tempo float64, sampleRate int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminated {
		return
	}
	for i, s := range m.slots {
		if s.dead || s.busy {
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.busy = true
		s.chunkIndex = chunkIndex
		s.postTime = m.clock.Now()
		s.cancel = cancel
		select {
		case m.slots[i].jobs <- job{chunkIndex: chunkIndex, channels: channels, tempo: tempo, sampleRate: sampleRate, ctx: ctx, cancel: cancel}:
		default:
			// Slot claimed capacity but its job channel is unexpectedly full;
			// release it rather than block the caller.
			s.busy = false
			s.cancel = nil
		}
		return
	}
}

// CancelChunk implements Processor.
func (m *Manager) CancelChunk(chunkIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.busy && s.chunkIndex == chunkIndex && s.cancel != nil {
			s.cancel()
		}
	}
}

// CancelCurrent implements Processor.
func (m *Manager) CancelCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.busy && s.cancel != nil {
			s.cancel()
		}
	}
}

// HasCapacity implements Processor.
func (m *Manager) HasCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if !s.dead && !s.busy {
			return true
		}
	}
	return false
}

// IsBusy implements Processor.
func (m *Manager) IsBusy(chunkIndex int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.busy && s.chunkIndex == chunkIndex {
			return true
		}
	}
	return false
}

// LastPostTime implements Processor.
func (m *Manager) LastPostTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, s := range m.slots {
		if s.busy && s.postTime.After(latest) {
			latest = s.postTime
		}
	}
	return latest
}

// PostTimeForChunk implements Processor.
func (m *Manager) PostTimeForChunk(chunkIndex int) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.busy && s.chunkIndex == chunkIndex {
			return s.postTime, true
		}
	}
	return time.Time{}, false
}

// Terminate implements Processor.
func (m *Manager) Terminate() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.onResult = nil
	m.onError = nil
	m.onAllDead = nil
	for _, s := range m.slots {
		if s.cancel != nil {
			s.cancel()
		}
	}
	m.mu.Unlock()

	close(m.done)
}
