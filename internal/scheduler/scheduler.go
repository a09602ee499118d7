// Package scheduler prioritises chunk conversions around the playhead,
// dispatches them to a worker pool, and caches one previous tempo's ready
// output so reverting to it is instant.
package scheduler

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/stretchplay/engine/internal/chunktable"
	"github.com/stretchplay/engine/internal/clock"
	"github.com/stretchplay/engine/internal/logging"
	"github.com/stretchplay/engine/internal/workerpool"
)

// Config configures a Scheduler's windowing and retry behaviour.
type Config struct {
	KeepAheadChunks         int
	KeepBehindChunks        int
	CancelDistanceThreshold int
	MaxChunkRetries         int

	SampleRate     int
	WorkerPoolSize int
	MaxCrashes     int
	UseMainThread  bool // run conversions inline instead of a pool (test/fallback)

	Clock clock.Clock

	OnChunkReady  func(index int)
	OnChunkFailed func(index int, message string)
	OnAllDead     func()
}

// Scheduler owns a chunk table and drives its conversion via a
// workerpool.Processor, keyed to a moving playhead and current tempo.
type Scheduler struct {
	mu sync.Mutex

	table  *chunktable.Table
	source [][]float32

	cfg       Config
	tempo     float64
	playhead  int
	processor workerpool.Processor
	cache     *tempoCache
	disposed  bool

	heap chunkHeap

	logger *slog.Logger
}

// New constructs a Scheduler over table, reading input samples from source
// (one []float32 per channel, matching table.TotalSamples), starting at the
// given tempo. The worker pool (or main-thread fallback) is created
// internally and wired to the scheduler's own result/error handlers.
func New(table *chunktable.Table, source [][]float32, tempo float64, cfg Config) *Scheduler {
	logger := logging.ForService("scheduler")
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		table:  table,
		source: source,
		cfg:    cfg,
		tempo:  tempo,
		cache:  newTempoCache(),
		logger: logger,
	}
	s.heap = chunkHeap{table: table}

	if cfg.UseMainThread {
		s.processor = workerpool.NewMainThreadProcessor(workerpool.WSOLAConvert, cfg.Clock, s.handleResult, s.handleError)
	} else {
		s.processor = workerpool.NewManager(workerpool.ManagerConfig{
			PoolSize:   cfg.WorkerPoolSize,
			MaxCrashes: cfg.MaxCrashes,
			Convert:    workerpool.WSOLAConvert,
			Clock:      cfg.Clock,
			OnResult:   s.handleResult,
			OnError:    s.handleError,
			OnAllDead:  cfg.OnAllDead,
		})
	}
	return s
}

// Start sets the initial playhead chunk and begins dispatching conversions.
func (s *Scheduler) Start(playheadChunkIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.playhead = playheadChunkIndex
	s.recomputePrioritiesLocked()
	s.dispatchNextLocked()
}

func (s *Scheduler) inWindowLocked(idx int) bool {
	lo := s.playhead - s.cfg.KeepBehindChunks
	hi := s.playhead + s.cfg.KeepAheadChunks
	return idx >= lo && idx <= hi && idx >= 0 && idx < len(s.table.Chunks)
}

// recomputePrioritiesLocked rebuilds the priority of every chunk and the
// dispatch heap relative to the current playhead, evicting anything that
// has fallen outside the active window.
func (s *Scheduler) recomputePrioritiesLocked() {
	s.heap.idx = s.heap.idx[:0]

	for _, c := range s.table.Chunks {
		if s.inWindowLocked(c.Index) {
			dist := c.Index - s.playhead
			if dist < 0 {
				dist = -dist
			}
			c.Priority = dist

			if c.State == chunktable.StateEvicted {
				c.State = chunktable.StatePending
				c.RetryCount = 0
			}
			if c.State == chunktable.StatePending {
				c.State = chunktable.StateQueued
				s.heap.idx = append(s.heap.idx, c.Index)
			}
		} else {
			c.Priority = chunktable.PriorityInfinite
			switch c.State {
			case chunktable.StateReady, chunktable.StatePending, chunktable.StateQueued, chunktable.StateFailed:
				c.State = chunktable.StateEvicted
				c.Output = nil
				c.OutputLength = 0
			}
		}
	}
	heap.Init(&s.heap)
}

// dispatchNextLocked feeds every free worker slot from the priority heap
// until either the heap is empty or the processor has no free slot left.
func (s *Scheduler) dispatchNextLocked() {
	for s.processor.HasCapacity() && s.heap.Len() > 0 {
		idx := heap.Pop(&s.heap).(int)
		c := s.table.Chunks[idx]
		if c.State != chunktable.StateQueued && c.State != chunktable.StatePending {
			continue
		}
		if c.Priority >= chunktable.PriorityInfinite {
			continue
		}
		c.State = chunktable.StateConverting
		channels := s.extractInputLocked(c)
		s.processor.PostConvert(idx, channels, s.tempo, s.cfg.SampleRate)
	}
}

func (s *Scheduler) extractInputLocked(c *chunktable.Chunk) [][]float32 {
	out := make([][]float32, len(s.source))
	for ch := range s.source {
		out[ch] = s.source[ch][c.InputStartSample:c.InputEndSample]
	}
	return out
}

func (s *Scheduler) handleResult(r workerpool.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || r.ChunkIndex < 0 || r.ChunkIndex >= len(s.table.Chunks) {
		return
	}
	c := s.table.Chunks[r.ChunkIndex]
	if c.State != chunktable.StateConverting {
		return // stale: superseded by a seek, tempo change, or dispose
	}

	if r.Cancelled {
		if s.inWindowLocked(c.Index) {
			c.State = chunktable.StatePending
		} else {
			c.State = chunktable.StateEvicted
		}
		s.dispatchNextLocked()
		return
	}

	c.Output = r.Output
	c.OutputLength = r.OutputLength
	c.State = chunktable.StateReady
	s.dispatchNextLocked()

	if s.cfg.OnChunkReady != nil {
		s.cfg.OnChunkReady(r.ChunkIndex)
	}
}

func (s *Scheduler) handleError(e workerpool.ConvertError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || e.ChunkIndex < 0 || e.ChunkIndex >= len(s.table.Chunks) {
		return
	}
	c := s.table.Chunks[e.ChunkIndex]
	if c.State != chunktable.StateConverting {
		return
	}

	c.RetryCount++
	if c.RetryCount >= s.cfg.MaxChunkRetries {
		c.State = chunktable.StateFailed
		s.dispatchNextLocked()
		if s.cfg.OnChunkFailed != nil {
			s.cfg.OnChunkFailed(e.ChunkIndex, e.Message)
		}
		return
	}

	c.State = chunktable.StatePending
	s.recomputePrioritiesLocked()
	s.dispatchNextLocked()
}

// HandleSeek re-centers the active window on newPlayheadChunk, cancels
// in-flight conversions that fell far outside the new window, and
// redispatches.
func (s *Scheduler) HandleSeek(newPlayheadChunk int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.playhead = newPlayheadChunk
	s.recomputePrioritiesLocked()

	for _, c := range s.table.Chunks {
		if c.State != chunktable.StateConverting {
			continue
		}
		dist := c.Index - s.playhead
		if dist < 0 {
			dist = -dist
		}
		if dist > s.cfg.CancelDistanceThreshold {
			s.processor.CancelChunk(c.Index)
		}
	}
	s.dispatchNextLocked()
}

// HandleTempoChange snapshots every ready chunk under the current tempo,
// cancels all in-flight work, adopts newTempo, and re-queues every active
// chunk for reconversion.
func (s *Scheduler) HandleTempoChange(newTempo float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	var snaps []chunkSnapshot
	for _, c := range s.table.Chunks {
		if s.inWindowLocked(c.Index) && c.State == chunktable.StateReady {
			snaps = append(snaps, chunkSnapshot{OutputIndex: c.Index, Output: c.Output, OutputLength: c.OutputLength})
		}
	}
	s.cache.Store(s.tempo, snaps)

	s.processor.CancelCurrent()
	s.tempo = newTempo

	for _, c := range s.table.Chunks {
		if !s.inWindowLocked(c.Index) {
			continue
		}
		switch c.State {
		case chunktable.StateReady, chunktable.StateConverting, chunktable.StateQueued:
			c.State = chunktable.StatePending
			c.Output = nil
			c.OutputLength = 0
			c.RetryCount = 0
		}
	}

	s.recomputePrioritiesLocked()
	s.dispatchNextLocked()
}

// RestorePreviousTempo rehydrates active-window chunks from the cached
// snapshot if, and only if, that snapshot was captured at s.tempo. Returns
// whether a restoration happened.
func (s *Scheduler) RestorePreviousTempo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}

	snaps, ok := s.cache.Restore(s.tempo)
	if !ok {
		return false
	}

	for _, sn := range snaps {
		if sn.OutputIndex < 0 || sn.OutputIndex >= len(s.table.Chunks) {
			continue
		}
		if !s.inWindowLocked(sn.OutputIndex) {
			continue
		}
		c := s.table.Chunks[sn.OutputIndex]
		c.Output = sn.Output
		c.OutputLength = sn.OutputLength
		c.State = chunktable.StateReady
	}

	s.recomputePrioritiesLocked()
	s.dispatchNextLocked()
	return true
}

// CurrentTempo returns the tempo the scheduler is currently converting at.
func (s *Scheduler) CurrentTempo() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempo
}

// Dispose cancels all in-flight work, terminates the worker pool, and makes
// every subsequent call a silent no-op.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.heap.idx = nil
	s.cache.Clear()
	s.mu.Unlock()

	s.processor.Terminate()
}
