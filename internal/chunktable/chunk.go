// Package chunktable partitions a source audio buffer into fixed-duration
// overlapping chunks and tracks each chunk's conversion lifecycle.
package chunktable

import "math"

// State is the lifecycle stage of a single chunk's conversion.
type State int

const (
	StatePending State = iota
	StateQueued
	StateConverting
	StateReady
	StateEvicted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateQueued:
		return "queued"
	case StateConverting:
		return "converting"
	case StateReady:
		return "ready"
	case StateEvicted:
		return "evicted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is one partition of the source buffer, including any overlap
// samples shared with its neighbours.
type Chunk struct {
	Index            int
	InputStartSample int
	InputEndSample   int
	OverlapBefore    int
	OverlapAfter     int

	State    State
	Output   [][]float32
	OutputLength int

	Priority   int
	RetryCount int
}

// InputLength returns the number of input samples this chunk covers,
// including its overlap regions.
func (c *Chunk) InputLength() int {
	return c.InputEndSample - c.InputStartSample
}

// PriorityInfinite marks a chunk as outside the scheduler's active window.
const PriorityInfinite = math.MaxInt32

// Table is an ordered, index-addressable sequence of chunks covering one
// source buffer.
type Table struct {
	Chunks     []*Chunk
	SampleRate int
	TotalSamples int
}

// ChunkAtSample returns the chunk covering sample position s, clamped to the
// last chunk if s is past the end of the source.
func (t *Table) ChunkAtSample(s int) *Chunk {
	if len(t.Chunks) == 0 {
		return nil
	}
	if s < 0 {
		s = 0
	}
	for _, c := range t.Chunks {
		nominalEnd := c.InputEndSample - c.OverlapAfter
		if s < nominalEnd {
			return c
		}
	}
	return t.Chunks[len(t.Chunks)-1]
}

// ChunkAtTime returns the chunk covering the given time offset in seconds.
func (t *Table) ChunkAtTime(seconds float64) *Chunk {
	if t.SampleRate <= 0 {
		return nil
	}
	return t.ChunkAtSample(int(seconds * float64(t.SampleRate)))
}

// DurationSec returns the total source duration in seconds.
func (t *Table) DurationSec() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(t.TotalSamples) / float64(t.SampleRate)
}
