// Package workerpool runs WSOLA conversions off the engine's main loop, on a
// small pool of goroutines that communicate only by channel — no mutable
// state is shared between the pool and its caller.
package workerpool

import (
	"context"
	"time"
)

// Response is delivered to Processor.OnResult for both a completed
// conversion (Cancelled == false, Output populated) and an acknowledged
// cancellation (Cancelled == true, Output nil).
type Response struct {
	ChunkIndex   int
	Output       [][]float32
	OutputLength int
	Cancelled    bool
}

// ConvertError is delivered to Processor.OnError when a chunk's conversion
// fails (as opposed to being cancelled).
type ConvertError struct {
	ChunkIndex int
	Message    string
}

// Processor is the interface the Conversion Scheduler depends on; it is
// satisfied both by the real goroutine pool (Manager) and by
// MainThreadProcessor, the inline fallback for hosts that cannot spawn one.
type Processor interface {
	// PostConvert assigns a conversion to a free slot. A no-op (no error) if
	// no slot is currently free, if the pool has been terminated, or if a
	// cancellation for chunkIndex has not yet been acknowledged.
	PostConvert(chunkIndex int, channels [][]float32, tempo float64, sampleRate int)

	// CancelChunk signals (best-effort) that any in-flight conversion of
	// chunkIndex should abort. A Response or ConvertError may still arrive.
	CancelChunk(chunkIndex int)

	// CancelCurrent cancels every in-flight conversion.
	CancelCurrent()

	// HasCapacity reports whether at least one slot is free.
	HasCapacity() bool

	// IsBusy reports whether chunkIndex is currently being converted.
	IsBusy(chunkIndex int) bool

	// LastPostTime returns the most recent PostConvert timestamp across all
	// slots, or the zero Time if none are outstanding.
	LastPostTime() time.Time

	// PostTimeForChunk returns the post time for chunkIndex and whether it
	// is still outstanding.
	PostTimeForChunk(chunkIndex int) (time.Time, bool)

	// Terminate releases all resources. Idempotent; subsequent calls to any
	// method are silent no-ops.
	Terminate()
}

// ConvertFunc performs the actual WSOLA stretch. Production code uses
// wsola.Stretch; tests substitute a deterministic stand-in.
type ConvertFunc func(ctx context.Context, channels [][]float32, tempo float64, sampleRate int) ([][]float32, int)
