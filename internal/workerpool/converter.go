package workerpool

import (
	"context"

	"github.com/stretchplay/engine/internal/wsola"
)

// WSOLAConvert adapts wsola.Stretch to ConvertFunc. Cancellation is checked
// only around the call (WSOLA itself is not internally preemptible), which
// matches the "cancellation is a hint, not a barrier" contract: a cancelled
// job may still complete and produce a late Response.
func WSOLAConvert(_ context.Context, channels [][]float32, tempo float64, sampleRate int) ([][]float32, int) {
	return wsola.Stretch(channels, tempo, sampleRate)
}
