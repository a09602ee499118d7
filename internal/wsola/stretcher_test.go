package wsola

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(freq float64, sampleRate, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(sampleRate)))
	}
	return out
}

// zeroCrossingFrequency estimates dominant frequency from positive-going
// zero crossings, the same coarse estimator the quality contract uses.
func zeroCrossingFrequency(samples []float32, sampleRate int) float64 {
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if samples[i-1] < 0 && samples[i] >= 0 {
			crossings++
		}
	}
	duration := float64(len(samples)) / float64(sampleRate)
	if duration == 0 {
		return 0
	}
	return float64(crossings) / duration
}

func TestStretchIdentityExact(t *testing.T) {
	t.Parallel()

	in := sineWave(440, 44100, 44100)
	out, n := Stretch([][]float32{in}, 1.0, 44100)

	require.Equal(t, len(in), n)
	assert.Equal(t, in, out[0])
}

func TestStretchIdentityWithinTolerance(t *testing.T) {
	t.Parallel()

	in := sineWave(440, 44100, 44100)
	out, n := Stretch([][]float32{in}, 1.0+IdentityTolerance/2, 44100)

	require.Equal(t, len(in), n)
	assert.Equal(t, in, out[0])
}

func TestStretchEmptyInput(t *testing.T) {
	t.Parallel()

	out, n := Stretch([][]float32{{}}, 1.5, 44100)
	assert.Equal(t, 0, n)
	assert.Empty(t, out[0])
}

func TestStretchShorterThanFrame(t *testing.T) {
	t.Parallel()

	in := sineWave(440, 44100, FrameSize/2)
	out, n := Stretch([][]float32{in}, 1.5, 44100)

	require.Equal(t, len(in), n)
	assert.Equal(t, in, out[0])
}

func TestStretchPreservesFrequencyWithinTolerance(t *testing.T) {
	t.Parallel()

	sampleRate := 44100
	freq := 440.0
	in := sineWave(freq, sampleRate, sampleRate*2)

	for _, tempo := range []float64{0.5, 0.75, 1.25, 2.0} {
		tempo := tempo
		t.Run("", func(t *testing.T) {
			t.Parallel()
			out, n := Stretch([][]float32{in}, tempo, sampleRate)
			require.Greater(t, n, 0)

			// Trim frame-edge transients before estimating frequency.
			trimmed := out[0][FrameSize : n-FrameSize]
			got := zeroCrossingFrequency(trimmed, sampleRate)
			assert.InDelta(t, freq, got, 5.0)
		})
	}
}

func TestStretchSharesOffsetAcrossChannels(t *testing.T) {
	t.Parallel()

	sampleRate := 44100
	left := sineWave(440, sampleRate, sampleRate)
	right := sineWave(440, sampleRate, sampleRate)

	out, n := Stretch([][]float32{left, right}, 1.3, sampleRate)
	require.Equal(t, 2, len(out))
	require.Equal(t, n, len(out[1]))

	// Identical input channels at identical tempo must stay identical,
	// which only holds if both channels used the same search offsets.
	assert.Equal(t, out[0], out[1])
}

func TestStretchOutputLengthApproximatesRatio(t *testing.T) {
	t.Parallel()

	sampleRate := 44100
	in := sineWave(220, sampleRate, sampleRate*3)

	out, n := Stretch([][]float32{in}, 1.5, sampleRate)
	expected := float64(len(in)) / 1.5
	assert.InDelta(t, expected, float64(n), float64(FrameSize))
	assert.Equal(t, n, len(out[0]))
}
