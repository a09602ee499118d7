package wsola

import "math"

const (
	// FrameSize is the analysis/synthesis frame length in samples.
	FrameSize = 1024
	// SynthesisHop is the fixed hop between successive output frames.
	SynthesisHop = FrameSize / 4
	// SearchRadius bounds how far the analysis search may shift from the
	// frame's nominal input position while looking for the best-matching
	// offset.
	SearchRadius = 256
	// IdentityTolerance is the tempo deviation from 1.0 below which Stretch
	// returns an exact copy instead of running WSOLA.
	IdentityTolerance = 5e-3
)

// Stretch time-stretches a multi-channel buffer by tempo (>1 = faster/
// shorter, <1 = slower/longer) while preserving pitch, using WSOLA. Channel
// buffers must all share the same length. Returns the stretched channels and
// the per-channel output sample count.
func Stretch(channels [][]float32, tempo float64, sampleRate int) ([][]float32, int) {
	if len(channels) == 0 {
		return nil, 0
	}
	inputLen := len(channels[0])
	if inputLen == 0 {
		return emptyLike(channels), 0
	}

	if math.Abs(tempo-1.0) < IdentityTolerance {
		return identityCopy(channels), inputLen
	}

	if inputLen < FrameSize {
		return identityCopy(channels), inputLen
	}

	analysisHop := int(math.Round(float64(FrameSize) / (4 * tempo)))
	if analysisHop < 1 {
		analysisHop = 1
	}

	outputLen := int(math.Ceil(float64(inputLen) / tempo))
	// Allocate with a frame of margin; overlap-add from the final analysis
	// frame can extend slightly past the nominal output length.
	alloc := outputLen + FrameSize
	out := make([][]float32, len(channels))
	for c := range channels {
		out[c] = make([]float32, alloc)
	}
	weight := make([]float32, alloc)

	window := hannWindow(FrameSize)

	var prevWindowed0 []float32
	synthesisPos := 0
	analysisPos := 0
	frame := make([]float32, FrameSize)

	for analysisPos < inputLen {
		offset := findBestOffset(channels[0], analysisPos, FrameSize, SearchRadius, prevWindowed0, window)
		if offset+FrameSize > inputLen {
			offset = inputLen - FrameSize
			if offset < 0 {
				break
			}
		}

		for c := range channels {
			src := channels[c][offset : offset+FrameSize]
			for i := 0; i < FrameSize; i++ {
				frame[i] = src[i] * window[i]
			}
			addInto(out[c], synthesisPos, frame)
		}
		addWeight(weight, synthesisPos, window)

		if prevWindowed0 == nil {
			prevWindowed0 = make([]float32, FrameSize)
		}
		for i := 0; i < FrameSize; i++ {
			prevWindowed0[i] = channels[0][offset+i] * window[i]
		}

		synthesisPos += SynthesisHop
		analysisPos += analysisHop
	}

	normalize(out, weight)

	if outputLen > alloc {
		outputLen = alloc
	}
	for c := range out {
		out[c] = out[c][:outputLen]
	}
	return out, outputLen
}

func identityCopy(channels [][]float32) [][]float32 {
	out := make([][]float32, len(channels))
	for i, ch := range channels {
		cp := make([]float32, len(ch))
		copy(cp, ch)
		out[i] = cp
	}
	return out
}

func emptyLike(channels [][]float32) [][]float32 {
	out := make([][]float32, len(channels))
	for i := range channels {
		out[i] = []float32{}
	}
	return out
}

func addInto(dst []float32, at int, frame []float32) {
	for i, v := range frame {
		idx := at + i
		if idx >= len(dst) {
			break
		}
		dst[idx] += v
	}
}

func addWeight(dst []float32, at int, w []float32) {
	for i, v := range w {
		idx := at + i
		if idx >= len(dst) {
			break
		}
		dst[idx] += v
	}
}

// normalize divides the overlap-added output by the accumulated window
// weight at each sample, so that uniform window overlap does not leave
// amplitude bumps at frame boundaries.
func normalize(out [][]float32, weight []float32) {
	for i, w := range weight {
		if w <= 1e-6 {
			continue
		}
		for c := range out {
			out[c][i] /= w
		}
	}
}
