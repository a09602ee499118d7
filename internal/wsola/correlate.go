package wsola

// correlationScore computes a windowed dot product between two equal-length
// frames. Isolated from the WSOLA control flow so a future SIMD-accelerated
// implementation can replace it without touching findBestOffset or Stretch.
func correlationScore(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// findBestOffset searches input[centerStart-radius, centerStart+radius] for
// the frame of length frameSize whose windowed correlation with prevOutput
// is maximal, clamped so the candidate frame never runs past the channel
// bounds. Returns the chosen absolute start offset.
func findBestOffset(input []float32, centerStart, frameSize, radius int, prevOutput []float32, window []float32) int {
	if prevOutput == nil {
		return clampOffset(centerStart, frameSize, len(input))
	}

	lo := centerStart - radius
	hi := centerStart + radius

	bestOffset := clampOffset(centerStart, frameSize, len(input))
	bestScore := -1.0
	found := false

	windowed := make([]float32, frameSize)

	for offset := lo; offset <= hi; offset++ {
		start := clampOffset(offset, frameSize, len(input))
		if start+frameSize > len(input) {
			continue
		}
		for i := 0; i < frameSize; i++ {
			windowed[i] = input[start+i] * window[i]
		}
		score := correlationScore(windowed, prevOutput)
		if !found || score > bestScore {
			bestScore = score
			bestOffset = start
			found = true
		}
	}
	return bestOffset
}

func clampOffset(offset, frameSize, total int) int {
	if offset < 0 {
		return 0
	}
	if offset+frameSize > total {
		maxStart := total - frameSize
		if maxStart < 0 {
			return 0
		}
		return maxStart
	}
	return offset
}
