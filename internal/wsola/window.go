package wsola

import (
	"math"
	"sync"
)

// hannCache memoizes Hann windows by length; every chunk at a given frame
// size reuses the same coefficients instead of recomputing cosines per call.
var hannCache sync.Map // map[int][]float32

// hannWindow returns the cached Hann window of the given length, computing
// and storing it on first use.
func hannWindow(n int) []float32 {
	if n <= 0 {
		return nil
	}
	if cached, ok := hannCache.Load(n); ok {
		return cached.([]float32)
	}

	w := make([]float32, n)
	if n == 1 {
		w[0] = 1
	} else {
		denom := float64(n - 1)
		for i := 0; i < n; i++ {
			w[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/denom)))
		}
	}
	actual, _ := hannCache.LoadOrStore(n, w)
	return actual.([]float32)
}
