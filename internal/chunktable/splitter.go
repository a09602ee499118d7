package chunktable

// Split partitions a source of totalSamples at sampleRate into a Table of
// chunks, each chunkDurationSec long (nominal, excluding overlap), sharing
// overlapDurationSec of overlap with each neighbour. The nominal ranges tile
// [0, totalSamples) exactly: for consecutive chunks,
// prev.InputEndSample - prev.OverlapAfter == next.InputStartSample + next.OverlapBefore.
func Split(totalSamples, sampleRate int, chunkDurationSec, overlapDurationSec float64) Table {
	table := Table{SampleRate: sampleRate, TotalSamples: totalSamples}
	if totalSamples <= 0 || sampleRate <= 0 || chunkDurationSec <= 0 {
		return table
	}

	nominalLen := int(chunkDurationSec * float64(sampleRate))
	if nominalLen <= 0 {
		nominalLen = 1
	}
	overlap := int(overlapDurationSec * float64(sampleRate))
	if overlap < 0 {
		overlap = 0
	}

	numChunks := (totalSamples + nominalLen - 1) / nominalLen
	chunks := make([]*Chunk, 0, numChunks)

	nominalStart := 0
	index := 0
	for nominalStart < totalSamples {
		nominalEnd := nominalStart + nominalLen
		if nominalEnd > totalSamples {
			nominalEnd = totalSamples
		}

		overlapBefore := overlap
		if index == 0 {
			overlapBefore = 0
		}
		overlapAfter := overlap
		isLast := nominalEnd >= totalSamples
		if isLast {
			overlapAfter = 0
		}

		start := nominalStart - overlapBefore
		if start < 0 {
			start = 0
		}
		end := nominalEnd + overlapAfter
		if end > totalSamples {
			end = totalSamples
		}

		chunks = append(chunks, &Chunk{
			Index:            index,
			InputStartSample: start,
			InputEndSample:   end,
			OverlapBefore:    nominalStart - start,
			OverlapAfter:     end - nominalEnd,
			State:            StatePending,
		})

		nominalStart = nominalEnd
		index++
	}

	table.Chunks = chunks
	return table
}
