// Package wsola implements the Waveform-Similarity Overlap-Add time-stretch
// algorithm used to change playback tempo without affecting pitch.
package wsola

import "github.com/go-audio/audio"

// Buffer is a deinterleaved multi-channel sample buffer, one []float32 per
// channel, all of equal length. It mirrors the shape of go-audio/audio's
// decoded PCM buffers closely enough that a *audio.FloatBuffer can be
// converted with FromFloatBuffer/ToFloatBuffer at the package boundary,
// while keeping the stretcher's hot path free of go-audio's interleaved
// layout and integer/float conversions.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// NumChannels returns the channel count.
func (b Buffer) NumChannels() int { return len(b.Channels) }

// NumSamples returns the per-channel sample count, or 0 for an empty buffer.
func (b Buffer) NumSamples() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Clone returns an independent deep copy of b.
func (b Buffer) Clone() Buffer {
	out := Buffer{Channels: make([][]float32, len(b.Channels)), SampleRate: b.SampleRate}
	for i, ch := range b.Channels {
		cp := make([]float32, len(ch))
		copy(cp, ch)
		out.Channels[i] = cp
	}
	return out
}

// FromFloatBuffer deinterleaves a go-audio FloatBuffer into a wsola.Buffer.
func FromFloatBuffer(fb *audio.FloatBuffer) Buffer {
	format := fb.Format
	channels := 1
	sampleRate := 44100
	if format != nil {
		if format.NumChannels > 0 {
			channels = format.NumChannels
		}
		if format.SampleRate > 0 {
			sampleRate = format.SampleRate
		}
	}

	frames := len(fb.Data) / channels
	out := Buffer{Channels: make([][]float32, channels), SampleRate: sampleRate}
	for c := 0; c < channels; c++ {
		out.Channels[c] = make([]float32, frames)
	}
	for i, v := range fb.Data {
		c := i % channels
		f := i / channels
		if f < frames {
			out.Channels[c][f] = float32(v)
		}
	}
	return out
}

// ToFloatBuffer interleaves a wsola.Buffer back into a go-audio FloatBuffer.
func ToFloatBuffer(b Buffer) *audio.FloatBuffer {
	channels := b.NumChannels()
	frames := b.NumSamples()
	data := make([]float64, frames*channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			data[f*channels+c] = float64(b.Channels[c][f])
		}
	}
	return &audio.FloatBuffer{
		Data: data,
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  b.SampleRate,
		},
	}
}
