package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Chroma frequency range: C1 up to the caller's limit.
const chromaMinFreq = 32.70

// ChromaOptions restricts which bins contribute to the pitch-class profile.
type ChromaOptions struct {
	MaxFreq float64
}

// Chroma folds the power spectrum of every frame into 12 pitch classes
// (0 = C) and normalizes each frame by its maximum. Silent frames stay zero.
func Chroma(spec *Spectrogram, opts ChromaOptions) [][12]float64 {
	maxFreq := opts.MaxFreq
	nyquist := float64(spec.SampleRate) / 2
	if maxFreq <= 0 || maxFreq > nyquist {
		maxFreq = nyquist
	}

	// precompute the pitch class of every usable bin
	classes := make([]int, spec.Bins())
	for k := range classes {
		f := spec.BinFrequency(k)
		if f < chromaMinFreq || f > maxFreq {
			classes[k] = -1
			continue
		}
		classes[k] = PitchClass(f)
	}

	out := make([][12]float64, spec.Frames())
	for t, mags := range spec.Magnitude {
		var frame [12]float64
		for k, m := range mags {
			if k >= len(classes) || classes[k] < 0 {
				continue
			}
			frame[classes[k]] += m * m
		}
		if peak := floats.Max(frame[:]); peak > 0 {
			for i := range frame {
				frame[i] /= peak
			}
		}
		out[t] = frame
	}
	return out
}

// PitchClass maps a frequency to the nearest equal-tempered pitch class with
// A4 = 440 Hz, where 0 = C.
func PitchClass(freq float64) int {
	semitones := int(math.Round(12 * math.Log2(freq/440)))
	return ((semitones+9)%12 + 12) % 12
}

// MeanChroma averages per-frame chroma over time.
func MeanChroma(frames [][12]float64) [12]float64 {
	var mean [12]float64
	if len(frames) == 0 {
		return mean
	}
	for _, f := range frames {
		for i, v := range f {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(frames))
	}
	return mean
}

// Transpose reshapes chroma to [pitchClass][frame], the layout librosa
// returns.
func Transpose(frames [][12]float64) [][]float64 {
	out := make([][]float64, 12)
	for pc := range out {
		row := make([]float64, len(frames))
		for t, f := range frames {
			row[t] = f[pc]
		}
		out[pc] = row
	}
	return out
}
