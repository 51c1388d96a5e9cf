package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultMelBands = 128
	topDB           = 80.0
	amin            = 1e-10
)

// MelFilterBank builds Slaney-style triangular mel filters with area
// normalization, shaped [band][bin].
func MelFilterBank(sampleRate, frameSize, nMels int, fMin, fMax float64) [][]float64 {
	if fMax <= 0 {
		fMax = float64(sampleRate) / 2
	}
	nBins := frameSize/2 + 1

	melMin, melMax := hzToMel(fMin), hzToMel(fMax)
	points := make([]float64, nMels+2)
	for i := range points {
		points[i] = melToHz(melMin + (melMax-melMin)*float64(i)/float64(nMels+1))
	}

	fb := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		lower, center, upper := points[m], points[m+1], points[m+2]
		enorm := 2 / (upper - lower)
		row := make([]float64, nBins)
		for k := range row {
			f := float64(k) * float64(sampleRate) / float64(frameSize)
			up := (f - lower) / (center - lower)
			down := (upper - f) / (upper - center)
			w := math.Max(0, math.Min(up, down))
			row[k] = w * enorm
		}
		fb[m] = row
	}
	return fb
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
)

var (
	melMinLogMel = melMinLogHz / melFSp
	melLogStep   = math.Log(6.4) / 27
)

func hzToMel(f float64) float64 {
	if f < melMinLogHz {
		return f / melFSp
	}
	return melMinLogMel + math.Log(f/melMinLogHz)/melLogStep
}

func melToHz(m float64) float64 {
	if m < melMinLogMel {
		return m * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(m-melMinLogMel))
}

// MelPowerDB projects the power spectrum onto the filter bank and converts it
// to decibels, clipped to topDB below the peak.
func MelPowerDB(spec *Spectrogram, fb [][]float64) [][]float64 {
	out := make([][]float64, spec.Frames())
	peak := math.Inf(-1)

	// filters are triangles; only visit their support
	lo := make([]int, len(fb))
	hi := make([]int, len(fb))
	for m, filter := range fb {
		lo[m], hi[m] = len(filter), 0
		for k, w := range filter {
			if w > 0 {
				lo[m] = min(lo[m], k)
				hi[m] = k + 1
			}
		}
	}

	for t, mags := range spec.Magnitude {
		row := make([]float64, len(fb))
		for m, filter := range fb {
			var energy float64
			for k := lo[m]; k < hi[m] && k < len(mags); k++ {
				energy += filter[k] * mags[k] * mags[k]
			}
			db := 10 * math.Log10(math.Max(amin, energy))
			row[m] = db
			if db > peak {
				peak = db
			}
		}
		out[t] = row
	}

	floor := peak - topDB
	for _, row := range out {
		for m := range row {
			if row[m] < floor {
				row[m] = floor
			}
		}
	}
	return out
}

// OnsetStrength computes spectral flux on the mel spectrogram: the mean over
// bands of the positive first difference in time. The returned envelope has
// one value per spectrogram frame; the first value is zero.
func OnsetStrength(spec *Spectrogram) []float64 {
	n := spec.Frames()
	env := make([]float64, n)
	if n < 2 {
		return env
	}

	fb := MelFilterBank(spec.SampleRate, spec.FrameSize, DefaultMelBands, 0, 0)
	melDB := MelPowerDB(spec, fb)

	diff := make([]float64, len(fb))
	for t := 1; t < n; t++ {
		for m := range diff {
			diff[m] = math.Max(0, melDB[t][m]-melDB[t-1][m])
		}
		env[t] = floats.Sum(diff) / float64(len(diff))
	}
	return env
}
