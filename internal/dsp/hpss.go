package dsp

import "math"

// DefaultHPSSKernel is the median filter length used for both directions.
const DefaultHPSSKernel = 31

// Harmonic returns the harmonic part of a magnitude spectrogram using median
// filtering: sustained energy is smooth along time, transients are smooth
// along frequency. Each bin is scaled by the Wiener-style soft mask
// H²/(H²+P²). Only bins below maxBin are kept; maxBin <= 0 keeps all bins.
func Harmonic(spec *Spectrogram, kernel, maxBin int) *Spectrogram {
	if kernel <= 0 {
		kernel = DefaultHPSSKernel
	}
	bins := spec.Bins()
	if maxBin > 0 && maxBin < bins {
		bins = maxBin
	}
	frames := spec.Frames()

	out := &Spectrogram{
		Magnitude:  make([][]float64, frames),
		SampleRate: spec.SampleRate,
		FrameSize:  spec.FrameSize,
		HopLength:  spec.HopLength,
	}
	if frames == 0 {
		return out
	}

	half := kernel / 2
	scratch := make([]float64, kernel)

	// harmonic estimate: median over time for each bin
	harm := make([][]float64, frames)
	for t := range harm {
		harm[t] = make([]float64, bins)
	}
	column := make([]float64, frames)
	for k := 0; k < bins; k++ {
		for t := 0; t < frames; t++ {
			column[t] = spec.Magnitude[t][k]
		}
		for t := 0; t < frames; t++ {
			harm[t][k] = windowMedian(column, t, half, scratch)
		}
	}

	for t := 0; t < frames; t++ {
		row := spec.Magnitude[t][:bins]
		masked := make([]float64, bins)
		for k := 0; k < bins; k++ {
			p := windowMedian(row, k, half, scratch)
			h := harm[t][k]
			denom := h*h + p*p
			if denom > 0 {
				masked[k] = row[k] * (h * h / denom)
			}
		}
		out.Magnitude[t] = masked
	}

	return out
}

// windowMedian returns the median of x[i-half..i+half] with reflected edges.
func windowMedian(x []float64, i, half int, scratch []float64) float64 {
	n := 2*half + 1
	buf := scratch[:n]
	for j := 0; j < n; j++ {
		buf[j] = x[reflectIndex(i+j-half, len(x))]
	}
	return quickselect(buf, half)
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i = ((i % period) + period) % period
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// quickselect partially sorts buf in place and returns its k-th smallest value.
func quickselect(buf []float64, k int) float64 {
	lo, hi := 0, len(buf)-1
	for lo < hi {
		pivot := buf[(lo+hi)/2]
		i, j := lo, hi
		for i <= j {
			for buf[i] < pivot {
				i++
			}
			for buf[j] > pivot {
				j--
			}
			if i <= j {
				buf[i], buf[j] = buf[j], buf[i]
				i++
				j--
			}
		}
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return buf[k]
		}
	}
	return buf[k]
}

// HarmonicRatio reports the share of spectral energy kept by Harmonic, useful
// for logging how tonal a recording is.
func HarmonicRatio(full, harmonic *Spectrogram) float64 {
	var total, kept float64
	for t := range harmonic.Magnitude {
		for k, v := range harmonic.Magnitude[t] {
			m := full.Magnitude[t][k]
			total += m * m
			kept += v * v
		}
	}
	if total == 0 {
		return 0
	}
	return math.Min(1, kept/total)
}
