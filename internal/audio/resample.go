package audio

import "math"

const (
	sincZeroCrossings = 16
	sincPrecision     = 256
)

// Resample converts x from one sample rate to another with windowed-sinc
// interpolation. When downsampling the kernel is widened so that it also acts
// as the anti-aliasing filter.
func Resample(x []float64, from, to int) []float64 {
	if from == to || from <= 0 || to <= 0 || len(x) == 0 {
		return x
	}

	ratio := float64(to) / float64(from)
	cutoff := math.Min(1, ratio)
	halfWidth := float64(sincZeroCrossings) / cutoff

	table := kernelTable(halfWidth, cutoff)
	n := int(math.Ceil(float64(len(x)) * ratio))
	out := make([]float64, n)

	for i := range out {
		t := float64(i) / ratio
		lo := int(math.Ceil(t - halfWidth))
		hi := int(math.Floor(t + halfWidth))
		if lo < 0 {
			lo = 0
		}
		if hi > len(x)-1 {
			hi = len(x) - 1
		}

		var acc float64
		for j := lo; j <= hi; j++ {
			acc += x[j] * lookupKernel(table, math.Abs(t-float64(j)))
		}
		out[i] = acc
	}

	return out
}

// kernelTable samples a Hann-windowed sinc over [0, halfWidth].
func kernelTable(halfWidth, cutoff float64) []float64 {
	size := int(math.Ceil(halfWidth*sincPrecision)) + 2
	table := make([]float64, size)
	for i := range table {
		d := float64(i) / sincPrecision
		if d > halfWidth {
			continue
		}
		w := 0.5 + 0.5*math.Cos(math.Pi*d/halfWidth)
		table[i] = cutoff * sinc(cutoff*d) * w
	}
	return table
}

func lookupKernel(table []float64, d float64) float64 {
	pos := d * sincPrecision
	i := int(pos)
	if i+1 >= len(table) {
		return 0
	}
	frac := pos - float64(i)
	return table[i]*(1-frac) + table[i+1]*frac
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
