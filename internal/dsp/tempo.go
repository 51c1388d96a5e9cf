package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// TempoOptions tunes the tempo estimator. Zero values fall back to defaults.
type TempoOptions struct {
	StartBPM float64 // center of the log-normal tempo prior
	StdBPM   float64 // prior width in octaves
	MaxTempo float64 // tempos above this are never returned
	ACSize   float64 // longest autocorrelation lag in seconds
}

// DefaultTempoOptions mirrors librosa.beat.tempo.
var DefaultTempoOptions = TempoOptions{
	StartBPM: 120,
	StdBPM:   1,
	MaxTempo: 320,
	ACSize:   8,
}

func (o TempoOptions) withDefaults() TempoOptions {
	if o.StartBPM <= 0 {
		o.StartBPM = DefaultTempoOptions.StartBPM
	}
	if o.StdBPM <= 0 {
		o.StdBPM = DefaultTempoOptions.StdBPM
	}
	if o.MaxTempo <= 0 {
		o.MaxTempo = DefaultTempoOptions.MaxTempo
	}
	if o.ACSize <= 0 {
		o.ACSize = DefaultTempoOptions.ACSize
	}
	return o
}

// EstimateTempo returns the dominant tempo in BPM of an onset envelope sampled
// every hop samples. The autocorrelation of the envelope is weighted by a
// log-normal prior around StartBPM. An envelope without onsets has no tempo
// and yields 0.
func EstimateTempo(env []float64, sampleRate, hop int, opts TempoOptions) float64 {
	opts = opts.withDefaults()
	if len(env) == 0 || floats.Max(env) <= 0 {
		return 0
	}

	frameRate := float64(sampleRate) / float64(hop)
	maxLag := int(math.Round(opts.ACSize * frameRate))
	if maxLag > len(env)-1 {
		maxLag = len(env) - 1
	}
	if maxLag < 1 {
		return opts.StartBPM
	}

	ac := autocorrelate(env, maxLag)
	if ac[0] > 0 {
		norm := ac[0]
		for i := range ac {
			ac[i] /= norm
		}
	}

	best := -1
	bestScore := math.Inf(-1)
	for lag := 1; lag <= maxLag; lag++ {
		bpm := 60 * frameRate / float64(lag)
		if bpm > opts.MaxTempo {
			continue
		}
		prior := -0.5 * math.Pow((math.Log2(bpm)-math.Log2(opts.StartBPM))/opts.StdBPM, 2)
		score := math.Log1p(1e6*math.Max(0, ac[lag])) + prior
		if score > bestScore {
			bestScore = score
			best = lag
		}
	}
	if best < 0 {
		return opts.StartBPM
	}

	return 60 * frameRate / float64(best)
}

// autocorrelate returns the raw autocorrelation of x for lags 0..maxLag.
func autocorrelate(x []float64, maxLag int) []float64 {
	ac := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag; lag++ {
		var sum float64
		for i := lag; i < len(x); i++ {
			sum += x[i] * x[i-lag]
		}
		ac[lag] = sum
	}
	return ac
}
