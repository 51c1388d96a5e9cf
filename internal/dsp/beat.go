package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultTightness controls how strictly beats follow the estimated period.
const DefaultTightness = 100.0

// TrackBeats picks beat frames from an onset envelope by dynamic programming
// (Ellis 2007): every frame accumulates the best score of a predecessor about
// one period earlier, penalized by the log-ratio of the actual gap to the
// period. Weak beats at the start and end are trimmed. Returned frames are
// increasing.
func TrackBeats(env []float64, sampleRate, hop int, bpm, tightness float64) []int {
	if len(env) == 0 || bpm <= 0 || floats.Max(env) == 0 {
		return nil
	}
	if tightness <= 0 {
		tightness = DefaultTightness
	}

	period := math.Round(60 * float64(sampleRate) / float64(hop) / bpm)
	if period < 1 {
		period = 1
	}

	local := localScore(normalizeOnsets(env), period)
	backlink, cumscore := beatDP(local, period, tightness)

	tail := lastBeat(cumscore)
	beats := []int{tail}
	for backlink[beats[len(beats)-1]] >= 0 {
		beats = append(beats, backlink[beats[len(beats)-1]])
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}

	return trimBeats(local, beats)
}

// BeatTimes converts beat frames to seconds.
func BeatTimes(frames []int, sampleRate, hop int) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = float64(f*hop) / float64(sampleRate)
	}
	return out
}

// TempoFromBeats returns 60 over the median inter-beat interval, or 0 when
// fewer than two beats are given.
func TempoFromBeats(times []float64) float64 {
	if len(times) < 2 {
		return 0
	}
	intervals := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i] - times[i-1]
	}
	sort.Float64s(intervals)
	median := stat.Quantile(0.5, stat.Empirical, intervals, nil)
	if median <= 0 {
		return 0
	}
	return 60 / median
}

func normalizeOnsets(env []float64) []float64 {
	std := stat.StdDev(env, nil)
	out := make([]float64, len(env))
	for i, v := range env {
		out[i] = v / (std + 1e-12)
	}
	return out
}

// localScore smooths the onsets with a Gaussian spanning one period each way.
func localScore(onsets []float64, period float64) []float64 {
	p := int(period)
	window := make([]float64, 2*p+1)
	for i := range window {
		x := float64(i-p) * 32 / period
		window[i] = math.Exp(-0.5 * x * x)
	}

	out := make([]float64, len(onsets))
	for i := range onsets {
		var sum float64
		for j, w := range window {
			k := i + j - p
			if k < 0 || k >= len(onsets) {
				continue
			}
			sum += onsets[k] * w
		}
		out[i] = sum
	}
	return out
}

func beatDP(local []float64, period, tightness float64) ([]int, []float64) {
	backlink := make([]int, len(local))
	cumscore := make([]float64, len(local))

	// predecessor offsets from -2 periods to -period/2
	start := -int(2 * period)
	end := -int(math.Round(period / 2))
	offsets := make([]int, 0, end-start+1)
	txwt := make([]float64, 0, end-start+1)
	for o := start; o <= end; o++ {
		offsets = append(offsets, o)
		r := math.Log(-float64(o) / period)
		txwt = append(txwt, -tightness*r*r)
	}

	threshold := 0.01 * floats.Max(local)
	firstBeat := true
	for i, score := range local {
		bestIdx := -1
		best := math.Inf(-1)
		for j, o := range offsets {
			candidate := txwt[j]
			if prev := i + o; prev >= 0 {
				candidate += cumscore[prev]
			}
			if candidate > best {
				best = candidate
				bestIdx = j
			}
		}

		cumscore[i] = score + best
		if firstBeat && score < threshold {
			backlink[i] = -1
		} else {
			prev := i + offsets[bestIdx]
			if prev < 0 {
				prev = -1
			}
			backlink[i] = prev
			firstBeat = false
		}
	}

	return backlink, cumscore
}

// lastBeat returns the last local maximum of cumscore that is above half the
// median of all local maxima.
func lastBeat(cumscore []float64) int {
	var peaks []float64
	isPeak := make([]bool, len(cumscore))
	for i := range cumscore {
		left := i > 0 && cumscore[i] > cumscore[i-1]
		right := i == len(cumscore)-1 || cumscore[i] >= cumscore[i+1]
		if left && right {
			isPeak[i] = true
			peaks = append(peaks, cumscore[i])
		}
	}
	if len(peaks) == 0 {
		return len(cumscore) - 1
	}

	sort.Float64s(peaks)
	median := stat.Quantile(0.5, stat.Empirical, peaks, nil)

	tail := len(cumscore) - 1
	for i := len(cumscore) - 1; i >= 0; i-- {
		if isPeak[i] && 2*cumscore[i] > median {
			tail = i
			break
		}
	}
	return tail
}

// trimBeats drops leading and trailing beats whose smoothed onset score is
// below half the RMS of all beat scores.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}

	scores := make([]float64, len(beats))
	for i, b := range beats {
		scores[i] = local[b]
	}
	window := []float64{0.5, 1, 0.5}
	smooth := make([]float64, len(scores))
	half := len(window) / 2
	for i := range scores {
		var sum float64
		for j, w := range window {
			k := i + j - half
			if k < 0 || k >= len(scores) {
				continue
			}
			sum += scores[k] * w
		}
		smooth[i] = sum
	}

	var sq float64
	for _, v := range smooth {
		sq += v * v
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(smooth)))

	first, last := -1, -1
	for i, v := range smooth {
		if v >= threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	return beats[first:last]
}
