package audio

import "math"

// DefaultSampleRate is the analysis rate used by librosa.load.
const DefaultSampleRate = 22050

// Signal is mono PCM in the range [-1, 1].
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// TrimEdges drops the given number of seconds from both ends of the signal
// when the signal is longer than minDuration seconds. Shorter signals are
// returned unchanged.
func (s *Signal) TrimEdges(seconds, minDuration float64) *Signal {
	n := int(math.Round(seconds * float64(s.SampleRate)))
	if n <= 0 || s.Duration() <= minDuration || 2*n >= len(s.Samples) {
		return s
	}
	return &Signal{
		Samples:    s.Samples[n : len(s.Samples)-n],
		SampleRate: s.SampleRate,
	}
}
