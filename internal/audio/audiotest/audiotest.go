// Package audiotest generates synthetic signals and wav fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"testing"

	"github.com/youpy/go-wav"
)

// Clicks returns a click track at bpm: short decaying noise bursts on every beat.
func Clicks(bpm, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	period := 60 / bpm * float64(sampleRate)
	clickLen := sampleRate / 50

	// deterministic pseudo-noise so tests are stable
	seed := uint32(1)
	for beat := 0.0; int(beat) < n; beat += period {
		start := int(beat)
		for i := 0; i < clickLen && start+i < n; i++ {
			seed = seed*1664525 + 1013904223
			noise := float64(seed>>8)/float64(1<<24)*2 - 1
			out[start+i] += 0.8 * noise * math.Exp(-float64(i)/float64(clickLen)*5)
		}
	}
	return out
}

// Tones sums sine waves at the given frequencies and amplitudes.
func Tones(freqs, amps []float64, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		for j, f := range freqs {
			out[i] += amps[j] * math.Sin(2*math.Pi*f*t)
		}
	}
	return out
}

// Note returns the frequency of a pitch class (0 = C) in octave 4.
func Note(pitchClass int) float64 {
	return 440 * math.Pow(2, float64(pitchClass-9)/12)
}

// WriteWAV writes mono 16-bit PCM samples to path.
func WriteWAV(t testing.TB, path string, samples []float64, sampleRate int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create wav: %v", err)
	}
	defer f.Close()

	writer := wav.NewWriter(f, uint32(len(samples)), 1, uint32(sampleRate), 16)
	frames := make([]wav.Sample, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		frames[i] = wav.Sample{Values: [2]int{int(s * 32767), 0}}
	}
	if err := writer.WriteSamples(frames); err != nil {
		t.Fatalf("failed to write wav samples: %v", err)
	}
}
