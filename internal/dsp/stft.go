// Package dsp implements the spectral features used by the analysis
// endpoints: STFT, mel onset strength, tempo and beat estimation, chroma and
// harmonic/percussive separation.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFrameSize = 2048
	DefaultHopLength = 512
)

// Spectrogram holds STFT magnitudes indexed as [frame][bin].
type Spectrogram struct {
	Magnitude  [][]float64
	SampleRate int
	FrameSize  int
	HopLength  int
}

// Frames returns the number of analysis frames.
func (s *Spectrogram) Frames() int {
	return len(s.Magnitude)
}

// Bins returns the number of frequency bins per frame.
func (s *Spectrogram) Bins() int {
	if len(s.Magnitude) == 0 {
		return s.FrameSize/2 + 1
	}
	return len(s.Magnitude[0])
}

// BinFrequency returns the center frequency of bin k in Hz.
func (s *Spectrogram) BinFrequency(k int) float64 {
	return float64(k) * float64(s.SampleRate) / float64(s.FrameSize)
}

// FrameTime returns the time in seconds at the center of frame i.
func (s *Spectrogram) FrameTime(i int) float64 {
	return float64(i*s.HopLength) / float64(s.SampleRate)
}

// STFT computes a centered short-time Fourier transform with a periodic
// Hann window. The signal is reflect-padded by half a frame on both sides so
// frame i is centered on sample i*hop.
func STFT(samples []float64, sampleRate, frameSize, hop int) *Spectrogram {
	spec := &Spectrogram{
		SampleRate: sampleRate,
		FrameSize:  frameSize,
		HopLength:  hop,
	}
	if len(samples) == 0 {
		return spec
	}

	padded := padCenter(samples, frameSize/2)
	window := hann(frameSize)
	fft := fourier.NewFFT(frameSize)

	nFrames := 1 + (len(padded)-frameSize)/hop
	frame := make([]float64, frameSize)
	coeffs := make([]complex128, frameSize/2+1)
	spec.Magnitude = make([][]float64, nFrames)

	for i := 0; i < nFrames; i++ {
		offset := i * hop
		for j := range frame {
			frame[j] = padded[offset+j] * window[j]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		mags := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mags[k] = cmplx.Abs(c)
		}
		spec.Magnitude[i] = mags
	}

	return spec
}

// padCenter reflect-pads x by n samples on both sides, falling back to zero
// padding when x is too short to reflect.
func padCenter(x []float64, n int) []float64 {
	out := make([]float64, len(x)+2*n)
	copy(out[n:], x)
	if len(x) <= n {
		return out
	}
	for i := 1; i <= n; i++ {
		out[n-i] = x[i]
		out[n+len(x)-1+i] = x[len(x)-1-i]
	}
	return out
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
