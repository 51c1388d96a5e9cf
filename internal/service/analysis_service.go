package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/cache"
	"github.com/bandbridge/audio/internal/config"
	"github.com/bandbridge/audio/internal/dsp"
	"github.com/bandbridge/audio/internal/model"
	"github.com/bandbridge/audio/internal/theory"
)

// ErrNoTempo is returned when the onset envelope carries no usable rhythm.
var ErrNoTempo = errors.New("no tempo detected")

// Analyzer defines the analyses that run on an audio file
type Analyzer interface {
	Tempo(ctx context.Context, path string) (*model.TempoResponse, error)
	Key(ctx context.Context, path string) (*model.KeyResponse, error)
	Chroma(ctx context.Context, path string) (*model.ChromaResponse, error)
	Beats(ctx context.Context, path string) (*model.BeatsResponse, error)
	BeatTempo(ctx context.Context, path string) (*model.TempoResponse, error)
	LoopTempo(ctx context.Context, path string) (*model.LoopTempoResponse, error)
	Metadata(ctx context.Context, path string) (*model.MetadataResponse, error)
}

// AnalysisService runs the DSP pipeline on decoded audio and caches results
// by file content.
type AnalysisService struct {
	decoder *audio.Decoder
	cfg     config.AnalysisConfig
	cache   *cache.ResultCache
}

// NewAnalysisService creates the service. A nil cache disables caching.
func NewAnalysisService(decoder *audio.Decoder, cfg *config.AnalysisConfig, resultCache *cache.ResultCache) *AnalysisService {
	return &AnalysisService{
		decoder: decoder,
		cfg:     *cfg,
		cache:   resultCache,
	}
}

// cached runs compute unless a result for the same file content and analysis
// is already stored.
func cached[T any](ctx context.Context, c *cache.ResultCache, kind model.AnalysisKind, path string, compute func() (*T, error)) (*T, error) {
	var digest string
	if c != nil {
		d, err := cache.Digest(path)
		if err != nil {
			return nil, err
		}
		digest = d

		var hit T
		if c.Get(ctx, string(kind), digest, &hit) {
			log.Debugf("cache hit for %s of %s", kind, filepath.Base(path))
			return &hit, nil
		}
	}

	result, err := compute()
	if err != nil {
		return nil, err
	}

	if c != nil {
		if err := c.Set(ctx, string(kind), digest, result); err != nil {
			log.Debugf("failed to cache %s: %v", kind, err)
		}
	}
	return result, nil
}

// onsetEnvelope decodes the file and returns its onset strength, trimming the
// edges of long recordings where intros and outros skew the estimate.
func (s *AnalysisService) onsetEnvelope(ctx context.Context, path string, trim bool) ([]float64, int, error) {
	sig, err := s.decoder.Decode(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if trim && s.cfg.TrimSeconds > 0 {
		sig = sig.TrimEdges(s.cfg.TrimSeconds, 4*s.cfg.TrimSeconds)
	}

	spec := dsp.STFT(sig.Samples, sig.SampleRate, dsp.DefaultFrameSize, dsp.DefaultHopLength)
	return dsp.OnsetStrength(spec), sig.SampleRate, nil
}

func (s *AnalysisService) tempoOptions() dsp.TempoOptions {
	opts := dsp.DefaultTempoOptions
	if s.cfg.StartBPM > 0 {
		opts.StartBPM = s.cfg.StartBPM
	}
	return opts
}

// Tempo estimates the global tempo in BPM. The raw estimate is scaled by the
// configured correction factor and rounded to a whole BPM unless rounding is
// disabled.
func (s *AnalysisService) Tempo(ctx context.Context, path string) (*model.TempoResponse, error) {
	return cached(ctx, s.cache, model.AnalysisTempo, path, func() (*model.TempoResponse, error) {
		env, sr, err := s.onsetEnvelope(ctx, path, true)
		if err != nil {
			return nil, err
		}

		bpm := dsp.EstimateTempo(env, sr, dsp.DefaultHopLength, s.tempoOptions())
		if s.cfg.CorrectionFactor > 0 {
			bpm *= s.cfg.CorrectionFactor
		}
		if s.cfg.RoundTempo {
			bpm = math.Round(bpm)
		}
		if bpm <= 0 {
			return nil, ErrNoTempo
		}

		log.Debugf("tempo of %s: %.2f", filepath.Base(path), bpm)
		return &model.TempoResponse{Tempo: bpm}, nil
	})
}

// Key estimates the tonal center and mode from the harmonic part of the
// recording.
func (s *AnalysisService) Key(ctx context.Context, path string) (*model.KeyResponse, error) {
	return cached(ctx, s.cache, model.AnalysisKey, path, func() (*model.KeyResponse, error) {
		sig, err := s.decoder.Decode(ctx, path)
		if err != nil {
			return nil, err
		}

		spec := dsp.STFT(sig.Samples, sig.SampleRate, dsp.DefaultFrameSize, dsp.DefaultHopLength)

		// bins above the chroma range never contribute, so skip separating them
		maxBin := 0
		if s.cfg.ChromaMaxFreq > 0 {
			maxBin = int(s.cfg.ChromaMaxFreq*float64(spec.FrameSize)/float64(spec.SampleRate)) + 2
		}
		harmonic := dsp.Harmonic(spec, dsp.DefaultHPSSKernel, maxBin)
		if log.GetLevel() == "trace" {
			log.Tracef("harmonic energy ratio of %s: %.3f", filepath.Base(path), dsp.HarmonicRatio(spec, harmonic))
		}

		chroma := dsp.Chroma(harmonic, dsp.ChromaOptions{MaxFreq: s.cfg.ChromaMaxFreq})
		key, mode := theory.EstimateKey(dsp.MeanChroma(chroma))

		log.Debugf("key of %s: %s %s", filepath.Base(path), key, mode)
		return &model.KeyResponse{Key: key, Mode: string(mode)}, nil
	})
}

// Chroma returns the per-frame pitch class profile shaped [12][frames].
func (s *AnalysisService) Chroma(ctx context.Context, path string) (*model.ChromaResponse, error) {
	return cached(ctx, s.cache, model.AnalysisChroma, path, func() (*model.ChromaResponse, error) {
		sig, err := s.decoder.Decode(ctx, path)
		if err != nil {
			return nil, err
		}
		spec := dsp.STFT(sig.Samples, sig.SampleRate, dsp.DefaultFrameSize, dsp.DefaultHopLength)
		return &model.ChromaResponse{
			Chroma: dsp.Transpose(dsp.Chroma(spec, dsp.ChromaOptions{})),
		}, nil
	})
}

// Beats tracks beat positions over the whole recording, in seconds.
func (s *AnalysisService) Beats(ctx context.Context, path string) (*model.BeatsResponse, error) {
	return cached(ctx, s.cache, model.AnalysisBeats, path, func() (*model.BeatsResponse, error) {
		times, err := s.beatTimes(ctx, path)
		if err != nil {
			return nil, err
		}
		return &model.BeatsResponse{Beats: times}, nil
	})
}

// BeatTempo derives an unrounded tempo from the median inter-beat interval.
func (s *AnalysisService) BeatTempo(ctx context.Context, path string) (*model.TempoResponse, error) {
	return cached(ctx, s.cache, model.AnalysisBeatTempo, path, func() (*model.TempoResponse, error) {
		times, err := s.beatTimes(ctx, path)
		if err != nil {
			return nil, err
		}
		bpm := dsp.TempoFromBeats(times)
		if bpm <= 0 {
			return nil, ErrNoTempo
		}
		return &model.TempoResponse{Tempo: bpm}, nil
	})
}

func (s *AnalysisService) beatTimes(ctx context.Context, path string) ([]float64, error) {
	env, sr, err := s.onsetEnvelope(ctx, path, false)
	if err != nil {
		return nil, err
	}
	bpm := dsp.EstimateTempo(env, sr, dsp.DefaultHopLength, s.tempoOptions())
	frames := dsp.TrackBeats(env, sr, dsp.DefaultHopLength, bpm, dsp.DefaultTightness)

	times := dsp.BeatTimes(frames, sr, dsp.DefaultHopLength)
	if times == nil {
		times = []float64{}
	}
	return times, nil
}

// LoopTempo asks sox for the bpm of a loop. Not cached: it is cheap and
// depends on an external binary.
func (s *AnalysisService) LoopTempo(ctx context.Context, path string) (*model.LoopTempoResponse, error) {
	beats, bpm, err := audio.LoopTempo(path)
	if err != nil {
		return nil, err
	}
	return &model.LoopTempoResponse{Tempo: bpm, Beats: beats}, nil
}

// Metadata reads tags and duration without decoding the audio.
func (s *AnalysisService) Metadata(ctx context.Context, path string) (*model.MetadataResponse, error) {
	meta, err := audio.ReadMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return &model.MetadataResponse{
		Title:       meta.Title,
		Artist:      meta.Artist,
		Album:       meta.Album,
		Genre:       meta.Genre,
		Year:        meta.Year,
		Format:      meta.Format,
		FileType:    meta.FileType,
		Duration:    meta.Duration,
		BitrateKbps: meta.BitrateKbps,
		SizeBytes:   meta.SizeBytes,
	}, nil
}

// Chords lists the diatonic triads of a key. The request is expected to have
// passed struct validation.
func (s *AnalysisService) Chords(req *model.ChordsRequest) (*model.ChordsResponse, error) {
	mode, err := theory.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	chords, err := theory.ScaleChords(req.Key, mode)
	if err != nil {
		return nil, err
	}
	return &model.ChordsResponse{Chords: chords}, nil
}

// Run executes the given analyses in order and collects their results.
// progress, if set, is called before each analysis with its index.
func Run(ctx context.Context, a Analyzer, path string, kinds []model.AnalysisKind, progress func(i int, kind model.AnalysisKind)) (*model.AnalysisBundle, error) {
	bundle := &model.AnalysisBundle{}
	for i, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i, kind)
		}

		var err error
		switch kind {
		case model.AnalysisTempo:
			bundle.Tempo, err = a.Tempo(ctx, path)
		case model.AnalysisKey:
			bundle.Key, err = a.Key(ctx, path)
		case model.AnalysisChroma:
			bundle.Chroma, err = a.Chroma(ctx, path)
		case model.AnalysisBeats:
			bundle.Beats, err = a.Beats(ctx, path)
		case model.AnalysisBeatTempo:
			bundle.BeatTempo, err = a.BeatTempo(ctx, path)
		case model.AnalysisLoopTempo:
			bundle.LoopTempo, err = a.LoopTempo(ctx, path)
		case model.AnalysisMetadata:
			bundle.Metadata, err = a.Metadata(ctx, path)
		default:
			err = fmt.Errorf("unknown analysis %q", kind)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
	}
	return bundle, nil
}
