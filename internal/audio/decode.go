package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	gomp3 "github.com/hajimehoshi/go-mp3"
	log "github.com/schollz/logger"
	"github.com/youpy/go-wav"

	"github.com/bandbridge/audio/internal/config"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyAudio        = errors.New("audio contains no samples")
	ErrDecode            = errors.New("failed to decode audio")
)

var supportedExtensions = map[string]bool{
	".wav":  true,
	".wave": true,
	".mp3":  true,
	".m4a":  true,
	".mp4":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
}

// IsSupported reports whether files with the given name can be decoded.
func IsSupported(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// UploadName reduces a client supplied file name to a safe base name that
// keeps the original title and a lower-case extension.
func UploadName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(strings.ReplaceAll(filename, "\\", "/")), filepath.Ext(filename))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		base = "audio"
	}
	return base + ext
}

// Decoder turns audio files into mono PCM at a fixed sample rate.
type Decoder struct {
	sampleRate int
	ffmpegPath string
	tempDir    string
}

func NewDecoder(cfg *config.AudioConfig) *Decoder {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Decoder{
		sampleRate: sr,
		ffmpegPath: ffmpeg,
		tempDir:    tempDir,
	}
}

// Decode reads the file at path and returns its mono signal.
func (d *Decoder) Decode(ctx context.Context, path string) (*Signal, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	var (
		samples []float64
		rate    int
		err     error
	)

	switch ext {
	case ".wav", ".wave":
		samples, rate, err = d.decodeWAVFile(path)
	case ".mp3":
		samples, rate, err = d.decodeMP3File(path)
	default:
		samples, rate, err = d.decodeWithFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	if rate != d.sampleRate {
		log.Debugf("resampling %s from %d Hz to %d Hz", filepath.Base(path), rate, d.sampleRate)
		samples = Resample(samples, rate, d.sampleRate)
	}

	return &Signal{Samples: samples, SampleRate: d.sampleRate}, nil
}

func (d *Decoder) decodeWAVFile(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV reads PCM samples from a RIFF/WAVE stream and mixes them to mono.
func DecodeWAV(r interface {
	io.Reader
	io.ReaderAt
}) ([]float64, int, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: wav header: %v", ErrDecode, err)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return nil, 0, fmt.Errorf("%w: wav header has no channels or sample rate", ErrDecode)
	}

	channels := uint(format.NumChannels)
	if channels > 2 {
		// go-wav only exposes the first two channels of a frame
		channels = 2
	}

	var out []float64
	for {
		samples, err := reader.ReadSamples()
		for _, sample := range samples {
			var sum float64
			for ch := uint(0); ch < channels; ch++ {
				sum += reader.FloatValue(sample, ch)
			}
			out = append(out, sum/float64(channels))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: wav samples: %v", ErrDecode, err)
		}
	}

	return out, int(format.SampleRate), nil
}

func (d *Decoder) decodeMP3File(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open mp3: %w", err)
	}
	defer f.Close()
	return DecodeMP3(f)
}

// DecodeMP3 decodes an MPEG-1/2 layer III stream and mixes it to mono.
func DecodeMP3(r io.Reader) ([]float64, int, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: mp3 frames: %v", ErrDecode, err)
	}

	// go-mp3 always emits 16-bit little endian stereo
	const frameBytes = 4
	n := len(pcm) / frameBytes
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := pcm[i*frameBytes:]
		left := int16(uint16(b[0]) | uint16(b[1])<<8)
		right := int16(uint16(b[2]) | uint16(b[3])<<8)
		out[i] = (float64(left) + float64(right)) / (2 * 32768)
	}

	return out, dec.SampleRate(), nil
}

func (d *Decoder) decodeWithFFmpeg(ctx context.Context, path string) ([]float64, int, error) {
	tmp := filepath.Join(d.tempDir, uuid.New().String()+".wav")
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-nostdin", "-v", "error", "-y",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(d.sampleRate),
		"-acodec", "pcm_s16le",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	log.Tracef("%s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: ffmpeg not available for %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
		return nil, 0, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	return d.decodeWAVFile(tmp)
}
