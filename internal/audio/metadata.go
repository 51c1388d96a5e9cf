package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	log "github.com/schollz/logger"
	"github.com/schollz/sox"
	"github.com/tcolgate/mp3"
)

// Metadata describes an audio file without decoding its samples.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	Year        int
	Format      string
	FileType    string
	Duration    float64
	BitrateKbps int
	SizeBytes   int64
}

// ReadMetadata collects tags and duration for the file at path. Missing tags
// are not an error; the title falls back to the file name.
func ReadMetadata(path string) (*Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		SizeBytes: info.Size(),
		FileType:  strings.TrimPrefix(strings.ToUpper(filepath.Ext(path)), "."),
	}
	readTags(path, meta)
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if dur, err := mp3Duration(path); err == nil && dur > 0 {
			meta.Duration = dur
		} else if err != nil {
			log.Debugf("mp3 frame scan failed for %s: %v", filepath.Base(path), err)
		}
	}
	if meta.Duration == 0 {
		if dur, err := sox.Length(path); err == nil {
			meta.Duration = dur
		} else {
			log.Debugf("sox length failed for %s: %v", filepath.Base(path), err)
		}
	}

	if meta.Duration > 0 {
		meta.BitrateKbps = int(math.Round(float64(meta.SizeBytes) * 8 / meta.Duration / 1000))
	}

	return meta, nil
}

func readTags(path string, meta *Metadata) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return
	}

	meta.Title = strings.TrimSpace(m.Title())
	meta.Artist = strings.TrimSpace(m.Artist())
	meta.Album = strings.TrimSpace(m.Album())
	meta.Genre = strings.TrimSpace(m.Genre())
	meta.Year = m.Year()
	meta.Format = string(m.Format())
	if ft := string(m.FileType()); ft != "" {
		meta.FileType = ft
	}
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}

// LoopTempo asks sox for the loop length and guesses the bpm that fits a whole
// number of beats into it. It needs the sox binary on PATH.
func LoopTempo(path string) (beats, bpm float64, err error) {
	beats, bpm, err = sox.GetBPM(path)
	if err != nil {
		return 0, 0, fmt.Errorf("sox bpm: %w", err)
	}
	return beats, bpm, nil
}
