package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TempoResponse is returned by the tempo endpoints.
type TempoResponse struct {
	Tempo float64 `json:"tempo"`
}

// MarshalJSON writes whole BPM values as 124.0 rather than 124 so clients
// always decode a float.
func (r TempoResponse) MarshalJSON() ([]byte, error) {
	tempo, err := floatJSON(r.Tempo)
	if err != nil {
		return nil, err
	}
	return []byte(`{"tempo":` + tempo + `}`), nil
}

func floatJSON(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("model: unsupported float %v", v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, nil
}

// KeyResponse carries the estimated tonic and mode.
type KeyResponse struct {
	Key  string `json:"key"`
	Mode string `json:"mode"`
}

// ChromaResponse holds chroma shaped [12][frames].
type ChromaResponse struct {
	Chroma [][]float64 `json:"chroma"`
}

// BeatsResponse holds beat positions in seconds.
type BeatsResponse struct {
	Beats []float64 `json:"beats"`
}

// LoopTempoResponse is the sox loop estimate: the bpm and how many beats fit
// the clip.
type LoopTempoResponse struct {
	Tempo float64 `json:"tempo"`
	Beats float64 `json:"beats"`
}

func (r LoopTempoResponse) MarshalJSON() ([]byte, error) {
	tempo, err := floatJSON(r.Tempo)
	if err != nil {
		return nil, err
	}
	beats, err := floatJSON(r.Beats)
	if err != nil {
		return nil, err
	}
	return []byte(`{"tempo":` + tempo + `,"beats":` + beats + `}`), nil
}

type ChordsRequest struct {
	Key  string `json:"key" validate:"required"`
	Mode string `json:"mode" validate:"required,oneof=major minor mixolydian"`
}

type ChordsResponse struct {
	Chords []string `json:"chords"`
}

type MetadataResponse struct {
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	Genre       string  `json:"genre,omitempty"`
	Year        int     `json:"year,omitempty"`
	Format      string  `json:"format,omitempty"`
	FileType    string  `json:"fileType"`
	Duration    float64 `json:"duration"`
	BitrateKbps int     `json:"bitrateKbps,omitempty"`
	SizeBytes   int64   `json:"sizeBytes"`
}

// AnalysisBundle collects the results of an analysis job. Only the requested
// analyses are set.
type AnalysisBundle struct {
	Tempo     *TempoResponse     `json:"tempo,omitempty"`
	Key       *KeyResponse       `json:"key,omitempty"`
	Chroma    *ChromaResponse    `json:"chroma,omitempty"`
	Beats     *BeatsResponse     `json:"beats,omitempty"`
	BeatTempo *TempoResponse     `json:"beatTempo,omitempty"`
	LoopTempo *LoopTempoResponse `json:"loopTempo,omitempty"`
	Metadata  *MetadataResponse  `json:"metadata,omitempty"`
}
