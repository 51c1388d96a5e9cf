// Package theory holds the music theory used by the analysis endpoints: key
// and mode estimation from a chroma profile, and diatonic chord naming.
package theory

import (
	"errors"
	"fmt"
)

// Mode is a scale mode reported by key estimation and accepted by ScaleChords.
type Mode string

const (
	Major      Mode = "major"
	Minor      Mode = "minor"
	Mixolydian Mode = "mixolydian"
)

var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrInvalidMode = errors.New("unsupported mode")
)

// KeyNames are the pitch class names reported by EstimateKey, 0 = C.
var KeyNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// scale degrees in semitones above the tonic
var modeIntervals = map[Mode][7]int{
	Major:      {0, 2, 4, 5, 7, 9, 11},
	Minor:      {0, 2, 3, 5, 7, 8, 10},
	Mixolydian: {0, 2, 4, 5, 7, 9, 10},
}

// ParseMode accepts the mode names understood by ScaleChords.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := modeIntervals[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// EstimateKey picks the tonic as the strongest pitch class of a mean chroma
// profile. The mode is major unless the pitch class 9 semitones above the
// tonic outweighs the one 8 above (minor), or the one 10 above outweighs the
// one 11 above (mixolydian, checked last so it wins over minor).
func EstimateKey(chroma [12]float64) (string, Mode) {
	tonic := 0
	for pc := 1; pc < 12; pc++ {
		if chroma[pc] > chroma[tonic] {
			tonic = pc
		}
	}

	at := func(offset int) float64 {
		return chroma[(tonic+offset)%12]
	}

	mode := Major
	if at(9) > at(8) {
		mode = Minor
	}
	if at(10) > at(11) {
		mode = Mixolydian
	}
	return KeyNames[tonic], mode
}
