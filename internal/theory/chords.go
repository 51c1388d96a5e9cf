package theory

import (
	"fmt"
	"strings"
)

const letters = "CDEFGAB"

var naturalClass = [7]int{0, 2, 4, 5, 7, 9, 11}

// Pitch is a spelled pitch name: a letter plus sharps (positive Alter) or
// flats (negative Alter).
type Pitch struct {
	Letter int // index into CDEFGAB
	Alter  int
}

// ParsePitch reads names like "C", "f#", "Bb", "E-" or "G##". Both 'b' and
// '-' mean flat.
func ParsePitch(s string) (Pitch, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pitch{}, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	idx := strings.IndexByte(letters, strings.ToUpper(s[:1])[0])
	if idx < 0 {
		return Pitch{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	p := Pitch{Letter: idx}
	for _, r := range s[1:] {
		switch r {
		case '#':
			p.Alter++
		case 'b', '-':
			p.Alter--
		default:
			return Pitch{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
	}
	if p.Alter < -2 || p.Alter > 2 {
		return Pitch{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return p, nil
}

// Class returns the pitch class, 0 = C.
func (p Pitch) Class() int {
	return ((naturalClass[p.Letter]+p.Alter)%12 + 12) % 12
}

// String spells the pitch with '#' for sharps and '-' for flats.
func (p Pitch) String() string {
	var b strings.Builder
	b.WriteByte(letters[p.Letter])
	for i := 0; i < p.Alter; i++ {
		b.WriteByte('#')
	}
	for i := 0; i > p.Alter; i-- {
		b.WriteByte('-')
	}
	return b.String()
}

// Scale spells the seven degrees of the mode starting on tonic, one letter per
// degree.
func Scale(tonic Pitch, mode Mode) ([7]Pitch, error) {
	var out [7]Pitch
	intervals, ok := modeIntervals[mode]
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	root := tonic.Class()
	for i, iv := range intervals {
		letter := (tonic.Letter + i) % 7
		want := (root + iv) % 12
		alter := want - naturalClass[letter]
		// shortest way round the octave
		if alter > 6 {
			alter -= 12
		} else if alter < -6 {
			alter += 12
		}
		out[i] = Pitch{Letter: letter, Alter: alter}
	}
	return out, nil
}

// TriadQuality names a triad from the semitones of its third and fifth.
func TriadQuality(third, fifth int) string {
	switch {
	case third == 4 && fifth == 7:
		return "major"
	case third == 3 && fifth == 7:
		return "minor"
	case third == 3 && fifth == 6:
		return "diminished"
	case third == 4 && fifth == 8:
		return "augmented"
	}
	return "unknown"
}

// ScaleChords returns the triads built on each degree of the key, named like
// "C-major triad" or "B--major triad" (B flat).
func ScaleChords(key string, mode Mode) ([]string, error) {
	tonic, err := ParsePitch(key)
	if err != nil {
		return nil, err
	}
	degrees, err := Scale(tonic, mode)
	if err != nil {
		return nil, err
	}

	chords := make([]string, 0, len(degrees))
	for i, root := range degrees {
		third := degrees[(i+2)%7]
		fifth := degrees[(i+4)%7]
		quality := TriadQuality(
			semitonesAbove(root, third),
			semitonesAbove(root, fifth),
		)
		chords = append(chords, fmt.Sprintf("%s-%s triad", root, quality))
	}
	return chords, nil
}

func semitonesAbove(from, to Pitch) int {
	return ((to.Class()-from.Class())%12 + 12) % 12
}
