package tts

import (
	"fmt"
	"slices"
	"strings"
)

// Voice is one selectable synthesis voice.
type Voice struct {
	Name    string `json:"name"`
	Gender  string `json:"gender"`
	Country string `json:"country"`
	ID      string `json:"voice"`
}

// Label returns the display string shown in the voice selector.
func (v Voice) Label() string {
	return fmt.Sprintf("%s (%s, %s)", v.Name, v.Gender, v.Country)
}

// SortVoices orders voices in place: voices from the preferred country come
// first, then the rest, each group ordered by name. The sort is stable.
func SortVoices(voices []Voice, preferredCountry string) {
	slices.SortStableFunc(voices, func(a, b Voice) int {
		aPreferred := a.Country == preferredCountry
		bPreferred := b.Country == preferredCountry

		switch {
		case aPreferred && !bPreferred:
			return -1
		case !aPreferred && bPreferred:
			return 1
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
}

// normalizeVoices drops entries without an identifier and repeated identifiers,
// keeping the first occurrence.
func normalizeVoices(raw []Voice) []Voice {
	seen := make(map[string]struct{}, len(raw))
	voices := make([]Voice, 0, len(raw))

	for _, voice := range raw {
		voice.ID = strings.TrimSpace(voice.ID)
		if voice.ID == "" {
			continue
		}

		if _, dup := seen[voice.ID]; dup {
			continue
		}

		seen[voice.ID] = struct{}{}
		voices = append(voices, voice)
	}

	return voices
}
