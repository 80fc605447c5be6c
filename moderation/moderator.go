// Package moderation masks censored words in chat content before the relay
// broadcasts it. Matching runs on a normalized view of the text (lowercase,
// separators stripped) so spacing or casing tricks do not bypass the list.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

type Moderator struct {
	matcher      *goahocorasick.Machine
	censoredChar rune
}

// mapping ties each rune of the normalized text back to its index in the
// original string so masking preserves spacing and punctuation.
type mapping struct {
	normalized []rune
	origIdx    []int
}

// NewModerator builds the Aho-Corasick automaton from the censored-word
// list. An empty list yields a moderator that passes everything through.
func NewModerator(censoredWords []string, censoredChar rune) (*Moderator, error) {
	if len(censoredWords) == 0 {
		return &Moderator{censoredChar: censoredChar}, nil
	}

	patterns := make([][]rune, 0, len(censoredWords))
	for _, word := range censoredWords {
		if normalized := normalizeRunes([]rune(word)); len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m, censoredChar: censoredChar}, nil
}

// Censor replaces every character of a matched word with the censored rune,
// leaving everything else untouched.
func (m *Moderator) Censor(original string) string {
	if m.matcher == nil {
		return original
	}

	mapped := normalize(original)
	if len(mapped.normalized) == 0 {
		return original
	}

	spans := m.matcher.MultiPatternSearch(mapped.normalized, false)
	if len(spans) == 0 {
		return original
	}

	origRunes := []rune(original)
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapped.origIdx) {
			continue
		}

		origStart := mapped.origIdx[normStart]
		origEnd := mapped.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.censoredChar
		}
	}
	return string(origRunes)
}

func normalize(original string) mapping {
	runes := []rune(original)
	out := mapping{
		normalized: make([]rune, 0, len(runes)),
		origIdx:    make([]int, 0, len(runes)),
	}
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out.normalized = append(out.normalized, unicode.ToLower(r))
			out.origIdx = append(out.origIdx, i)
		}
	}
	return out
}

func normalizeRunes(runes []rune) []rune {
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, unicode.ToLower(r))
		}
	}
	return out
}
