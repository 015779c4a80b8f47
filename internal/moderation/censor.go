// Package moderation masks configured words in chat text before it is relayed.
package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// Censor replaces every occurrence of a banned word with a fixed rune.
// Matching ignores case and punctuation inside the word, so "B.a.D" matches
// "bad". Spaces are word boundaries and are never skipped.
type Censor struct {
	matcher *goahocorasick.Machine
	mask    rune
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewCensor builds the automaton. It returns nil, nil when words holds no
// usable pattern, and a nil *Censor passes text through unchanged.
func NewCensor(words []string, mask rune) (*Censor, error) {
	patterns := lo.FilterMap(words, func(w string, _ int) ([]rune, bool) {
		p := normalizeRunes([]rune(strings.TrimSpace(w)))
		return p, len(p) > 0
	})
	if len(patterns) == 0 {
		return nil, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Censor{matcher: m, mask: mask}, nil
}

func (c *Censor) Apply(text string) string {
	if c == nil {
		return text
	}
	mapping := normalize(text)
	if len(mapping.normalized) == 0 {
		return text
	}

	terms := c.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(terms) == 0 {
		return text
	}

	// Masked byte positions; bytes outside a match are copied verbatim.
	hidden := make([]bool, len(text))
	for _, term := range terms {
		start := term.Pos
		end := start + len(term.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		if !atBoundary(mapping.normalized, start, end) {
			continue
		}
		from := mapping.origIdx[start]
		last := mapping.origIdx[end-1]
		_, width := utf8.DecodeRuneInString(text[last:])
		for i := from; i < last+width; i++ {
			hidden[i] = true
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, width := utf8.DecodeRuneInString(text[i:])
		if hidden[i] && !unicode.IsSpace(r) {
			b.WriteRune(c.mask)
		} else {
			b.WriteString(text[i : i+width])
		}
		i += width
	}
	return b.String()
}

// normalize lowercases text and drops noise runes, recording the byte
// offset each kept rune came from.
func normalize(input string) textMapping {
	m := textMapping{
		normalized: make([]rune, 0, len(input)),
		origIdx:    make([]int, 0, len(input)),
	}
	for i, r := range input {
		if isNoise(r) {
			continue
		}
		m.normalized = append(m.normalized, unicode.ToLower(r))
		m.origIdx = append(m.origIdx, i)
	}
	return m
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if isNoise(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return out
}

// atBoundary rejects matches embedded in a longer word.
func atBoundary(norm []rune, start, end int) bool {
	if start > 0 && isWordRune(norm[start-1]) {
		return false
	}
	if end < len(norm) && isWordRune(norm[end]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
