package patch

import "strings"

// ContextMatcher finds a line pattern within a fixed line array, trying
// four progressively looser tiers: exact match, trailing-whitespace-
// insensitive, fully-trimmed, and Unicode-normalized (smart quotes/dashes/
// spaces folded to their ASCII equivalents).
type ContextMatcher struct {
	lines []string
}

// NewContextMatcher builds a matcher over lines. lines is not copied and
// must not be mutated while the matcher is in use.
func NewContextMatcher(lines []string) *ContextMatcher {
	return &ContextMatcher{lines: lines}
}

// Seek finds pattern's first occurrence within m.lines. Search starts at
// start, unless eof is true and the file is at least as long as pattern, in
// which case the search starts at the position that would place pattern at
// the very end of the file (an end-of-file anchored chunk). Returns the
// starting line index, or -1 if no tier matches.
func (m *ContextMatcher) Seek(pattern []string, start int, eof bool) int {
	if len(pattern) == 0 {
		return start
	}
	if len(pattern) > len(m.lines) {
		return -1
	}

	searchStart := start
	if eof && len(m.lines) >= len(pattern) {
		searchStart = len(m.lines) - len(pattern)
	}
	maxStart := len(m.lines) - len(pattern)
	if searchStart > maxStart {
		searchStart = maxStart
	}
	if searchStart < 0 {
		searchStart = 0
	}

	if idx := m.seekWith(pattern, searchStart, maxStart, func(a, b string) bool { return a == b }); idx >= 0 {
		return idx
	}
	if idx := m.seekWith(pattern, searchStart, maxStart, func(a, b string) bool {
		return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
	}); idx >= 0 {
		return idx
	}
	if idx := m.seekWith(pattern, searchStart, maxStart, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}); idx >= 0 {
		return idx
	}
	if idx := m.seekWith(pattern, searchStart, maxStart, func(a, b string) bool {
		return normalize(a) == normalize(b)
	}); idx >= 0 {
		return idx
	}
	return -1
}

func (m *ContextMatcher) seekWith(pattern []string, searchStart, maxStart int, eq func(a, b string) bool) int {
	for idx := searchStart; idx <= maxStart; idx++ {
		ok := true
		for offset, pat := range pattern {
			if !eq(m.lines[idx+offset], pat) {
				ok = false
				break
			}
		}
		if ok {
			return idx
		}
	}
	return -1
}

// dashVariants, quoteVariants, doubleQuoteVariants, and spaceVariants list
// the Unicode code points normalize folds to their ASCII equivalents, by
// exact code point to avoid any ambiguity between visually similar runes.
var dashVariants = map[rune]bool{
	0x2010: true, 0x2011: true, 0x2012: true, 0x2013: true,
	0x2014: true, 0x2015: true, 0x2212: true,
}

var quoteVariants = map[rune]bool{
	0x2018: true, 0x2019: true, 0x201A: true, 0x201B: true,
}

var doubleQuoteVariants = map[rune]bool{
	0x201C: true, 0x201D: true, 0x201E: true, 0x201F: true,
}

var spaceVariants = map[rune]bool{
	0x00A0: true, 0x2002: true, 0x2003: true, 0x2004: true,
	0x2005: true, 0x2006: true, 0x2007: true, 0x2008: true,
	0x2009: true, 0x200A: true, 0x202F: true, 0x205F: true,
	0x3000: true,
}

// normalize folds Unicode punctuation variants (dashes, quotes, spaces) that
// commonly differ between a model's rendering of a file and the file on
// disk down to their ASCII equivalents, after trimming surrounding whitespace.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case dashVariants[r]:
			b.WriteRune('-')
		case quoteVariants[r]:
			b.WriteRune('\'')
		case doubleQuoteVariants[r]:
			b.WriteRune('"')
		case spaceVariants[r]:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
