// Package moderation screens chat message bodies before the relay broadcasts
// them. A Filter blocks listed words and phrases, including common leetspeak
// spellings, and a few spam patterns.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in Result.Reason.
const (
	ReasonBlockedTerm = "blocked_term"
	ReasonSpam        = "spam_pattern"
)

// defaultTerms are blocked by NewFilter. Entries with a space are phrases.
var defaultTerms = []string{
	"kys",
	"kill yourself",
	"go die",
	"send nudes",
	"heil hitler",
	"bomb threat",
	"free bitcoin",
	"crypto giveaway",
}

var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'!': 'i',
	'3': 'e',
	'4': 'a',
	'@': 'a',
	'$': 's',
	'5': 's',
	'7': 't',
}

// Result is the outcome of Filter.Check. Term names the matched blocklist
// entry or spam check.
type Result struct {
	Blocked bool
	Reason  string
	Term    string
}

// Filter is safe for concurrent use once built.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms returns a filter blocking terms. Blank entries are
// skipped and matching is case-insensitive.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, t := range terms {
		t = strings.Join(tokenizePlain(t), " ")
		switch {
		case t == "":
		case strings.Contains(t, " "):
			f.phrases = append(f.phrases, t)
		default:
			f.words[t] = struct{}{}
		}
	}
	return f
}

// Check reports whether text should be blocked. Blocklist terms are checked
// before spam patterns.
func (f *Filter) Check(text string) Result {
	plain := tokenizePlain(text)
	var decoded []string
	for _, tok := range tokenizeLeet(text) {
		decoded = append(decoded, tokenizePlain(normalizeLeet(tok))...)
	}

	for _, tokens := range [][]string{plain, decoded} {
		if term, ok := f.match(tokens); ok {
			return Result{Blocked: true, Reason: ReasonBlockedTerm, Term: term}
		}
	}
	return checkSpam(text)
}

func (f *Filter) match(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	if len(f.phrases) == 0 || len(tokens) < 2 {
		return "", false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range f.phrases {
		if strings.Contains(joined, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

// normalizeLeet maps common character substitutions back to letters.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if m, ok := leet[r]; ok {
			return m
		}
		return unicode.ToLower(r)
	}, s)
}

// tokenizePlain lowercases s and splits it on anything but letters and digits.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only so substitution characters stay
// inside their word.
func tokenizeLeet(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
