package moderation

import (
	"regexp"
	"strings"
)

var (
	// Bare domains need a trailing path so "v2.0" and "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Matches +1-555-123-4567, (555) 123-4567 and 555.123.4567 standing
	// alone, not digits inside words.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	charFloodRun = 5 // identical characters in a row
	wordFloodRun = 3 // identical words in a row
)

type spamCheck struct {
	name  string
	match func(string) bool
}

// First match wins.
var spamChecks = []spamCheck{
	{"url", urlPattern.MatchString},
	{"phone", phonePattern.MatchString},
	{"char_flood", hasCharFlood},
	{"word_flood", hasWordFlood},
}

func checkSpam(text string) Result {
	for _, sc := range spamChecks {
		if sc.match(text) {
			return Result{Blocked: true, Reason: ReasonSpam, Term: sc.name}
		}
	}
	return Result{}
}

// RE2 has no backreferences, so runs are counted by hand.
func hasCharFlood(text string) bool {
	run, prev := 0, rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		if run >= charFloodRun {
			return true
		}
	}
	return false
}

func hasWordFlood(text string) bool {
	run, prev := 0, ""
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if w == prev {
			run++
		} else {
			run, prev = 1, w
		}
		if run >= wordFloodRun {
			return true
		}
	}
	return false
}
