package moderation

import (
	"reflect"
	"testing"
)

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if len(f.words) == 0 || len(f.phrases) == 0 {
		t.Fatalf("default filter has %d words and %d phrases", len(f.words), len(f.phrases))
	}
}

func TestNewFilterWithTerms_SkipsBlank(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "Valid", "Two  Words"})
	if _, ok := f.words["valid"]; !ok || len(f.words) != 1 {
		t.Errorf("words = %v, want only %q", f.words, "valid")
	}
	if !reflect.DeepEqual(f.phrases, []string{"two words"}) {
		t.Errorf("phrases = %v", f.phrases)
	}
}

func TestCheck_Words(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{"exact", "badword", true},
		{"in sentence", "this is badword here", true},
		{"upper case", "BADWORD", true},
		{"punctuation", "hello, badword!", true},
		{"leet zero and at", "b@dw0rd", true},
		{"leet dollar and three", "off3n$ive", true},
		{"leet bang for i", "offens!ve", true},
		{"longer word", "badwording is fine", false},
		{"prefixed", "mybadword", false},
		{"clean", "hello world", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Check(tt.input)
			if got.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.input, got.Blocked, tt.blocked)
			}
			if tt.blocked && got.Reason != ReasonBlockedTerm {
				t.Errorf("Check(%q).Reason = %q", tt.input, got.Reason)
			}
		})
	}
}

func TestCheck_Phrases(t *testing.T) {
	f := NewFilterWithTerms([]string{"go die"})

	if got := f.Check("just GO   die, ok"); !got.Blocked || got.Term != "go die" {
		t.Errorf("phrase not blocked: %+v", got)
	}
	if got := f.Check("go diet plans"); got.Blocked {
		t.Errorf("partial phrase blocked: %+v", got)
	}
	if got := f.Check("g0 d!e"); !got.Blocked {
		t.Errorf("leet phrase not blocked: %+v", got)
	}
}

func TestCheck_CleanMessages(t *testing.T) {
	f := NewFilter()
	for _, msg := range []string{
		"hello, how are you?",
		"I need to assess the situation",
		"the grape harvest was great",
		"it costs $5.99",
		"upgrade to v2.0",
		"see you in 2025",
		"",
	} {
		if got := f.Check(msg); got.Blocked {
			t.Errorf("Check(%q) blocked with %+v", msg, got)
		}
	}
}

func TestNormalizeLeet(t *testing.T) {
	tests := map[string]string{
		"hello":  "hello",
		"h3ll0":  "hello",
		"ch@ng3": "change",
		"$7OP":   "stop",
	}
	for in, want := range tests {
		if got := normalizeLeet(in); got != want {
			t.Errorf("normalizeLeet(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenize(t *testing.T) {
	if got := tokenizePlain("  Hello---World, again! "); !reflect.DeepEqual(got, []string{"hello", "world", "again"}) {
		t.Errorf("tokenizePlain = %v", got)
	}
	if got := tokenizePlain(""); len(got) != 0 {
		t.Errorf("tokenizePlain(\"\") = %v", got)
	}
	if got := tokenizeLeet("hello $h!t bye"); !reflect.DeepEqual(got, []string{"hello", "$h!t", "bye"}) {
		t.Errorf("tokenizeLeet = %v", got)
	}
}
