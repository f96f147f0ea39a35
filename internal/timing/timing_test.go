package timing

import (
	"errors"
	"strings"
	"testing"

	"github.com/elie-eliseai/callzilla/internal/transcribe"
)

// wordsFromScript spaces words 0.5s apart starting at base.
func wordsFromScript(script string, base float64) []transcribe.Word {
	fields := strings.Fields(script)
	words := make([]transcribe.Word, len(fields))
	for i, f := range fields {
		start := base + float64(i)*0.5
		words[i] = transcribe.Word{Word: f, Start: start, End: start + 0.4}
	}
	return words
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"For Leasing, Press 1!", "for leasing press 1"},
		{"press one", "press 1"},
		{"Press  TWO   now", "press 2 now"},
		{"don't hang-up", "dont hangup"},
		{"   ", ""},
		{"nine", "9"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFindPhraseEnd_ReturnsEndOfTargetNotNextOption(t *testing.T) {
	words := wordsFromScript("Thank you for calling. For leasing, press 1. For maintenance, press 2.", 0)

	end, err := FindPhraseEnd(words, "For leasing, press 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "1" is the 8th word (index 7): starts at 3.5s, ends at 3.9s.
	if end != 3.9 {
		t.Errorf("expected phrase end 3.9, got %v", end)
	}

	// The end of "2" would be later; make sure we did not match it.
	last := words[len(words)-1]
	if end >= last.End {
		t.Errorf("matched past the target option: end %v >= %v", end, last.End)
	}
}

func TestFindPhraseEnd_DigitWordsMatchNumerals(t *testing.T) {
	words := wordsFromScript("for leasing press one for maintenance press two", 0)

	end, err := FindPhraseEnd(words, "for leasing press 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "one" is index 3: 1.5s - 1.9s.
	if end != 1.9 {
		t.Errorf("expected 1.9, got %v", end)
	}
}

func TestFindPhraseEnd_FirstOccurrenceWins(t *testing.T) {
	// Menu loops: same option stated twice.
	words := wordsFromScript("press 1 for leasing press 1 for leasing", 2)

	end, err := FindPhraseEnd(words, "press 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First "1" is index 1: starts 2.5, ends 2.9.
	if end != 2.9 {
		t.Errorf("expected first occurrence end 2.9, got %v", end)
	}
}

func TestFindPhraseEnd_Idempotent(t *testing.T) {
	words := wordsFromScript("welcome press 5 for billing", 0)

	first, err := FindPhraseEnd(words, "press 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := FindPhraseEnd(words, "press 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected identical results, got %v then %v", first, second)
	}
}

func TestFindPhraseEnd_NotFound(t *testing.T) {
	words := wordsFromScript("please leave a message after the tone", 0)

	_, err := FindPhraseEnd(words, "for leasing press 1")
	if !errors.Is(err, ErrPhraseNotFound) {
		t.Fatalf("expected ErrPhraseNotFound, got %v", err)
	}
}

func TestFindPhraseEnd_EmptyInputs(t *testing.T) {
	if _, err := FindPhraseEnd(nil, "press 1"); err == nil {
		t.Error("expected error for empty word list")
	}

	words := wordsFromScript("press 1", 0)
	if _, err := FindPhraseEnd(words, "  ,.! "); err == nil {
		t.Error("expected error for phrase that normalizes to empty")
	}
}

func TestFindPhraseEnd_PartialOverlapDoesNotMatch(t *testing.T) {
	words := wordsFromScript("press 1 for maintenance", 0)

	_, err := FindPhraseEnd(words, "press 1 for leasing")
	if !errors.Is(err, ErrPhraseNotFound) {
		t.Fatalf("expected ErrPhraseNotFound for partial overlap, got %v", err)
	}
}
