// Package timing locates a menu phrase inside a word-level transcript and
// reports when its speech ends, which is when the next button press is due.
package timing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/elie-eliseai/callzilla/internal/transcribe"
)

// ErrPhraseNotFound means the key phrase does not occur in the transcript.
// Callers must not guess a fallback timestamp; pressing a digit at an
// unverified time breaks navigation silently.
var ErrPhraseNotFound = errors.New("phrase not found in transcript")

var digitWords = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

var punctuation = regexp.MustCompile(`[,.\-!?'"]`)

// Normalize prepares text for phrase matching: lowercase, spoken digit words
// become numerals ("press one" matches "press 1"), punctuation is stripped,
// whitespace collapses.
func Normalize(text string) string {
	text = strings.ToLower(text)
	fields := strings.Fields(punctuation.ReplaceAllString(text, ""))
	for i, f := range fields {
		if d, ok := digitWords[f]; ok {
			fields[i] = d
		}
	}
	return strings.Join(fields, " ")
}

// FindPhraseEnd returns the end timestamp of the first occurrence of phrase
// in words. IVR menus state each option once per loop, so when the phrase
// repeats the first statement is the one the caller acts on.
func FindPhraseEnd(words []transcribe.Word, phrase string) (float64, error) {
	if len(words) == 0 {
		return 0, fmt.Errorf("no word timestamps provided")
	}

	tokens := strings.Fields(Normalize(phrase))
	if len(tokens) == 0 {
		return 0, fmt.Errorf("key phrase %q normalized to empty", phrase)
	}

	normalized := make([]string, len(words))
	for i, w := range words {
		normalized[i] = Normalize(w.Word)
	}

	for i := 0; i+len(tokens) <= len(normalized); i++ {
		if matchesAt(normalized, tokens, i) {
			return words[i+len(tokens)-1].End, nil
		}
	}

	return 0, fmt.Errorf("%w: %q (normalized %q)", ErrPhraseNotFound, phrase, strings.Join(tokens, " "))
}

func matchesAt(words, tokens []string, start int) bool {
	for j, tok := range tokens {
		if words[start+j] != tok {
			return false
		}
	}
	return true
}
