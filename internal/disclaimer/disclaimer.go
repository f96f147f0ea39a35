// Package disclaimer checks the remote-party transcript for the target
// vendor disclaimer. A hit is treated as ground truth downstream: it forces
// the ai_assistant classification regardless of what the classifier said.
package disclaimer

import (
	"fmt"
	"strings"
)

// Finding is the result of a disclaimer check.
type Finding struct {
	Found   bool
	Snippet string
}

// strongIndicators are phrases that identify the vendor's assistant outright.
var strongIndicators = []string{
	"virtual leasing agent",
	"virtual agent",
	"this is virtual leasing agent",
}

// aiPatterns are conversational tics of AI leasing assistants. Seeing several
// of them is near-certain vendor signal even without the exact disclaimer.
var aiPatterns = []string{
	"are you still there",
	"are you still with me",
	"are you still on the line",
	"if you need help finding an apartment",
	"if you'd like help with",
	"i'm here to help",
	"i'm here for you",
	"let me know how i can assist",
	"how can i assist you",
	"how can i help you",
	"if you have any questions",
	"just let me know",
	"i'm ready to help",
	"if you'd like to continue",
}

// aiPatternThreshold is how many aiPatterns must appear before the transcript
// counts as a disclaimer hit on its own.
const aiPatternThreshold = 3

// keyPhrases are the load-bearing fragments of the recording disclaimer.
var keyPhrases = []string{
	"recorded and used by a third party",
	"recorded and used by third party",
	"may be recorded and used",
	"recorded and used",
}

var criticalWords = []string{"recorded", "third", "party"}

// Matcher checks transcripts against a configured target phrase plus the
// known variants above.
type Matcher struct {
	target      string
	targetWords []string
}

func NewMatcher(target string) *Matcher {
	target = strings.ToLower(strings.TrimSpace(target))
	return &Matcher{target: target, targetWords: strings.Fields(target)}
}

// Match reports whether the transcript contains the disclaimer, with the
// snippet that triggered the decision.
func (m *Matcher) Match(transcript string) Finding {
	if strings.TrimSpace(transcript) == "" {
		return Finding{}
	}
	lower := strings.ToLower(transcript)

	for _, ind := range strongIndicators {
		if strings.Contains(lower, ind) {
			return Finding{Found: true, Snippet: ind}
		}
	}

	var matched []string
	for _, p := range aiPatterns {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	if len(matched) >= aiPatternThreshold {
		return Finding{Found: true, Snippet: strings.Join(matched[:aiPatternThreshold], "; ")}
	}

	// Without a configured target phrase, only the unambiguous signals above
	// count.
	if m.target == "" {
		return Finding{}
	}

	if strings.Contains(lower, m.target) {
		return Finding{Found: true, Snippet: m.target}
	}

	for _, p := range keyPhrases {
		if strings.Contains(lower, p) {
			return Finding{Found: true, Snippet: p}
		}
	}

	critical := 0
	for _, w := range criticalWords {
		if strings.Contains(lower, w) {
			critical++
		}
	}
	if critical >= 2 {
		return Finding{Found: true, Snippet: fmt.Sprintf("%d/3 critical disclaimer words", critical)}
	}

	// Fuzzy fallback: most of the target phrase's words are present, in any
	// order. Catches transcription drift in the middle of the phrase.
	if ratio := m.wordOverlap(lower); ratio >= 0.7 {
		return Finding{Found: true, Snippet: fmt.Sprintf("fuzzy match %.0f%% of target words", ratio*100)}
	}

	return Finding{}
}

func (m *Matcher) wordOverlap(lowerTranscript string) float64 {
	if len(m.targetWords) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, w := range strings.Fields(lowerTranscript) {
		present[w] = true
	}
	found := 0
	for _, w := range m.targetWords {
		if present[w] {
			found++
		}
	}
	return float64(found) / float64(len(m.targetWords))
}
