// Package classify sends call transcripts to the language-model
// classification service and normalizes its answer into a closed taxonomy.
package classify

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Category is what answered the call.
type Category string

const (
	CategoryCallTree     Category = "call_tree"
	CategoryHuman        Category = "human"
	CategoryVoicemail    Category = "voicemail"
	CategoryAIAssistant  Category = "ai_assistant"
	CategoryOutOfService Category = "out_of_service"
	CategoryUnknown      Category = "unknown"
)

// HoldSignal in the Digit field means the menu tells callers to stay on hold
// for a person. There is no reliable machine signal for hold-queue pickup, so
// this routes the session to manual review.
const HoldSignal = "HOLD"

// Transcripts under this length carry no usable signal; they are classified
// unknown without calling the external service.
const minTranscriptLen = 5

// Result is the normalized classifier output. Digit and KeyPhrase are only
// meaningful for call_tree. Reasoning is diagnostic text, never parsed.
type Result struct {
	Category  Category
	Digit     string
	KeyPhrase string
	Reasoning string
}

// ChatCompleter is the slice of the OpenAI client the classifier needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Classifier struct {
	chat ChatCompleter
}

func New(apiKey string) *Classifier {
	return NewWithChat(openai.NewClient(apiKey))
}

func NewWithChat(chat ChatCompleter) *Classifier {
	return &Classifier{chat: chat}
}

// Classify returns the category for a transcript. History carries the
// transcripts of earlier attempts in the same session for context.
//
// A service error is returned as-is: an unclassifiable call must not be
// silently defaulted to machine or human.
func (c *Classifier) Classify(ctx context.Context, transcript string, history []string) (Result, error) {
	if len(strings.TrimSpace(transcript)) < minTranscriptLen {
		return Result{Category: CategoryUnknown, Reasoning: "transcript too short"}, nil
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You classify phone call recordings. Focus on whether someone is " +
					"PRESENT and REACTIVE (human) vs a pre-recorded message that just plays " +
					"and ends (voicemail). Be precise.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(transcript, history),
			},
		},
		MaxTokens:   150,
		Temperature: 0.1,
	})
	if err != nil {
		return Result{}, fmt.Errorf("classification service: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("classification service returned no choices")
	}

	return parseResponse(resp.Choices[0].Message.Content), nil
}

// parseResponse reads the strict line-oriented reply. Unparseable fields fall
// back to zero values rather than guesses.
func parseResponse(raw string) Result {
	res := Result{Category: CategoryUnknown}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "classification:"):
			val := Category(strings.TrimSpace(strings.ToLower(afterColon(line))))
			switch val {
			case CategoryCallTree, CategoryHuman, CategoryVoicemail, CategoryAIAssistant, CategoryOutOfService:
				res.Category = val
			}
		case strings.HasPrefix(lower, "button:"):
			res.Digit = parseDigit(afterColon(line))
		case strings.HasPrefix(lower, "key_phrase:"):
			phrase := strings.Trim(strings.TrimSpace(afterColon(line)), `"`)
			if !strings.EqualFold(phrase, "none") {
				res.KeyPhrase = phrase
			}
		case strings.HasPrefix(lower, "reasoning:"):
			res.Reasoning = strings.TrimSpace(afterColon(line))
		}
	}

	return res
}

func parseDigit(val string) string {
	val = strings.TrimSpace(val)
	if strings.EqualFold(val, "none") {
		return ""
	}
	if strings.Contains(strings.ToUpper(val), HoldSignal) {
		return HoldSignal
	}
	for _, r := range val {
		if r >= '0' && r <= '9' {
			return string(r)
		}
	}
	return ""
}

func afterColon(line string) string {
	if _, rest, ok := strings.Cut(line, ":"); ok {
		return rest
	}
	return ""
}

func buildPrompt(transcript string, history []string) string {
	var sb strings.Builder

	sb.WriteString(`You are an expert at analyzing phone calls to business phone lines.

We called a business phone number. Classify what answered.

## THE 5 CATEGORIES

### 1. VOICEMAIL
A pre-recorded message that provides information but doesn't invite live
conversation. Includes office-hours messages, carrier voicemail, and
voicemail menus whose options only manage the voicemail (leave a message,
page someone) rather than ROUTE to departments. The message plays the same
for every caller and ends itself.

### 2. HUMAN
A real person answered live and is present. Informal, repeated greetings
("Hello? Hello?"), confusion, questions inviting response. If you said
something right now, what happens next would change.

### 3. CALL_TREE
An automated routing menu with explicit "press X" or "say X" options that
route to different departments. No options = not a call tree.
If CALL_TREE: identify which button reaches a live leasing/sales
conversation. Look for: leasing, new residents, rental info, sales. If none
exist, use "speak to an agent" or "representative" as fallback. If the menu
only tells callers to stay on the line or hold for the next representative,
answer BUTTON: HOLD.

### 4. AI_ASSISTANT
An AI-powered virtual assistant that identifies itself as AI/virtual and
offers conversational help without numbered routing options.

### 5. OUT_OF_SERVICE
The number doesn't work: "not in service", "has been disconnected", carrier
error messages.

## KEY DISTINCTION
Voicemails BROADCAST one-way and end themselves. Humans CONVERSE and wait
for the caller to participate.
`)

	if len(history) > 0 {
		sb.WriteString("\n## EARLIER ATTEMPTS ON THIS NUMBER (for context only):\n")
		for i, h := range history {
			fmt.Fprintf(&sb, "[attempt %d] %q\n", i+1, truncate(h, 500))
		}
	}

	fmt.Fprintf(&sb, "\n## TRANSCRIPTION:\n%q\n", truncate(transcript, 2500))

	sb.WriteString(`
## RESPONSE FORMAT (exactly 4 lines):
CLASSIFICATION: call_tree OR human OR voicemail OR ai_assistant OR out_of_service
BUTTON: [digit 0-9 or HOLD if call_tree, otherwise "none"]
KEY_PHRASE: [the exact menu phrase that precedes the button, e.g. "for leasing, press 1", otherwise "none"]
REASONING: [One sentence explaining your classification]
`)

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
