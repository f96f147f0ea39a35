// Package transcribe wraps the Whisper speech-to-text API. Word-level
// timestamps are mandatory: button timing is derived from them, so a
// transcript without words fails the attempt instead of degrading.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Word is a single transcript token with its speech interval in seconds,
// measured from the start of the submitted audio.
type Word struct {
	Word  string
	Start float64
	End   float64
}

// Result is a completed transcription.
type Result struct {
	Text     string
	Words    []Word
	Duration float64
}

type Client struct {
	api     *openai.Client
	timeout time.Duration
}

func New(apiKey string, timeout time.Duration) *Client {
	return NewWithClient(openai.NewClient(apiKey), timeout)
}

// NewWithClient allows injecting a preconfigured API client (tests point it
// at a local server).
func NewWithClient(api *openai.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{api: api, timeout: timeout}
}

// Transcribe submits WAV audio and returns text plus word timestamps.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(wavBytes),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: "en",
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}

	words := make([]Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, Word{Word: w.Word, Start: w.Start, End: w.End})
	}

	if strings.TrimSpace(resp.Text) != "" && len(words) == 0 {
		return nil, fmt.Errorf("transcription returned no word timestamps")
	}

	return &Result{Text: resp.Text, Words: words, Duration: resp.Duration}, nil
}
