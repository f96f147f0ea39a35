package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewWithClient(openai.NewClientWithConfig(cfg), 5*time.Second)
}

func TestTranscribe_ParsesWords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"task": "transcribe",
			"duration": 4.2,
			"text": "For leasing press 1",
			"words": [
				{"word": "For", "start": 0.0, "end": 0.4},
				{"word": "leasing", "start": 0.4, "end": 1.1},
				{"word": "press", "start": 1.2, "end": 1.6},
				{"word": "1", "start": 1.7, "end": 2.0}
			]
		}`))
	})

	res, err := c.Transcribe(context.Background(), []byte("fake-wav"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "For leasing press 1" {
		t.Errorf("unexpected text: %q", res.Text)
	}
	if len(res.Words) != 4 {
		t.Fatalf("expected 4 words, got %d", len(res.Words))
	}
	if res.Words[3].End != 2.0 {
		t.Errorf("expected last word end 2.0, got %v", res.Words[3].End)
	}
	if res.Duration != 4.2 {
		t.Errorf("expected duration 4.2, got %v", res.Duration)
	}
}

func TestTranscribe_MissingWordTimestampsFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task": "transcribe", "duration": 3.0, "text": "Hello there"}`))
	})

	if _, err := c.Transcribe(context.Background(), []byte("fake-wav")); err == nil {
		t.Fatal("expected error when word timestamps are missing")
	}
}

func TestTranscribe_EmptyAudioIsAllowed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task": "transcribe", "duration": 0.5, "text": ""}`))
	})

	res, err := c.Transcribe(context.Background(), []byte("fake-wav"))
	if err != nil {
		t.Fatalf("silent audio should not error: %v", err)
	}
	if res.Text != "" || len(res.Words) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	})

	if _, err := c.Transcribe(context.Background(), []byte("fake-wav")); err == nil {
		t.Fatal("expected error from failing service")
	}
}
