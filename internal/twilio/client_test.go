package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		AccountSID: "AC-test",
		AuthToken:  "token",
		BaseURL:    srv.URL + "/2010-04-01",
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{AuthToken: "t"}); err == nil {
		t.Error("expected error without account SID")
	}
	if _, err := New(Config{AccountSID: "AC"}); err == nil {
		t.Error("expected error without auth token")
	}
}

func TestMakeCall(t *testing.T) {
	var gotForm map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC-test" || pass != "token" {
			t.Error("expected basic auth with account credentials")
		}
		_ = r.ParseForm()
		gotForm = map[string]string{
			"To":                r.PostForm.Get("To"),
			"Record":            r.PostForm.Get("Record"),
			"RecordingChannels": r.PostForm.Get("RecordingChannels"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid": "CA123", "status": "queued", "to": "+15550002222"}`))
	}))

	call, err := c.MakeCall(context.Background(), MakeCallParams{
		To:    "+15550002222",
		From:  "+15550001111",
		Twiml: "<Response><Pause length=\"1\"/></Response>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.SID != "CA123" {
		t.Errorf("expected SID CA123, got %s", call.SID)
	}
	if gotForm["Record"] != "true" || gotForm["RecordingChannels"] != "dual" {
		t.Errorf("expected dual-channel recording params, got %v", gotForm)
	}
}

func TestGetCall_ParsesDuration(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid": "CA123", "status": "completed", "duration": "42"}`))
	}))

	call, err := c.GetCall(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", call.Status)
	}
	if call.DurationSeconds() != 42 {
		t.Errorf("expected 42s, got %d", call.DurationSeconds())
	}
}

func TestListRecordings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("CallSid"); got != "CA123" {
			t.Errorf("expected CallSid query param, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recordings": [
			{"sid": "RE1", "call_sid": "CA123", "status": "completed", "duration": "30", "channels": 2, "uri": "/2010-04-01/Accounts/AC-test/Recordings/RE1.json"},
			{"sid": "RE2", "call_sid": "CA123", "status": "processing", "duration": "-1", "channels": 1, "uri": "/2010-04-01/Accounts/AC-test/Recordings/RE2.json"}
		]}`))
	}))

	recs, err := c.ListRecordings(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(recs))
	}
	if recs[0].Channels != 2 || recs[0].DurationSeconds() != 30 {
		t.Errorf("unexpected first recording: %+v", recs[0])
	}
	if recs[1].DurationSeconds() != 0 {
		t.Errorf("expected placeholder duration to parse as 0, got %d", recs[1].DurationSeconds())
	}
}

func TestDownloadRecording(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC-test/Recordings/RE1.wav" {
			t.Errorf("unexpected media path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("RIFF-fake-wav"))
	}))

	data, err := c.DownloadRecording(context.Background(), Recording{
		SID: "RE1",
		URI: "/2010-04-01/Accounts/AC-test/Recordings/RE1.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "RIFF-fake-wav" {
		t.Errorf("unexpected media payload %q", data)
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' Phone Number", "status": 400}`))
	}))

	_, err := c.MakeCall(context.Background(), MakeCallParams{To: "bogus"})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != 21211 {
		t.Errorf("expected code 21211, got %d", apiErr.Code)
	}
}
