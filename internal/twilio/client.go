// Package twilio is a minimal REST client for the call placement, status,
// and recording endpoints this service consumes.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Call statuses reported by the provider.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// TerminalStatuses are the states after which a call will not change again.
var TerminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusBusy:      true,
	StatusNoAnswer:  true,
	StatusCanceled:  true,
}

type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Call is the provider's call resource, reduced to the fields we read.
type Call struct {
	SID      string `json:"sid"`
	To       string `json:"to"`
	From     string `json:"from"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// DurationSeconds parses the provider's string duration; absent or malformed
// values count as zero.
func (c *Call) DurationSeconds() int {
	n, err := strconv.Atoi(c.Duration)
	if err != nil {
		return 0
	}
	return n
}

// MakeCallParams configures an outbound call.
type MakeCallParams struct {
	To    string
	From  string
	Twiml string
}

// MakeCall places an outbound, dual-channel-recorded call driven by inline
// TwiML.
func (c *Client) MakeCall(ctx context.Context, params MakeCallParams) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Twiml", params.Twiml)
	data.Set("Record", "true")
	data.Set("RecordingChannels", "dual")

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// GetCall fetches current call state by SID.
func (c *Client) GetCall(ctx context.Context, callSID string) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)

	var call Call
	if err := c.get(ctx, endpoint, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Recording is the provider's recording resource. Recordings are processed
// asynchronously after call completion; Status is "processing" until the
// media is ready.
type Recording struct {
	SID      string `json:"sid"`
	CallSID  string `json:"call_sid"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Channels int    `json:"channels"`
	URI      string `json:"uri"`
}

// DurationSeconds parses the recording duration, tolerating the provider's
// "-1" and empty placeholders.
func (r *Recording) DurationSeconds() int {
	n, err := strconv.Atoi(strings.TrimSpace(r.Duration))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// MediaURL is the authenticated WAV download location for this recording.
func (r *Recording) MediaURL(baseHost string) string {
	return baseHost + strings.Replace(r.URI, ".json", ".wav", 1)
}

type recordingList struct {
	Recordings []Recording `json:"recordings"`
}

// ListRecordings returns the recordings attached to a call.
func (c *Client) ListRecordings(ctx context.Context, callSID string) ([]Recording, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings.json?CallSid=%s&PageSize=10",
		c.baseURL, c.accountSID, url.QueryEscape(callSID))

	var list recordingList
	if err := c.get(ctx, endpoint, &list); err != nil {
		return nil, err
	}
	return list.Recordings, nil
}

// DownloadRecording fetches the recording's WAV media.
func (c *Client) DownloadRecording(ctx context.Context, rec Recording) ([]byte, error) {
	host := strings.TrimSuffix(c.baseURL, "/2010-04-01")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.MediaURL(host), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("download recording: provider returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// APIError is a structured provider error response.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return fmt.Errorf("twilio error: %s", string(body))
		}
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("parse twilio response: %w", err)
		}
	}
	return nil
}
