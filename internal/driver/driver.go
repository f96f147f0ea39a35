// Package driver runs the lifecycle of a single outbound call: place it,
// wait for the provider to finish it, and pull down the dual-channel
// recording once the media is processed.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elie-eliseai/callzilla/internal/poll"
	"github.com/elie-eliseai/callzilla/internal/twilio"
)

// ErrNoRecording means the provider never produced a usable recording for a
// completed call.
var ErrNoRecording = errors.New("no recording available for call")

// DialError wraps a call placement failure after all retries.
type DialError struct {
	To  string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.To, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// CallAPI is the slice of the provider client the driver needs. The concrete
// implementation is twilio.Client.
type CallAPI interface {
	MakeCall(ctx context.Context, params twilio.MakeCallParams) (*twilio.Call, error)
	GetCall(ctx context.Context, callSID string) (*twilio.Call, error)
	ListRecordings(ctx context.Context, callSID string) ([]twilio.Recording, error)
	DownloadRecording(ctx context.Context, rec twilio.Recording) ([]byte, error)
}

// Config tunes the driver's waits. Zero values are replaced with production
// defaults.
type Config struct {
	DialAttempts          int
	DialRetryDelay        time.Duration
	StatusPollInterval    time.Duration
	CallWaitTimeout       time.Duration
	RecordingPollInterval time.Duration
	RecordingPollAttempts int
}

func (c *Config) applyDefaults() {
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}
	if c.DialRetryDelay <= 0 {
		c.DialRetryDelay = 5 * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 2 * time.Second
	}
	if c.CallWaitTimeout <= 0 {
		c.CallWaitTimeout = 300 * time.Second
	}
	if c.RecordingPollInterval <= 0 {
		c.RecordingPollInterval = 3 * time.Second
	}
	if c.RecordingPollAttempts <= 0 {
		c.RecordingPollAttempts = 15
	}
}

type Driver struct {
	api    CallAPI
	cfg    Config
	logger *slog.Logger
}

func New(api CallAPI, cfg Config, logger *slog.Logger) *Driver {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{api: api, cfg: cfg, logger: logger}
}

// PlaceCall places an outbound call, retrying transient failures with
// exponential backoff. All recordings are dual-channel.
func (d *Driver) PlaceCall(ctx context.Context, to, from, twiml string) (*twilio.Call, error) {
	params := twilio.MakeCallParams{To: to, From: from, Twiml: twiml}

	var lastErr error
	delay := d.cfg.DialRetryDelay
	for attempt := 1; attempt <= d.cfg.DialAttempts; attempt++ {
		call, err := d.api.MakeCall(ctx, params)
		if err == nil {
			d.logger.Info("call placed", "call_sid", call.SID, "to", to, "attempt", attempt)
			return call, nil
		}
		lastErr = err

		var apiErr *twilio.APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 {
			// Bad number, bad TwiML. Retrying will not help.
			break
		}

		d.logger.Warn("call placement failed",
			"to", to, "attempt", attempt, "error", err)
		if attempt < d.cfg.DialAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return nil, &DialError{To: to, Err: lastErr}
}

// AwaitCompletion polls call status until the provider reports a terminal
// state. Running out of the wait budget is not fatal: the last observed call
// state is returned so the caller can still try for a partial recording.
func (d *Driver) AwaitCompletion(ctx context.Context, callSID string) (*twilio.Call, error) {
	var last *twilio.Call

	attempts := int(d.cfg.CallWaitTimeout / d.cfg.StatusPollInterval)
	if attempts < 1 {
		attempts = 1
	}

	err := poll.Until(ctx, d.cfg.StatusPollInterval, attempts, func(ctx context.Context) (bool, error) {
		call, err := d.api.GetCall(ctx, callSID)
		if err != nil {
			return false, err
		}
		last = call
		return twilio.TerminalStatuses[call.Status], nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		d.logger.Warn("call did not reach a terminal state within the wait budget",
			"call_sid", callSID, "status", last.Status)
		return last, nil
	}
	if err != nil {
		return nil, fmt.Errorf("await call %s: %w", callSID, err)
	}

	d.logger.Info("call finished",
		"call_sid", callSID, "status", last.Status, "duration_s", last.DurationSeconds())
	return last, nil
}

// FetchRecording waits for the call's recording media to finish processing
// and downloads it. Dual-channel recordings are preferred; a mono recording
// is used as a fallback since caller and callee audio will be mixed.
func (d *Driver) FetchRecording(ctx context.Context, callSID string) ([]byte, *twilio.Recording, error) {
	var chosen *twilio.Recording

	err := poll.Until(ctx, d.cfg.RecordingPollInterval, d.cfg.RecordingPollAttempts, func(ctx context.Context) (bool, error) {
		recs, err := d.api.ListRecordings(ctx, callSID)
		if err != nil {
			return false, err
		}

		var ready []twilio.Recording
		for _, r := range recs {
			if r.Status == "processing" {
				continue
			}
			ready = append(ready, r)
		}
		if len(ready) == 0 {
			return false, nil
		}

		for i := range ready {
			if ready[i].Channels == 2 {
				chosen = &ready[i]
				return true, nil
			}
		}
		chosen = &ready[0]
		d.logger.Warn("no dual-channel recording, using mixed audio",
			"call_sid", callSID, "recording_sid", chosen.SID, "channels", chosen.Channels)
		return true, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, nil, fmt.Errorf("call %s: %w", callSID, ErrNoRecording)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fetch recording for call %s: %w", callSID, err)
	}

	data, err := d.api.DownloadRecording(ctx, *chosen)
	if err != nil {
		return nil, nil, fmt.Errorf("download recording %s: %w", chosen.SID, err)
	}

	d.logger.Info("recording downloaded",
		"call_sid", callSID, "recording_sid", chosen.SID,
		"channels", chosen.Channels, "bytes", len(data))
	return data, chosen, nil
}
