// Package session runs the navigation state machine for one phone number:
// place a call with the current button plan, classify what answered, and
// either extend the plan, retry past a human, or finish.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elie-eliseai/callzilla/internal/audio"
	"github.com/elie-eliseai/callzilla/internal/classify"
	"github.com/elie-eliseai/callzilla/internal/disclaimer"
	"github.com/elie-eliseai/callzilla/internal/store"
	"github.com/elie-eliseai/callzilla/internal/timing"
	"github.com/elie-eliseai/callzilla/internal/transcribe"
	"github.com/elie-eliseai/callzilla/internal/twilio"
	"github.com/elie-eliseai/callzilla/internal/twiml"
)

// Session outcomes. A terminal outcome means no further calls are placed
// for the number.
const (
	OutcomeResolved      = "resolved"
	OutcomeOutOfService  = "out_of_service"
	OutcomeNoMachine     = "could_not_reach_machine_endpoint"
	OutcomeUnresolved    = "could_not_resolve"
	OutcomeManualReview  = "needs_manual_review"
	OutcomeSessionFailed = "error"
)

// pressBuffer is the fixed 1s pad after a detected phrase end, chosen so a
// digit is never sent while the menu voice is still finishing the word.
// trimPad accounts for the duration of the press itself when computing how
// much leading audio prior presses already consumed. Both are behavioral
// constants, not tunables.
const (
	pressBuffer = 1.0
	trimPad     = 1.0
)

// A transcript this short on a call this brief is someone picking up and
// hanging up, not a menu.
const (
	hangupTranscriptLen = 10
	hangupCallSeconds   = 15
)

// Job identifies one phone line to probe.
type Job struct {
	PropertyID   string `json:"property_id"`
	PropertyName string `json:"property_name"`
	Phone        string `json:"phone"`
}

// Result is the terminal record of a session.
type Result struct {
	SessionID           uuid.UUID
	Job                 Job
	Outcome             string
	FinalClassification string
	DisclaimerFound     bool
	DisclaimerSnippet   string
	Plan                []twiml.Step
	Attempts            int
	HumanRetries        int
	StartedAt           time.Time
	CompletedAt         time.Time
	Note                string
}

// CallDriver places calls and retrieves their recordings.
type CallDriver interface {
	PlaceCall(ctx context.Context, to, from, twimlDoc string) (*twilio.Call, error)
	AwaitCompletion(ctx context.Context, callSID string) (*twilio.Call, error)
	FetchRecording(ctx context.Context, callSID string) ([]byte, *twilio.Recording, error)
}

// Transcriber converts WAV audio to timestamped text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (*transcribe.Result, error)
}

// CategoryClassifier labels a transcript given the session's history.
type CategoryClassifier interface {
	Classify(ctx context.Context, transcript string, history []string) (classify.Result, error)
}

// AttemptSink receives one row per placed call. The results writer
// implements this.
type AttemptSink interface {
	Add(attempt store.CallAttempt) error
}

// Notifier receives out-of-band alerts for findings that need a person.
// Implementations must be non-blocking or fast.
type Notifier interface {
	DisclaimerFound(ctx context.Context, job Job, snippet string)
	ManualReviewNeeded(ctx context.Context, job Job, reason string)
}

// Config carries the navigation limits and delays.
type Config struct {
	FromNumber      string
	ProbeMessage    string
	MaxTreeDepth    int
	MaxHumanRetries int
	TreeStepDelay   time.Duration
	HumanRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTreeDepth <= 0 {
		c.MaxTreeDepth = 5
	}
	if c.MaxHumanRetries <= 0 {
		c.MaxHumanRetries = 3
	}
	if c.TreeStepDelay <= 0 {
		c.TreeStepDelay = 5 * time.Second
	}
	if c.HumanRetryDelay <= 0 {
		c.HumanRetryDelay = 10 * time.Second
	}
}

// Runner executes sessions. Safe for use by one goroutine per session;
// sessions share no mutable state.
type Runner struct {
	driver     CallDriver
	stt        Transcriber
	classifier CategoryClassifier
	matcher    *disclaimer.Matcher
	sink       AttemptSink
	notifier   Notifier
	cfg        Config
	logger     *slog.Logger
}

func NewRunner(driver CallDriver, stt Transcriber, classifier CategoryClassifier,
	matcher *disclaimer.Matcher, sink AttemptSink, notifier Notifier,
	cfg Config, logger *slog.Logger) *Runner {

	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		driver:     driver,
		stt:        stt,
		classifier: classifier,
		matcher:    matcher,
		sink:       sink,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// session is the mutable state for one run.
type session struct {
	id           uuid.UUID
	job          Job
	plan         []twiml.Step
	attempts     int
	humanRetries int
	history      []string

	disclaimerFound   bool
	disclaimerSnippet string
}

// attemptOutcome is what one placed call produced.
type attemptOutcome struct {
	classification classify.Result
	transcript     *transcribe.Result
	trimSeconds    float64
	needsReview    bool
}

// Run drives the session to a terminal outcome. The returned Result is
// non-nil even when err is non-nil, so a failed session can still be
// recorded and published.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	sess := &session{id: uuid.New(), job: job}
	started := time.Now().UTC()

	log := r.logger.With("session_id", sess.id, "property_id", job.PropertyID, "phone", job.Phone)
	log.Info("session started")

	result, err := r.loop(ctx, sess, log)
	result.SessionID = sess.id
	result.Job = job
	result.Plan = sess.plan
	result.Attempts = sess.attempts
	result.HumanRetries = sess.humanRetries
	result.DisclaimerFound = sess.disclaimerFound
	result.DisclaimerSnippet = sess.disclaimerSnippet
	result.StartedAt = started
	result.CompletedAt = time.Now().UTC()

	log.Info("session finished",
		"outcome", result.Outcome,
		"final_classification", result.FinalClassification,
		"disclaimer_found", result.DisclaimerFound,
		"attempts", result.Attempts,
		"plan_depth", len(sess.plan))
	return result, err
}

func (r *Runner) loop(ctx context.Context, sess *session, log *slog.Logger) (*Result, error) {
	for {
		out, err := r.runAttempt(ctx, sess, log)
		if err != nil {
			return &Result{Outcome: OutcomeSessionFailed, Note: err.Error()}, err
		}

		cls := out.classification
		final := string(cls.Category)
		switch cls.Category {
		case classify.CategoryOutOfService:
			return &Result{Outcome: OutcomeOutOfService, FinalClassification: final}, nil

		case classify.CategoryHuman:
			sess.humanRetries++
			if sess.humanRetries >= r.cfg.MaxHumanRetries {
				return &Result{
					Outcome:             OutcomeNoMachine,
					FinalClassification: final,
					Note:                "could not reach a machine endpoint",
				}, nil
			}
			log.Info("human answered, retrying same plan",
				"retry", sess.humanRetries, "max", r.cfg.MaxHumanRetries)
			if err := sleep(ctx, r.cfg.HumanRetryDelay); err != nil {
				return &Result{Outcome: OutcomeSessionFailed, Note: err.Error()}, err
			}

		case classify.CategoryCallTree:
			if cls.Digit == classify.HoldSignal {
				log.Warn("menu holds for a human, pickup cannot be detected")
				if r.notifier != nil {
					r.notifier.ManualReviewNeeded(ctx, sess.job, "menu places caller in a hold queue")
				}
				return &Result{
					Outcome:             OutcomeManualReview,
					FinalClassification: final,
					Note:                "hold queue, human pickup not detectable",
				}, nil
			}
			if len(sess.plan) >= r.cfg.MaxTreeDepth {
				log.Warn("menu depth limit reached", "depth", len(sess.plan))
				return &Result{
					Outcome:             OutcomeUnresolved,
					FinalClassification: final,
					Note:                "menu depth limit reached",
				}, nil
			}

			if err := r.extendPlan(sess, out, log); err != nil {
				return &Result{Outcome: OutcomeSessionFailed, FinalClassification: final, Note: err.Error()}, err
			}
			if err := sleep(ctx, r.cfg.TreeStepDelay); err != nil {
				return &Result{Outcome: OutcomeSessionFailed, Note: err.Error()}, err
			}

		default:
			// voicemail, ai_assistant, unknown
			return &Result{Outcome: OutcomeResolved, FinalClassification: final}, nil
		}
	}
}

// extendPlan appends the next press at an offset derived from where the
// matched menu phrase ended in the trimmed audio.
func (r *Runner) extendPlan(sess *session, out *attemptOutcome, log *slog.Logger) error {
	phraseEnd, err := timing.FindPhraseEnd(out.transcript.Words, out.classification.KeyPhrase)
	if err != nil {
		if errors.Is(err, timing.ErrPhraseNotFound) {
			return fmt.Errorf("locate phrase %q in transcript: %w", out.classification.KeyPhrase, err)
		}
		return err
	}

	prevLast := 0.0
	if n := len(sess.plan); n > 0 {
		prevLast = sess.plan[n-1].OffsetSeconds
	}
	offset := prevLast + phraseEnd + pressBuffer

	step := twiml.Step{OffsetSeconds: offset, Digit: out.classification.Digit}
	sess.plan = append(sess.plan, step)
	log.Info("plan extended",
		"digit", step.Digit, "offset_s", step.OffsetSeconds,
		"phrase", out.classification.KeyPhrase, "depth", len(sess.plan))
	return nil
}

// runAttempt places one call, waits it out, and classifies the recording.
func (r *Runner) runAttempt(ctx context.Context, sess *session, log *slog.Logger) (*attemptOutcome, error) {
	sess.attempts++
	log = log.With("attempt", sess.attempts, "plan_depth", len(sess.plan))

	var doc string
	if len(sess.plan) == 0 {
		doc = twiml.Exploration(r.cfg.ProbeMessage)
	} else {
		doc = twiml.ButtonSequence(sess.plan, r.cfg.ProbeMessage)
	}

	call, err := r.driver.PlaceCall(ctx, sess.job.Phone, r.cfg.FromNumber, doc)
	if err != nil {
		return nil, fmt.Errorf("place call: %w", err)
	}

	call, err = r.driver.AwaitCompletion(ctx, call.SID)
	if err != nil {
		return nil, fmt.Errorf("await call: %w", err)
	}

	switch call.Status {
	case twilio.StatusBusy, twilio.StatusNoAnswer, twilio.StatusFailed:
		log.Warn("line unreachable", "call_sid", call.SID, "status", call.Status)
		out := &attemptOutcome{classification: classify.Result{
			Category:  classify.CategoryOutOfService,
			Reasoning: fmt.Sprintf("provider reported %s", call.Status),
		}}
		r.logAttempt(sess, call, "", "", out, log)
		return out, nil
	}

	recData, rec, err := r.driver.FetchRecording(ctx, call.SID)
	if err != nil {
		return nil, fmt.Errorf("fetch recording: %w", err)
	}

	out, err := r.analyze(ctx, sess, call, recData, log)
	if err != nil {
		return nil, err
	}
	r.logAttempt(sess, call, rec.SID, out.transcript.Text, out, log)
	return out, nil
}

// analyze extracts the remote channel, trims audio already consumed by
// prior presses, transcribes, and classifies.
func (r *Runner) analyze(ctx context.Context, sess *session, call *twilio.Call, recData []byte, log *slog.Logger) (*attemptOutcome, error) {
	trimSeconds := 0.0
	if n := len(sess.plan); n > 0 {
		trimSeconds = sess.plan[n-1].OffsetSeconds + trimPad
	}

	wavForSTT := recData
	if remote, _, ok := audio.SplitChannels(recData); ok {
		clip := remote
		if trimSeconds > 0 {
			clip = audio.TrimLeading(clip, trimSeconds)
		}
		encoded, err := audio.EncodeWAV(clip)
		if err != nil {
			log.Warn("re-encode failed, transcribing raw recording", "error", err)
		} else {
			wavForSTT = encoded
		}
	} else {
		log.Warn("channel split failed, transcribing mixed audio")
	}

	tr, err := r.stt.Transcribe(ctx, wavForSTT)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	log.Info("transcribed", "call_sid", call.SID, "chars", len(text), "words", len(tr.Words))

	// Someone picked up and hung up before saying anything useful.
	if len(text) < hangupTranscriptLen && call.DurationSeconds() < hangupCallSeconds {
		sess.history = append(sess.history, text)
		return &attemptOutcome{
			classification: classify.Result{
				Category:  classify.CategoryHuman,
				Reasoning: "near-empty transcript on a short call, treated as human hangup",
			},
			transcript:  tr,
			trimSeconds: trimSeconds,
		}, nil
	}

	finding := r.matcher.Match(text)
	if finding.Found && !sess.disclaimerFound {
		sess.disclaimerFound = true
		sess.disclaimerSnippet = finding.Snippet
		log.Info("disclaimer detected", "snippet", finding.Snippet)
		if r.notifier != nil {
			r.notifier.DisclaimerFound(ctx, sess.job, finding.Snippet)
		}
	}

	cls, err := r.classifier.Classify(ctx, text, sess.history)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	sess.history = append(sess.history, text)

	// The disclaimer is ground truth; the classifier is not authoritative
	// over it.
	if finding.Found && cls.Category != classify.CategoryAIAssistant {
		log.Info("disclaimer overrides classification", "was", cls.Category)
		cls.Category = classify.CategoryAIAssistant
	}

	out := &attemptOutcome{transcript: tr, trimSeconds: trimSeconds}
	if cls.Category == classify.CategoryCallTree && cls.Digit == "" {
		// Most menus route the primary option on 1. Flag it so a person
		// can verify.
		cls.Digit = "1"
		out.needsReview = true
	}
	out.classification = cls

	log.Info("classified",
		"call_sid", call.SID, "category", cls.Category,
		"digit", cls.Digit, "key_phrase", cls.KeyPhrase)
	return out, nil
}

func (r *Runner) logAttempt(sess *session, call *twilio.Call, recordingSID, transcript string, out *attemptOutcome, log *slog.Logger) {
	if r.sink == nil {
		return
	}
	planCopy := make([]twiml.Step, len(sess.plan))
	copy(planCopy, sess.plan)

	attempt := store.CallAttempt{
		ID:              uuid.New(),
		SessionID:       sess.id,
		PropertyID:      sess.job.PropertyID,
		PropertyName:    sess.job.PropertyName,
		Phone:           sess.job.Phone,
		CallSID:         call.SID,
		AttemptNumber:   sess.attempts,
		Classification:  string(out.classification.Category),
		Digit:           out.classification.Digit,
		Plan:            planCopy,
		DisclaimerFound: sess.disclaimerFound,
		Transcript:      transcript,
		Reasoning:       out.classification.Reasoning,
		RecordingSID:    recordingSID,
		NeedsReview:     out.needsReview,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.sink.Add(attempt); err != nil {
		log.Error("failed to record attempt", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
