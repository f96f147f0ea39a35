// Package queue consumes dial jobs from JetStream and runs one session per
// job, publishing terminal outcomes back to the broker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/elie-eliseai/callzilla/internal/session"
	"github.com/elie-eliseai/callzilla/internal/store"
)

const (
	streamName     = "DIAL_JOBS"
	jobSubjects    = "dial.job.>"
	resultSubject  = "dial.result."
	consumerPrefix = "callzilla-"
)

// SessionRunner resolves one phone line to a terminal outcome.
type SessionRunner interface {
	Run(ctx context.Context, job session.Job) (*session.Result, error)
}

type Consumer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	runner SessionRunner
	store  store.Store
	sem    chan struct{}
	sub    jetstream.ConsumeContext
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New connects to NATS. maxConcurrent bounds simultaneously running
// sessions; each session ties up an outbound line, so the default is 1.
func New(natsURL string, runner SessionRunner, st store.Store, maxConcurrent int) (*Consumer, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		nc:     nc,
		js:     js,
		runner: runner,
		store:  st,
		sem:    make(chan struct{}, maxConcurrent),
		ctx:    cctx,
		cancel: cancel,
	}, nil
}

// Start ensures the job stream exists and begins consuming.
func (c *Consumer) Start() error {
	ctx := context.Background()

	if err := c.ensureStream(ctx); err != nil {
		return err
	}

	consumerName := consumerPrefix + streamName
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	c.sub = cc
	slog.Info("subscribed to dial jobs", "stream", streamName, "consumer", consumerName)
	return nil
}

func (c *Consumer) ensureStream(ctx context.Context) error {
	if _, err := c.js.Stream(ctx, streamName); err == nil {
		return nil
	}

	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{jobSubjects},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName, "subjects", jobSubjects)
	return nil
}

func (c *Consumer) handleMessage(msg jetstream.Msg) {
	var job session.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil || job.Phone == "" {
		slog.Warn("malformed dial job, skipping",
			"subject", msg.Subject(), "error", err)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	// Ack before running: a session spans minutes of real phone calls, far
	// past any ack window, and redelivering a half-run session would dial
	// the same line twice.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack dial job", "subject", msg.Subject(), "error", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-c.ctx.Done():
			return
		}
		c.runJob(job)
	}()
}

// runJob executes the session, records its terminal row, and publishes the
// outcome.
func (c *Consumer) runJob(job session.Job) {
	result, err := c.runner.Run(c.ctx, job)
	if err != nil {
		slog.Error("session failed", "property_id", job.PropertyID, "phone", job.Phone, "error", err)
	}
	if result == nil {
		return
	}

	if c.store != nil {
		row := store.CallSession{
			ID:                  result.SessionID,
			PropertyID:          result.Job.PropertyID,
			PropertyName:        result.Job.PropertyName,
			Phone:               result.Job.Phone,
			Outcome:             result.Outcome,
			FinalClassification: result.FinalClassification,
			DisclaimerFound:     result.DisclaimerFound,
			DisclaimerSnippet:   result.DisclaimerSnippet,
			Plan:                result.Plan,
			Attempts:            result.Attempts,
			HumanRetries:        result.HumanRetries,
			CreatedAt:           result.StartedAt,
			CompletedAt:         result.CompletedAt,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.store.InsertSession(ctx, row); err != nil {
			slog.Error("failed to record session", "session_id", result.SessionID, "error", err)
		}
		cancel()
	}

	c.publishResult(result)
}

func (c *Consumer) publishResult(result *session.Result) {
	payload, err := json.Marshal(map[string]any{
		"session_id":           result.SessionID,
		"property_id":          result.Job.PropertyID,
		"phone":                result.Job.Phone,
		"outcome":              result.Outcome,
		"final_classification": result.FinalClassification,
		"disclaimer_found":     result.DisclaimerFound,
		"attempts":             result.Attempts,
		"completed_at":         result.CompletedAt,
	})
	if err != nil {
		slog.Error("failed to marshal session result", "error", err)
		return
	}

	subject := resultSubject + subjectToken(result.Job.PropertyID)
	if err := c.Publish(subject, payload); err != nil {
		slog.Error("failed to publish session result", "subject", subject, "error", err)
		return
	}
	slog.Info("published session result", "subject", subject, "outcome", result.Outcome)
}

// Publish sends a message to NATS (also used by the results writer for
// system alerts).
func (c *Consumer) Publish(subject string, data []byte) error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Publish(subject, data)
}

// Close stops consuming, waits for in-flight sessions, and drains the
// connection.
func (c *Consumer) Close() {
	c.cancel()
	if c.sub != nil {
		c.sub.Stop()
	}
	c.wg.Wait()
	_ = c.nc.Drain()
}

// subjectToken makes an identifier safe to embed in a NATS subject.
func subjectToken(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
