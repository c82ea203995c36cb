// Package relay forwards user messages to a profile's AI backend webhook.
//
// Relaying is best-effort: jobs are queued without blocking the sender and a
// failed relay never affects the persisted message.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/amora/internal/domain"
)

var (
	// ErrQueueFull is returned by Dispatch when the job was dropped.
	ErrQueueFull = errors.New("relay queue full")
	// ErrStopped is returned by Dispatch after Stop.
	ErrStopped = errors.New("relay dispatcher stopped")

	errRetryable = errors.New("retryable webhook failure")
)

// Character describes the counterpart the backend should speak as.
type Character struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	ChatID      string             `json:"chatId"`
	Message     string             `json:"message"`
	MessageType domain.MessageType `json:"messageType"`
	Character   Character          `json:"character"`
	UserID      string             `json:"user_id"`
}

// Job is one message to relay.
type Job struct {
	WebhookURL string
	Payload    Payload
}

// NewJob builds the relay job for a user message sent to profile.
func NewJob(profile *domain.Profile, userID string, msg *domain.Message) Job {
	return Job{
		WebhookURL: profile.WebhookURL,
		Payload: Payload{
			ChatID:      msg.ChatID,
			Message:     msg.Content,
			MessageType: msg.MessageType,
			Character:   Character{Name: profile.Name, Personality: profile.Personality},
			UserID:      userID,
		},
	}
}

// Config holds dispatcher settings.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
}

// DefaultConfig returns default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		BaseBackoff:    500 * time.Millisecond,
	}
}

// Dispatcher posts relay jobs from a bounded queue with a fixed worker pool.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	jobs    chan Job
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start to launch workers.
func NewDispatcher(cfg Config, client *http.Client, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "relay"),
		jobs:   make(chan Job, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("Relay dispatcher started", "workers", d.cfg.Workers, "queue", d.cfg.QueueSize)
}

// Dispatch enqueues a job without blocking.
func (d *Dispatcher) Dispatch(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		d.logger.Warn("Relay queue full, dropping job", "chat_id", job.Payload.ChatID)
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for workers to drain it or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			if err := d.deliver(ctx, job); err != nil {
				d.logger.Error("Relay failed", "worker", id, "chat_id", job.Payload.ChatID, "error", err)
			}
		}
	}
}

// deliver posts one job, retrying network errors and 5xx responses.
func (d *Dispatcher) deliver(ctx context.Context, job Job) error {
	if job.WebhookURL == "" {
		return nil
	}
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = d.post(ctx, job.WebhookURL, body)
		if lastErr == nil {
			d.logger.Debug("Relay delivered", "chat_id", job.Payload.ChatID, "attempt", attempt)
			return nil
		}
		if !errors.Is(lastErr, errRetryable) || attempt == d.cfg.MaxAttempts {
			break
		}

		backoff := d.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
		d.logger.Warn("Relay attempt failed, retrying", "chat_id", job.Payload.ChatID, "attempt", attempt, "backoff", backoff, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: webhook returned %d", errRetryable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
