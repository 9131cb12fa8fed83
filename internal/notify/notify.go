// Package notify publishes batch completion events. Delivery is
// fire-and-forget: a failed publish is the caller's to log, it never
// changes batch state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
)

const userAgent = "audiobatch/0.1.0"

// Event is the published payload. Owner-specific topics keep one tenant's
// events out of another's subscription.
type Event struct {
	BatchID            string                   `json:"batch_id"`
	OwnerID            string                   `json:"owner_id"`
	Status             index.Status             `json:"status"`
	Artifacts          map[artifact.Type]string `json:"artifacts,omitempty"`
	RecordingStartedAt string                   `json:"recording_started_at,omitempty"`
	ErrorMessage       string                   `json:"error_message,omitempty"`
}

// Service delivers batch lifecycle events.
type Service interface {
	PublishCompleted(ctx context.Context, event Event) error
	PublishFailed(ctx context.Context, event Event) error
}

// NewService builds a publisher from config. Disabled or unconfigured
// notification settings yield a noop implementation.
func NewService(cfg config.Notify) Service {
	topic := strings.TrimRight(strings.TrimSpace(cfg.TopicURL), "/")
	if !cfg.Enabled || topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &topicService{
		baseURL:       topic,
		client:        &http.Client{Timeout: timeout},
		sendCompleted: cfg.Completed,
		sendFailed:    cfg.Failed,
	}
}

type topicService struct {
	baseURL       string
	client        *http.Client
	sendCompleted bool
	sendFailed    bool
}

func (s *topicService) PublishCompleted(ctx context.Context, event Event) error {
	if !s.sendCompleted {
		return nil
	}
	return s.send(ctx, event)
}

func (s *topicService) PublishFailed(ctx context.Context, event Event) error {
	if !s.sendFailed {
		return nil
	}
	return s.send(ctx, event)
}

func (s *topicService) send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	url := s.baseURL + "/" + event.OwnerID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("topic returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) PublishCompleted(context.Context, Event) error { return nil }
func (noopService) PublishFailed(context.Context, Event) error    { return nil }
