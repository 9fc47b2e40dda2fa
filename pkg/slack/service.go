package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// ExecutionStartedInput carries the data for a start notification.
type ExecutionStartedInput struct {
	ExecutionID string
	RunbookID   string
	RunbookName string
	Mode        string
}

// ApprovalRequestedInput carries the data for a pending approval gate
// notification.
type ApprovalRequestedInput struct {
	ExecutionID string
	RequestID   string
	StepID      string
	Action      string
	ExpiresAt   string
}

// ExecutionFinishedInput carries the data for a terminal notification.
type ExecutionFinishedInput struct {
	ExecutionID  string
	RunbookName  string
	Status       string // completed, failed, cancelled
	ErrorMessage string
}

// Service posts execution notifications, threading follow-ups under the
// start message. Nil-safe: all methods are no-ops when the service is nil.
// Fail-open: delivery errors are logged, never returned.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger

	mu      sync.Mutex
	threads map[string]string
}

// NewService creates a Slack notification service. Returns nil when Token
// or Channel is empty, which disables notifications entirely.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack_service"),
		threads:      make(map[string]string),
	}
}

// NotifyExecutionStarted posts the start message and remembers its
// timestamp so later notifications thread under it.
func (s *Service) NotifyExecutionStarted(ctx context.Context, in ExecutionStartedInput) {
	if s == nil {
		return
	}
	blocks := BuildStartedMessage(in, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send start notification",
			"execution_id", in.ExecutionID, "error", err)
		return
	}
	s.mu.Lock()
	s.threads[in.ExecutionID] = ts
	s.mu.Unlock()
}

// NotifyApprovalRequested posts a pending approval gate into the
// execution's thread.
func (s *Service) NotifyApprovalRequested(ctx context.Context, in ApprovalRequestedInput) {
	if s == nil {
		return
	}
	blocks := BuildApprovalMessage(in, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, s.threadTS(in.ExecutionID), 5*time.Second); err != nil {
		s.logger.Error("Failed to send approval notification",
			"execution_id", in.ExecutionID, "request_id", in.RequestID, "error", err)
	}
}

// NotifyExecutionFinished posts the terminal status and drops the cached
// thread.
func (s *Service) NotifyExecutionFinished(ctx context.Context, in ExecutionFinishedInput) {
	if s == nil {
		return
	}
	blocks := BuildTerminalMessage(in, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, s.threadTS(in.ExecutionID), 10*time.Second); err != nil {
		s.logger.Error("Failed to send terminal notification",
			"execution_id", in.ExecutionID, "status", in.Status, "error", err)
	}
	s.mu.Lock()
	delete(s.threads, in.ExecutionID)
	s.mu.Unlock()
}

func (s *Service) threadTS(executionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[executionID]
}
