package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fetchledger/internal/config"
)

const userAgent = "fetchledger/0.1"

// RunSummary is the subset of a run result worth pushing.
type RunSummary struct {
	RunID        string
	Verified     int
	DigestFailed int
	Pending      int
	Passes       int
	Duration     time.Duration
}

func (s RunSummary) incomplete() bool {
	return s.DigestFailed > 0 || s.Pending > 0
}

// Service defines the notification surface exposed to the runner.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary RunSummary) error
	NotifyChainBroken(ctx context.Context, ledgerPath string, cause error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService returns an ntfy-backed Service, or a no-op one when cfg is nil
// or no topic is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		topicURL: strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:   &http.Client{Timeout: timeout},
	}
}

// notice is one ntfy message. Empty header fields are not sent.
type notice struct {
	Title    string
	Body     string
	Tags     []string
	Priority string
}

func (m notice) headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	if m.Title != "" {
		h.Set("Title", m.Title)
	}
	if len(m.Tags) > 0 {
		h.Set("Tags", strings.Join(m.Tags, ","))
	}
	if m.Priority != "" {
		h.Set("Priority", m.Priority)
	}
	return h
}

type ntfyService struct {
	topicURL string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, s RunSummary) error {
	took := max(s.Duration.Round(time.Second), 0)
	m := notice{
		Title: "fetchledger - Run Complete",
		Body:  fmt.Sprintf("✅ %d verified in %s", s.Verified, took),
		Tags:  []string{"fetchledger", "run", "completed"},
	}
	if s.incomplete() {
		m.Title += " (incomplete)"
		m.Body = fmt.Sprintf("%d verified, %d digest failures, %d still pending after %d passes in %s",
			s.Verified, s.DigestFailed, s.Pending, s.Passes, took)
	}
	if s.RunID != "" {
		m.Body += "\nRun: " + s.RunID
	}
	return n.post(ctx, m)
}

func (n *ntfyService) NotifyChainBroken(ctx context.Context, ledgerPath string, cause error) error {
	lines := []string{"⛓️ Ledger chain is broken: " + strings.TrimSpace(ledgerPath)}
	if cause != nil {
		lines = append(lines, strings.TrimSpace(cause.Error()))
	}
	lines = append(lines, "Prior verification records can no longer be trusted; delete the ledger and restart.")
	return n.post(ctx, notice{
		Title:    "fetchledger - Chain Broken",
		Body:     strings.Join(lines, "\n"),
		Tags:     []string{"fetchledger", "ledger", "alert"},
		Priority: "urgent",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, during string) error {
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	body := "❌ Error: " + reason
	if during = strings.TrimSpace(during); during != "" {
		body = "❌ Error during " + during + ": " + reason
	}
	return n.post(ctx, notice{
		Title:    "fetchledger - Error",
		Body:     body,
		Tags:     []string{"fetchledger", "error", "alert"},
		Priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.post(ctx, notice{
		Title:    "fetchledger - Test",
		Body:     "🧪 Notification system test",
		Tags:     []string{"fetchledger", "test"},
		Priority: "low",
	})
}

func (n *ntfyService) post(ctx context.Context, m notice) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(m.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header = m.headers()

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunSummary) error   { return nil }
func (noopService) NotifyChainBroken(context.Context, string, error) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error       { return nil }
func (noopService) TestNotification(context.Context) error                 { return nil }
