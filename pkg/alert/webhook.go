package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tiancaiamao/procguard/pkg/admission"
)

const (
	// DefaultCooldown is the minimum gap between two alerts for one pid.
	DefaultCooldown = 60 * time.Second

	sendTimeout = 10 * time.Second
)

// Webhook posts hang reports to a chat-style webhook as {"content": msg}.
type Webhook struct {
	url      string
	client   *http.Client
	cooldown time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	lastAlerts map[int32]time.Time
	now        func() time.Time
}

// NewWebhook creates a webhook reporter for url.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:        url,
		client:     &http.Client{Timeout: sendTimeout},
		cooldown:   DefaultCooldown,
		logger:     logger.With("component", "alert"),
		lastAlerts: make(map[int32]time.Time),
		now:        time.Now,
	}
}

// ReportHang sends an alert unless one was sent for the pid recently.
// Delivery happens on its own goroutine.
func (w *Webhook) ReportHang(rec *admission.ProcessRecord, age time.Duration) {
	if !w.allow(rec.Pid) {
		return
	}
	msg := fmt.Sprintf("⚠ Process appears hung: PID %d (%s) running for %s", rec.Pid, rec.Command, age.Round(time.Second))
	go func() {
		if err := w.Send(context.Background(), msg); err != nil {
			w.logger.Error("failed to send hang alert", "pid", rec.Pid, "error", err)
		}
	}()
}

func (w *Webhook) allow(pid int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if t, ok := w.lastAlerts[pid]; ok && now.Sub(t) < w.cooldown {
		return false
	}
	for p, t := range w.lastAlerts {
		if now.Sub(t) >= w.cooldown {
			delete(w.lastAlerts, p)
		}
	}
	w.lastAlerts[pid] = now
	return true
}

// Send posts msg to the webhook.
func (w *Webhook) Send(ctx context.Context, msg string) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"content": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
