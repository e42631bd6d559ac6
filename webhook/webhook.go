// Package webhook posts lookup outcomes to a configured endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/ppsr/models"
)

// Event types.
const (
	EventLookupCompleted = "lookup.completed"
	EventLookupFailed    = "lookup.failed"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-PPSR-Signature"

// Event is the payload sent to webhook endpoints. It carries the result
// only; credentials are never part of a result.
type Event struct {
	Type      string                   `json:"type"`
	RequestID string                   `json:"request_id"`
	Timestamp int64                    `json:"timestamp"`
	Data      *models.AutomationResult `json:"data"`
}

// NewEvent builds the event for a finished lookup.
func NewEvent(result *models.AutomationResult) *Event {
	typ := EventLookupCompleted
	if !result.Succeeded() {
		typ = EventLookupFailed
	}
	return &Event{
		Type:      typ,
		RequestID: result.RequestID,
		Timestamp: time.Now().Unix(),
		Data:      result,
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notifier delivers events to one endpoint. A nil *Notifier is valid and
// drops every event, so callers need no "webhook configured?" checks.
type Notifier struct {
	url    string
	secret string
	client *http.Client

	// delays between attempts; the first attempt is immediate.
	delays []time.Duration

	wg sync.WaitGroup
}

// New returns a Notifier for url, or nil when url is empty.
func New(url, secret string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if a secret is configured.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PPSR-Webhook/1.0")

	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notify sends the lookup outcome asynchronously, retrying on failure.
func (n *Notifier) Notify(result *models.AutomationResult) {
	if n == nil {
		return
	}
	event := NewEvent(result)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for attempt, delay := range n.delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := n.Deliver(ctx, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"event", event.Type,
					"request_id", event.RequestID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"event", event.Type,
				"request_id", event.RequestID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"event", event.Type,
			"request_id", event.RequestID,
		)
	}()
}

// Wait blocks until in-flight deliveries finish. Call it on shutdown.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
