package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	retryAttempts = 3
	retryDelay    = time.Second
)

// Waha sends WhatsApp messages through a WAHA gateway.
type Waha struct {
	URL     string
	APIKey  string
	Session string
	Phone   string
	HTTP    *http.Client

	log *logrus.Logger
}

// NewWaha creates a notifier. URL and Phone left empty disable it.
func NewWaha(log *logrus.Logger, url, apiKey, session, phone string) *Waha {
	if session == "" {
		session = "default"
	}
	return &Waha{
		URL:     strings.TrimRight(url, "/"),
		APIKey:  apiKey,
		Session: session,
		Phone:   phone,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Enabled reports whether the gateway is configured.
func (w *Waha) Enabled() bool {
	return w.URL != "" && w.Phone != ""
}

// Send delivers one message to the configured phone number.
func (w *Waha) Send(ctx context.Context, msg string) error {
	return w.SendTo(ctx, msg, w.Phone)
}

// SendTo delivers one message to an explicit phone number.
func (w *Waha) SendTo(ctx context.Context, msg, phone string) error {
	if w.URL == "" {
		return fmt.Errorf("waha not configured")
	}
	if phone == "" {
		return fmt.Errorf("no phone number configured")
	}

	payload := map[string]any{
		"chatId":  phone + "@c.us",
		"text":    msg,
		"session": w.Session,
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL+"/api/sendText", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.APIKey != "" {
		req.Header.Set("X-Api-Key", w.APIKey)
	}

	res, err := w.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("waha status %d: %s", res.StatusCode, string(body))
	}
	return nil
}

// SendWithRetry retries transient delivery failures with doubling delays.
func (w *Waha) SendWithRetry(ctx context.Context, msg string) error {
	var lastErr error
	delay := retryDelay

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if lastErr = w.Send(ctx, msg); lastErr == nil {
			return nil
		}
		w.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   lastErr,
		}).Warn("Notification delivery failed")

		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("giving up after %d attempts: %w", retryAttempts, lastErr)
}

// RetrySink adapts a gateway for alert delivery: every send goes through
// the retry loop. Interactive sends (the dashboard's test endpoints) keep
// using Send directly so a failure surfaces immediately.
type RetrySink struct {
	waha *Waha
}

// WithRetry wraps a gateway so deliveries retry transient failures.
func WithRetry(w *Waha) *RetrySink {
	return &RetrySink{waha: w}
}

// Enabled reports whether the underlying gateway is configured.
func (s *RetrySink) Enabled() bool {
	return s.waha.Enabled()
}

// Send delivers one message with retries.
func (s *RetrySink) Send(ctx context.Context, msg string) error {
	return s.waha.SendWithRetry(ctx, msg)
}

// GatewayStatus is the health of the WAHA gateway as seen from here.
type GatewayStatus struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Detail     string `json:"detail,omitempty"`
}

// Status probes the gateway's health endpoint.
func (w *Waha) Status(ctx context.Context) GatewayStatus {
	if !w.Enabled() {
		return GatewayStatus{Configured: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL+"/api/health", nil)
	if err != nil {
		return GatewayStatus{Configured: true, Detail: err.Error()}
	}
	if w.APIKey != "" {
		req.Header.Set("X-Api-Key", w.APIKey)
	}

	res, err := w.HTTP.Do(req)
	if err != nil {
		return GatewayStatus{Configured: true, Detail: err.Error()}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 2048))

	if res.StatusCode >= 300 {
		return GatewayStatus{Configured: true, Detail: fmt.Sprintf("status %d", res.StatusCode)}
	}
	return GatewayStatus{Configured: true, Reachable: true}
}
