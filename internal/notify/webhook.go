package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/multierr"

	"github.com/spec-kit/referral-service/internal/config"
)

const (
	SignatureHeader = "X-Referral-Signature"
	EventHeader     = "X-Referral-Event"
	SiteHeader      = "X-Referral-Site"
)

// webhookEnvelope is the JSON body posted to the endpoint.
type webhookEnvelope struct {
	Event   string    `json:"event"`
	SiteID  string    `json:"site_id"`
	SentAt  time.Time `json:"sent_at"`
	Payload any       `json:"payload"`
}

// HTTPEmitter posts webhook events with fiber's client agent.
type HTTPEmitter struct {
	url     string
	secret  []byte
	timeout time.Duration
}

// NewHTTPEmitter builds an emitter for the configured endpoint.
func NewHTTPEmitter(cfg config.NotificationConfig) *HTTPEmitter {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmitter{url: cfg.WebhookURL, secret: []byte(cfg.WebhookSecret), timeout: timeout}
}

// Emit posts the event and treats any non-2xx response as a failure.
func (e *HTTPEmitter) Emit(ctx context.Context, eventName, siteID string, payload any) error {
	body, err := json.Marshal(webhookEnvelope{
		Event:   eventName,
		SiteID:  siteID,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode webhook %s: %w", eventName, err)
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("webhook %s: %w", eventName, context.DeadlineExceeded)
	}

	agent := fiber.Post(e.url)
	agent.Body(body)
	agent.ContentType(fiber.MIMEApplicationJSON)
	agent.Set(EventHeader, eventName)
	agent.Set(SiteHeader, siteID)
	if len(e.secret) > 0 {
		agent.Set(SignatureHeader, Sign(e.secret, body))
	}
	agent.Timeout(timeout)

	status, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("post webhook %s: %w", eventName, multierr.Combine(errs...))
	}
	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return fmt.Errorf("post webhook %s: unexpected status %d", eventName, status)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body prefixed with the algorithm name.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
