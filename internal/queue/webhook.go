package queue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier delivers finished results to caller-supplied URLs.
// Delivery is a single attempt with a short timeout; failures are
// logged and never affect the task's terminal state.
type WebhookNotifier struct {
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookNotifier creates a notifier with the given delivery timeout
// (default 10s).
func NewWebhookNotifier(timeout time.Duration, log zerolog.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Notify POSTs the payload as JSON to url. Returns only for the
// caller's logging benefit; errors must not be escalated.
func (n *WebhookNotifier) Notify(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to marshal webhook payload")
		return err
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Warn().Str("url", url).Err(err).Msg("Webhook delivery failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("Webhook rejected")
		return nil
	}

	n.log.Info().Str("url", url).Msg("Webhook delivered")
	return nil
}
