package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"raffleflow/logger"
)

// Discord posts notifications to a Discord webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
	log        *logger.Log
}

// NewDiscord returns a webhook notifier, or a Noop when no URL is configured.
func NewDiscord(webhookURL string) Notifier {
	if webhookURL == "" {
		logger.GetLogger().WithComponent("notify").Info("no webhook configured, notifications disabled")
		return Noop{}
	}
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        logger.GetLogger(),
	}
}

// Notify delivers one message to the webhook.
func (d *Discord) Notify(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.log.WithComponent("notify").Debug("notification delivered")
	return nil
}
