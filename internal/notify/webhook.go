package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// WebhookSink posts messages as JSON to an HTTP endpoint.
type WebhookSink struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url. A bearer token is read from
// HARVEST_WEBHOOK_TOKEN when set.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		token:  os.Getenv("HARVEST_WEBHOOK_TOKEN"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type webhookPayload struct {
	Event   string  `json:"event"`
	Message Message `json:"message"`
}

type webhookResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Send posts msg and fails on non-2xx answers.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	jsonBody, err := json.Marshal(webhookPayload{Event: "harvest.stale_datasets", Message: msg})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp webhookResponse
		if json.Unmarshal(body, &apiResp) == nil && apiResp.Error != nil {
			return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, apiResp.Error.Message)
		}
		return fmt.Errorf("webhook error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
