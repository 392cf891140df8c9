package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var webhookTimeout = 30 * time.Second

type webhookPayload struct {
	Content string `json:"content"`
	To      string `json:"to,omitempty"`
}

// WebhookSender posts {"content": ...} to a URL, which is what Discord and
// Slack-style incoming webhooks accept.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: webhookTimeout}}
}

func (w *WebhookSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(webhookPayload{Content: body, To: to})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", w.url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", w.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", w.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", w.url, resp.StatusCode, b)
	}
	return nil
}
