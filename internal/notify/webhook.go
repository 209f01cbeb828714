package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notices as JSON to each configured URL.
type Webhook struct {
	URLs   []string
	Client *http.Client
}

type webhookBody struct {
	Audience string `json:"audience"`
	Notice
	Subject string `json:"subject"`
}

func (w Webhook) NotifyReviewers(ctx context.Context, n Notice) error {
	return w.post(ctx, "reviewers", n)
}

func (w Webhook) NotifyContributor(ctx context.Context, n Notice) error {
	return w.post(ctx, "contributor", n)
}

func (w Webhook) post(ctx context.Context, audience string, n Notice) error {
	data, err := json.Marshal(webhookBody{Audience: audience, Notice: n, Subject: n.Subject()})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	for _, url := range w.URLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Stillpoint-Event", n.Event)
		req.Header.Set("X-Stillpoint-Audience", audience)
		res, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", url, err)
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return fmt.Errorf("webhook %s: status %d: %s", url, res.StatusCode, strings.TrimSpace(string(body)))
		}
	}
	return nil
}
