package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// WebhookHandler posts notifications to Slack, Teams, or a generic HTTP
// endpoint, depending on its format.
type WebhookHandler struct {
	// Format is one of "slack", "teams", "http".
	Format string
	URL    string
	Client *http.Client
}

func (h *WebhookHandler) Send(ctx context.Context, n Notification) error {
	if h.URL == "" {
		return fmt.Errorf("webhook url not configured")
	}

	var body []byte
	switch h.Format {
	case "slack":
		body, _ = json.Marshal(map[string]string{
			"text": fmt.Sprintf("*%s*\n%s", n.Title, n.Body),
		})
	case "teams":
		body, _ = json.Marshal(map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(n.Alert.Severity.String()),
			"summary":    n.Alert.Title,
			"title":      n.Title,
			"text":       n.Body,
		})
	default:
		body, _ = json.Marshal(map[string]interface{}{
			"type":  n.Kind,
			"title": n.Title,
			"body":  n.Body,
			"alert": n.Alert,
		})
	}
	return h.post(ctx, h.URL, "application/json", body)
}

func (h *WebhookHandler) post(ctx context.Context, target, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// TelegramHandler sends notifications through the Telegram bot API.
type TelegramHandler struct {
	Token  string
	ChatID string
	Client *http.Client

	// BaseURL overrides the API host in tests.
	BaseURL string
}

func (h *TelegramHandler) Send(ctx context.Context, n Notification) error {
	if h.Token == "" || h.ChatID == "" {
		return fmt.Errorf("telegram token or chat id not configured")
	}

	base := h.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, h.Token)

	form := url.Values{}
	form.Set("chat_id", h.ChatID)
	form.Set("text", n.Title+"\n"+n.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned HTTP %d", resp.StatusCode)
	}
	return nil
}
