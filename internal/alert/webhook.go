package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"posturewatch/internal/external"
	"posturewatch/internal/types"
)

// Platform identifies a webhook destination's payload dialect.
type Platform string

const (
	PlatformGeneric    Platform = "generic"
	PlatformSlack      Platform = "slack"
	PlatformDiscord    Platform = "discord"
	PlatformGoogleChat Platform = "google_chat"
	PlatformTeams      Platform = "teams"
)

// DetectPlatform inspects the URL for well-known webhook hosts and falls
// back to PlatformGeneric.
func DetectPlatform(url string) Platform {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "hooks.slack.com"):
		return PlatformSlack
	case strings.Contains(lower, "discord.com/api/webhooks"):
		return PlatformDiscord
	case strings.Contains(lower, "chat.googleapis.com"):
		return PlatformGoogleChat
	case strings.Contains(lower, ".webhook.office.com"), strings.Contains(lower, ".logic.azure.com"):
		return PlatformTeams
	default:
		return PlatformGeneric
	}
}

// genericPayload is the event plus a human summary.
type genericPayload struct {
	Event
	Text string `json:"text"`
}

// FormatPayload renders ev in the dialect of p.
func FormatPayload(p Platform, ev Event) ([]byte, error) {
	text := ev.Text()
	switch p {
	case PlatformSlack, PlatformGoogleChat, PlatformTeams:
		return json.Marshal(map[string]string{"text": text})
	case PlatformDiscord:
		return json.Marshal(map[string]string{"username": "PostureWatch", "content": text})
	default:
		return json.Marshal(genericPayload{Event: ev, Text: text})
	}
}

// WebhookChannel POSTs alert events to a chat or automation webhook.
type WebhookChannel struct {
	url      string
	platform Platform
	client   *external.BaseClient
	logger   *slog.Logger
}

// NewWebhookChannel creates a WebhookChannel. Deliveries are retried per
// the BaseClient's policy.
func NewWebhookChannel(url string, client *external.BaseClient, logger *slog.Logger) *WebhookChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookChannel{
		url:      url,
		platform: DetectPlatform(url),
		client:   client,
		logger:   logger,
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Deliver(ctx context.Context, ev Event) error {
	body, err := FormatPayload(w.platform, ev)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to format webhook payload", err)
	}

	ctx = types.WithSessionID(ctx, ev.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Id", ev.ID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	w.logger.DebugContext(ctx, "webhook accepted alert",
		"platform", string(w.platform),
		"status_code", resp.StatusCode,
	)
	return nil
}
