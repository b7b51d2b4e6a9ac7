package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/thrillee/smppgateway/internal/logging"
)

// HTTPConfig configures the webhook router.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPRouter POSTs each message as JSON to a webhook.
type HTTPRouter struct {
	config HTTPConfig
	client *http.Client
}

func NewHTTPRouter(cfg HTTPConfig) *HTTPRouter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPRouter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Receive succeeds only on a 2xx answer.
func (r *HTTPRouter) Receive(ctx context.Context, msg Message) error {
	logCtx := logging.ContextWithMOMessageID(ctx, msg.InboundID)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal inbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(logCtx, http.MethodPost, r.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "smpp-gateway/1.0")
	if r.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook %s: %w", r.config.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook %s returned status %d", r.config.URL, resp.StatusCode)
		slog.WarnContext(logCtx, "Webhook rejected inbound message", slog.Int("http_status", resp.StatusCode))
		return err
	}
	slog.DebugContext(logCtx, "Inbound message forwarded to webhook", slog.Int("http_status", resp.StatusCode))
	return nil
}

var _ Router = (*HTTPRouter)(nil)
