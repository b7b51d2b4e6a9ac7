// Package router forwards decoded MO messages to the application layer.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/thrillee/smppgateway/internal/config"
)

// Message is a decoded inbound message.
type Message struct {
	InboundID int64  `json:"inbound_id"`
	Backend   string `json:"backend"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
}

// Router accepts inbound messages. A returned error stops the dispatch batch
// and releases the unforwarded rows.
type Router interface {
	Receive(ctx context.Context, msg Message) error
}

// Closer is implemented by routers holding connections.
type Closer interface {
	Close() error
}

// New builds the router selected by cfg.Kind.
func New(cfg config.RouterConfig) (Router, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "log":
		return NewLogRouter(), nil
	case "http", "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("router %q needs ROUTER_WEBHOOK_URL", cfg.Kind)
		}
		return NewHTTPRouter(HTTPConfig{URL: cfg.WebhookURL, Token: cfg.WebhookToken, Timeout: cfg.Timeout}), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("router %q needs ROUTER_KAFKA_BROKERS", cfg.Kind)
		}
		return NewKafkaRouter(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown router kind %q", cfg.Kind)
	}
}
