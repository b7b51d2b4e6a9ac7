// Package health reports process liveness to healthchecks.io.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thrillee/smppgateway/internal/config"
	"golang.org/x/time/rate"
)

// Pinger receives liveness signals. Calls never block.
type Pinger interface {
	Success()
	Failure()
}

// Nop discards every signal.
type Nop struct{}

func (Nop) Success() {}
func (Nop) Failure() {}

// HealthchecksIO pings a check by UUID or by ping key and slug.
type HealthchecksIO struct {
	checkURL string
	client   *http.Client
	limiter  *rate.Limiter

	// One pending slot each; repeated signals of a kind collapse into it.
	successes chan struct{}
	failures  chan struct{}
}

// NewHealthchecksIO builds a pinger from cfg. Call Run to start sending.
func NewHealthchecksIO(cfg config.HealthConfig) (*HealthchecksIO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.New("healthchecks.io is not configured")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://hc-ping.com"
	}

	var checkURL string
	if cfg.CheckUUID != "" {
		id, err := uuid.Parse(cfg.CheckUUID)
		if err != nil {
			return nil, fmt.Errorf("invalid healthchecks.io check uuid: %w", err)
		}
		checkURL = base + "/" + id.String()
	} else {
		checkURL = base + "/" + cfg.PingKey + "/" + cfg.CheckSlug
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HealthchecksIO{
		checkURL:  checkURL,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Every(time.Minute), 1),
		successes: make(chan struct{}, 1),
		failures:  make(chan struct{}, 1),
	}, nil
}

// Success queues a success ping unless one is already pending.
func (h *HealthchecksIO) Success() { offer(h.successes) }

// Failure queues a failure ping unless one is already pending. Successes never
// take its place.
func (h *HealthchecksIO) Failure() { offer(h.failures) }

func offer(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Run sends queued pings until ctx is cancelled, then flushes a pending
// failure so a crash is still reported.
func (h *HealthchecksIO) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			h.flush()
			return nil
		}
		select {
		case <-h.failures:
			h.ping(ctx, h.checkURL+"/fail")
			continue
		default:
		}
		select {
		case <-ctx.Done():
			h.flush()
			return nil
		case <-h.failures:
			h.ping(ctx, h.checkURL+"/fail")
		case <-h.successes:
			if h.limiter.Allow() {
				h.ping(ctx, h.checkURL)
			}
		}
	}
}

func (h *HealthchecksIO) flush() {
	select {
	case <-h.failures:
		ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
		defer cancel()
		h.ping(ctx, h.checkURL+"/fail")
	default:
	}
}

func (h *HealthchecksIO) ping(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build health ping", slog.Any("error", err))
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "Health ping failed", slog.String("url", url), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "Health ping rejected", slog.String("url", url), slog.Int("http_status", resp.StatusCode))
		return
	}
	slog.DebugContext(ctx, "Health ping sent", slog.String("url", url))
}

var (
	_ Pinger = Nop{}
	_ Pinger = (*HealthchecksIO)(nil)
)
