// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smpp_gateway"

var (
	PDUsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdus_sent_total",
			Help:      "PDUs written to the carrier.",
		},
		[]string{"backend", "command"},
	)

	PDUsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdus_received_total",
			Help:      "PDUs read from the carrier.",
		},
		[]string{"backend", "command"},
	)

	OutboundClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_claimed_total",
			Help:      "MT messages claimed for sending.",
		},
		[]string{"backend"},
	)

	// OutboundFinished counts claimed MT messages by the state the session left them in.
	OutboundFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_finished_total",
			Help:      "Claimed MT messages by outcome (sent, error).",
		},
		[]string{"backend", "status"},
	)

	SubmitAcks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_acks_total",
			Help:      "submit_sm_resp and generic_nack by command status and match.",
		},
		[]string{"backend", "status", "matched"},
	)

	Receipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_receipts_total",
			Help:      "Delivery receipts by whether an attempt matched.",
		},
		[]string{"backend", "matched"},
	)

	DrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Time spent claiming and submitting one outbound batch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	InboundDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dispatched_total",
			Help:      "MO messages handled by the dispatch worker, by outcome.",
		},
		[]string{"outcome"},
	)

	OutboundQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_queued_total",
			Help:      "MT messages inserted by the submission backend.",
		},
		[]string{"backend"},
	)
)

// Bool is a label value for true/false outcomes.
func Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr disables it.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Metrics server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(ctx, "Metrics server shutdown failed", slog.Any("error", err))
		}
		return nil
	}
}
