// Command mo-listener forwards stored MO messages to the configured router.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/inbound"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/router"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "mo-listener",
		Usage: "Receive inbound MO messages and pass them to the router",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "channel", Usage: "Postgres channel announcing new MO messages (default new_mo_msg)"},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("mo-listener exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.LogLevel)

	channel := cfg.Inbound.Channel
	if cmd.IsSet("channel") {
		channel = cmd.String("channel")
	}
	ctx = logging.ContextWithChannel(ctx, channel)

	rt, err := router.New(cfg.Router)
	if err != nil {
		return err
	}
	if c, ok := rt.(router.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				slog.WarnContext(ctx, "Failed to close router", slog.Any("error", err))
			}
		}()
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := database.ConnectListener(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	listener, err := pgnotify.Listen(ctx, conn, channel)
	if err != nil {
		_ = conn.Close(context.Background())
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := listener.Close(closeCtx); err != nil {
			slog.WarnContext(ctx, "Failed to close listener", slog.Any("error", err))
		}
	}()

	worker := inbound.NewWorker(store.New(pool), rt, listener, inbound.Config{
		BatchSize:     cfg.Inbound.BatchSize,
		SweepInterval: cfg.Inbound.SweepInterval,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error { return metrics.Serve(runCtx, cfg.MetricsAddr) })
	g.Go(func() error {
		defer cancelRun()
		return worker.Run(runCtx)
	})

	slog.InfoContext(ctx, "Listening for inbound messages")
	return g.Wait()
}
