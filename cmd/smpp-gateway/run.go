package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/health"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/outbound"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/sequence"
	"github.com/thrillee/smppgateway/internal/session"
	"github.com/thrillee/smppgateway/internal/store"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.IsSet("database-url") {
		if err := os.Setenv("DATABASE_URL", cmd.String("database-url")); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Setup(cfg.LogLevel)

	if cmd.Args().Len() > 0 {
		cfg.Session.BackendName = cmd.Args().First()
	}
	applyFlags(cmd, cfg)
	if err := errors.Join(cfg.Session.Validate(), cfg.Health.Validate()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	name := cfg.Session.BackendName
	ctx = logging.ContextWithBackend(ctx, name)

	interfaceVersion, err := cfg.Session.ParsedInterfaceVersion()
	if err != nil {
		return err
	}
	defaults, err := session.ParseSubmitDefaults(cfg.Session.SubmitSMParams)
	if err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)
	backend, err := st.EnsureBackend(ctx, name)
	if err != nil {
		return err
	}
	seq, err := sequence.New(ctx, pool, name)
	if err != nil {
		return err
	}
	pub := pgnotify.NewPublisher(pool)

	if n := cfg.Session.SendBulkSMS; n > 0 {
		ob := outbound.NewBackend(backend, st, pub, outbound.Config{
			SendGroupSize:   cfg.Outbound.SendGroupSize,
			NotifyThreshold: cfg.Outbound.NotifyThreshold,
			DefaultPriority: cfg.Outbound.DefaultPriority,
		})
		ids, err := ob.Submit(ctx, "Bulk test message", slices.Repeat([]string{cmd.String("bulksms-to")}, n), outbound.Options{})
		if err != nil {
			return fmt.Errorf("queue bulk test messages: %w", err)
		}
		slog.InfoContext(ctx, "Queued bulk test messages", slog.Int("count", len(ids)))
	}

	conn, err := database.ConnectListener(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	listener, err := pgnotify.Listen(ctx, conn, name)
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

	g, gctx := errgroup.WithContext(ctx)
	// A clean session exit ends the side services too.
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	var pinger session.Pinger = health.Nop{}
	if cfg.Health.Enabled() {
		hc, err := health.NewHealthchecksIO(cfg.Health)
		if err != nil {
			return err
		}
		pinger = hc
		g.Go(func() error { return hc.Run(runCtx) })
	}

	sess := session.New(session.Config{
		Backend:           backend,
		SystemID:          cfg.Session.SystemID,
		Password:          cfg.Session.Password,
		SystemType:        cfg.Session.SystemType,
		InterfaceVersion:  interfaceVersion,
		Defaults:          defaults,
		MessagesPerSecond: cfg.Session.MTMessagesPerSecond,
		InboundChannel:    cfg.Session.NotifyMOChannel,
		SetPriorityFlag:   cfg.Session.SetPriorityFlag,
		TransactionalOnly: cfg.Session.TransactionalOnly,
		SocketTimeout:     cfg.Session.SocketTimeout,
		ConnectTimeout:    cfg.Session.ConnectTimeout,
	}, session.Deps{
		Dialer:        session.TCPDialer{Addr: cfg.Session.Addr(), Timeout: cfg.Session.ConnectTimeout},
		Queue:         st,
		Sequencer:     seq,
		Publisher:     pub,
		Notifications: listener,
		Pinger:        pinger,
	})

	g.Go(func() error { return metrics.Serve(runCtx, cfg.MetricsAddr) })
	g.Go(func() error {
		defer cancelRun()
		return sess.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Session stopped")
	return nil
}

// applyFlags overrides environment configuration with flags that were set.
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	s := &cfg.Session
	setString := func(flag string, dst *string) {
		if cmd.IsSet(flag) {
			*dst = cmd.String(flag)
		}
	}
	setInt := func(flag string, dst *int) {
		if cmd.IsSet(flag) {
			*dst = cmd.Int(flag)
		}
	}
	setBool := func(flag string, dst *bool) {
		if cmd.IsSet(flag) {
			*dst = cmd.Bool(flag)
		}
	}

	setString("notify-mo-channel", &s.NotifyMOChannel)
	setString("host", &s.Host)
	setInt("port", &s.Port)
	setString("system-id", &s.SystemID)
	setString("password", &s.Password)
	setString("system-type", &s.SystemType)
	setString("interface-version", &s.InterfaceVersion)
	setString("submit-sm-params", &s.SubmitSMParams)
	setInt("mt-messages-per-second", &s.MTMessagesPerSecond)
	setInt("send-bulksms", &s.SendBulkSMS)
	setBool("set-priority-flag", &s.SetPriorityFlag)
	setBool("listen-transactional-mt-messages-only", &s.TransactionalOnly)

	setString("hc-check-uuid", &cfg.Health.CheckUUID)
	setString("hc-ping-key", &cfg.Health.PingKey)
	setString("hc-check-slug", &cfg.Health.CheckSlug)

	slog.Debug("Effective session configuration",
		slog.String("backend", s.BackendName),
		slog.String("addr", s.Addr()),
		slog.String("rate", strconv.Itoa(s.MTMessagesPerSecond)+"/s"),
	)
}
