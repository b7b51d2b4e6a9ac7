// Command smpp-gateway binds to one carrier and moves messages between the
// SMPP session and the PostgreSQL queues.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:      "smpp-gateway",
		Usage:     "Start an SMPP client session for one backend",
		ArgsUsage: "<backend>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "notify-mo-channel", Usage: "Postgres channel to NOTIFY for each incoming message"},
			&cli.StringFlag{Name: "host", Usage: "SMSC host"},
			&cli.IntFlag{Name: "port", Usage: "SMSC port"},
			&cli.StringFlag{Name: "system-id", Usage: "bind system_id"},
			&cli.StringFlag{Name: "password", Usage: "bind password"},
			&cli.StringFlag{Name: "system-type", Usage: "bind system_type"},
			&cli.StringFlag{Name: "interface-version", Usage: "bind interface_version, e.g. 52 or 0x34"},
			&cli.StringFlag{Name: "submit-sm-params", Usage: "JSON object of submit_sm defaults"},
			&cli.IntFlag{Name: "mt-messages-per-second", Usage: "maximum MT messages claimed per second"},
			&cli.StringFlag{Name: "database-url", Usage: "PostgreSQL connection URL"},
			&cli.IntFlag{Name: "send-bulksms", Usage: "queue this many test messages on startup (not for real carriers)"},
			&cli.StringFlag{Name: "bulksms-to", Value: "15555550100", Usage: "destination for --send-bulksms"},
			&cli.StringFlag{Name: "hc-check-uuid", Usage: "healthchecks.io check UUID; wins over key and slug"},
			&cli.StringFlag{Name: "hc-ping-key", Usage: "healthchecks.io ping key, used with --hc-check-slug"},
			&cli.StringFlag{Name: "hc-check-slug", Usage: "healthchecks.io check slug, used with --hc-ping-key"},
			&cli.BoolFlag{Name: "set-priority-flag", Usage: "use the message's priority_flag in the PDU when present"},
			&cli.BoolFlag{Name: "listen-transactional-mt-messages-only", Usage: "only send transactional messages, one per notification"},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("smpp-gateway exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
