package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raskyld/cosimio"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "cosimio",
		Usage:                 "Exchange data with a coupled solver from the command line",
		Version:               cosimio.Version(),
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "settings",
				Aliases: []string{"s"},
				Usage:   "YAML file holding the connect settings",
				Sources: cli.EnvVars("COSIMIO_SETTINGS"),
			},
			&cli.StringFlag{
				Name:    "my-name",
				Usage:   "Name of this participant",
				Sources: cli.EnvVars("COSIMIO_MY_NAME"),
			},
			&cli.StringFlag{
				Name:    "connect-to",
				Usage:   "Name of the partner",
				Sources: cli.EnvVars("COSIMIO_CONNECT_TO"),
			},
			&cli.StringFlag{
				Name:    "working-directory",
				Usage:   "Directory shared with the partner",
				Sources: cli.EnvVars("COSIMIO_WORKING_DIRECTORY"),
			},
			&cli.StringFlag{
				Name:    "format",
				Usage:   "Communication format (file, socket, local_socket, pipe)",
				Sources: cli.EnvVars("COSIMIO_FORMAT"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "How long to wait for the partner",
				Sources: cli.EnvVars("COSIMIO_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("COSIMIO_LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			setupLog(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewVersionCommand(),
			NewConnectCommand(),
			NewExportDataCommand(),
			NewImportDataCommand(),
			NewExportInfoCommand(),
			NewImportInfoCommand(),
			NewSendSignalCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLog(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
