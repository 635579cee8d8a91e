package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/raskyld/cosimio"
	"github.com/raskyld/cosimio/pkg/data"
	"github.com/raskyld/cosimio/pkg/info"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func identifierFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "identifier",
		Aliases:  []string{"id"},
		Usage:    "Identifier of the exchange",
		Required: true,
	}
}

// connectSettings merges the settings file with the global flags, flags
// taking precedence.
func connectSettings(cmd *cli.Command) (*info.Info, error) {
	settings := info.New()
	if path := cmd.String("settings"); path != "" {
		loaded, err := cosimio.LoadSettingsFile(path)
		if err != nil {
			return nil, err
		}
		settings = loaded
	}
	for flag, key := range map[string]string{
		"my-name":           "my_name",
		"connect-to":        "connect_to",
		"working-directory": "working_directory",
		"format":            "communication_format",
	} {
		if cmd.IsSet(flag) {
			info.Set(settings, key, cmd.String(flag))
		}
	}
	if cmd.IsSet("timeout") {
		info.Set(settings, "timeout", cmd.Duration("timeout").Seconds())
	}
	return settings, nil
}

// session connects, runs fn and disconnects whatever fn returned.
func session(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, conn *cosimio.Connection) error) error {
	settings, err := connectSettings(cmd)
	if err != nil {
		return err
	}
	mgr, err := cosimio.NewManager(cosimio.WithLog(slog.Default().Handler()))
	if err != nil {
		return err
	}
	res, err := mgr.Connect(ctx, settings)
	if err != nil {
		return err
	}
	name, err := info.Get[string](res, "connection_name")
	if err != nil {
		return err
	}
	slog.Info("connected", "connection_name", name)

	conn, err := mgr.Connection(name)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, conn), mgr.Close(ctx))
}

func exchangeSettings(cmd *cli.Command, conn *cosimio.Connection) *info.Info {
	s := info.New()
	info.Set(s, "connection_name", conn.Name())
	info.Set(s, "identifier", cmd.String("identifier"))
	return s
}

func printInfo(in *info.Info) error {
	return yaml.NewEncoder(os.Stdout).Encode(in)
}

func NewVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the protocol version",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println(cosimio.Version())
			return nil
		},
	}
}

func NewConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect to the partner and disconnect right away",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				slog.Info("partner reachable", "role", conn.Role().String())
				return nil
			})
		},
	}
}

func NewExportDataCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-data",
		Usage: "Send a vector of values",
		Flags: []cli.Flag{
			identifierFlag(),
			&cli.FloatSliceFlag{
				Name:     "values",
				Usage:    "Comma-separated values to send",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				res, err := conn.ExportData(ctx, exchangeSettings(cmd, conn), data.NewReadOnly(cmd.FloatSlice("values")))
				if err != nil {
					return err
				}
				return printInfo(res)
			})
		},
	}
}

func NewImportDataCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-data",
		Usage: "Receive a vector of values and print it",
		Flags: []cli.Flag{identifierFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				values := data.NewBuffer[float64]()
				if _, err := conn.ImportData(ctx, exchangeSettings(cmd, conn), values); err != nil {
					return err
				}
				for _, v := range values.View() {
					fmt.Println(v)
				}
				return nil
			})
		},
	}
}

func NewExportInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-info",
		Usage: "Send the entries of a YAML file",
		Flags: []cli.Flag{
			identifierFlag(),
			&cli.StringFlag{
				Name:     "file",
				Usage:    "YAML file holding the entries",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			payload, err := cosimio.LoadSettingsFile(cmd.String("file"))
			if err != nil {
				return err
			}
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				info.Set(payload, "connection_name", conn.Name())
				info.Set(payload, "identifier", cmd.String("identifier"))
				_, err := conn.ExportInfo(ctx, payload)
				return err
			})
		},
	}
}

func NewImportInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-info",
		Usage: "Receive an Info and print it as YAML",
		Flags: []cli.Flag{identifierFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				in, err := conn.ImportInfo(ctx, exchangeSettings(cmd, conn))
				if err != nil {
					return err
				}
				return printInfo(in)
			})
		},
	}
}

func NewSendSignalCommand() *cli.Command {
	return &cli.Command{
		Name:      "send-signal",
		Usage:     "Send control signals to a partner blocked in Run",
		ArgsUsage: "SIGNAL...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("at least one signal is required")
			}
			signals := make([]cosimio.ControlSignal, 0, cmd.NArg())
			for _, name := range cmd.Args().Slice() {
				sig, err := cosimio.ParseControlSignal(name)
				if err != nil {
					return err
				}
				signals = append(signals, sig)
			}
			return session(ctx, cmd, func(ctx context.Context, conn *cosimio.Connection) error {
				for _, sig := range signals {
					if _, err := conn.SendControlSignal(ctx, sig, nil); err != nil {
						return err
					}
					slog.Info("signal sent", "signal", sig.String())
				}
				return nil
			})
		},
	}
}
