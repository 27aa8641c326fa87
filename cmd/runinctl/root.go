package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-runin/internal/appconfig"
	"github.com/arloliu/go-runin/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        appconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "runinctl",
	Short: "Drive the runin agent of a device over a serial link",
	Long: `runinctl opens a serial link to a device running the runin agent, streams
the device console, and sends throttled scripts of runin commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = appconfig.Load(configPath, cmd.Flags()); err != nil {
			return err
		}

		level, _ := logger.ParseLevel(cfg.Log.Level)
		logger.SetLogger(logger.NewSlogWriter(os.Stderr, level, logger.Format(cfg.Log.Format)))

		return nil
	},
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/runinctl/config.yaml)")
	flags.String("port", "", "serial device; empty selects the first USB port")
	flags.Int("baud", 0, "baud rate (default 115200)")
	flags.String("catalog", "", "command catalog file or URL")
	flags.Duration("command-delay", 0, "pause after each script command (default 200ms)")
	flags.Duration("read-poll-timeout", 0, "bound of one blocking read (default 50ms)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
}
