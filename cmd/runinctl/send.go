package main

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [command...]",
	Short: "Send one command to the device",
	Long: `send writes one line to the device without any delay. With --action the
command is a well-known runin operation (start, stop, status, log, state,
progress, help, clear) resolved through the catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		linger, _ := cmd.Flags().GetDuration("linger")

		ctx := cmd.Context()
		s, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.close()

		line := strings.Join(args, " ")
		if action != "" {
			if line = s.builder.Command(action); line == "" {
				return errors.New("unknown action " + action)
			}
		}
		if line == "" {
			return errors.New("nothing to send")
		}

		if err := s.connect(ctx); err != nil {
			return err
		}

		if err := s.seq.Send(ctx, line); err != nil {
			return err
		}
		s.linger(ctx, linger)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringP("action", "a", "", "well-known action to send instead of a literal command")
	sendCmd.Flags().Duration("linger", time.Second, "keep the link open to show the device response")
}
