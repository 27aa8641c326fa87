package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/arloliu/go-runin/sequencer"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Send a script of runin commands to the device",
	Long: `run reads a script, one command per line ("-" reads standard input),
connects to the device and sends the commands in order with the configured
delay after each one. Failed writes are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmds, err := readScript(args[0])
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			return sequencer.ErrEmptyScript
		}

		linger, _ := cmd.Flags().GetDuration("linger")

		ctx := cmd.Context()
		s, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.connect(ctx); err != nil {
			return err
		}

		s.seq.Script().ReplaceAll(cmds)
		report, err := s.seq.ExecuteScript(ctx)
		if err == nil {
			s.linger(ctx, linger)
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "\nsent %d/%d commands, %d failed, %d skipped in %v\n",
			report.Sent, report.Total, report.Failed, report.Skipped(), report.Elapsed.Round(time.Millisecond))

		return err
	},
}

func readScript(name string) ([]string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, err
	}

	return sequencer.ParseScript(string(data)), nil
}

func appendScript(name, cmd string) error {
	if name == "" {
		return errors.New("script file name is empty")
	}

	cmds, err := readScript(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	script := sequencer.NewScript(cmds...)
	// A trailing newline leaves an empty last line; drop it before appending.
	if last := script.Len(); last > 0 && script.Commands()[last-1] == "" {
		script.PopLast()
	}
	script.Append(cmd)

	return os.WriteFile(name, []byte(sequencer.FormatScript(script.Commands())+"\n"), 0o644)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Duration("linger", 2*time.Second, "keep the link open after the last command to show device output")
}
