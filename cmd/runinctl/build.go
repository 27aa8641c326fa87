package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/arloliu/go-runin/catalog"
	"github.com/arloliu/go-runin/logger"
	"github.com/arloliu/go-runin/sequencer"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Print canonical runin commands, optionally appending them to a script",
}

var buildAddCmd = &cobra.Command{
	Use:   "add <command...>",
	Short: "Build a \"runin add\" command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule, err := scheduleFlag(cmd)
		if err != nil {
			return err
		}

		return emit(cmd, newBuilder(cmd.Context()).Add(schedule, strings.Join(args, " ")))
	},
}

var buildStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Build a \"runin start\" command",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schedule, err := scheduleFlag(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		var opts sequencer.StartOptions
		opts.Iterations, _ = flags.GetInt("iterations")
		opts.DurationSeconds, _ = flags.GetInt("duration")
		opts.ExitOnFailure, _ = flags.GetString("exit-on-failure")
		opts.Silent, _ = flags.GetBool("silent")

		line, err := newBuilder(cmd.Context()).ValidStart(schedule, opts)
		if err != nil {
			return err
		}

		return emit(cmd, line)
	},
}

var buildClearCmd = &cobra.Command{
	Use:   "clear [target]",
	Short: "Build a \"runin clear\" command",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target string
		if len(args) == 1 {
			target = args[0]
		}

		return emit(cmd, newBuilder(cmd.Context()).Clear(target))
	},
}

func newBuilder(ctx context.Context) *sequencer.Builder {
	return sequencer.NewBuilder(catalog.LoadOrEmpty(ctx, cfg.Catalog, catalog.WithLogger(logger.GetLogger())))
}

func scheduleFlag(cmd *cobra.Command) (sequencer.Schedule, error) {
	s, _ := cmd.Flags().GetString("schedule")

	return sequencer.ParseSchedule(s)
}

// emit prints line, and appends it to the --append script when given.
func emit(cmd *cobra.Command, line string) error {
	fmt.Fprintln(cmd.OutOrStdout(), line)

	if name, _ := cmd.Flags().GetString("append"); name != "" {
		return appendScript(name, line)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.PersistentFlags().String("append", "", "append the command to this script file")

	for _, c := range []*cobra.Command{buildAddCmd, buildStartCmd} {
		c.Flags().StringP("schedule", "w", string(sequencer.ScheduleNow), "when the agent runs it: now or boot")
	}

	buildStartCmd.Flags().IntP("iterations", "n", 0, "number of iterations")
	buildStartCmd.Flags().IntP("duration", "t", 0, "duration in seconds")
	buildStartCmd.Flags().StringP("exit-on-failure", "x", sequencer.DefaultExitOnFailure, "stop on the first failure: 0 or 1")
	buildStartCmd.Flags().BoolP("silent", "s", false, "run silently")

	buildCmd.AddCommand(buildAddCmd, buildStartCmd, buildClearCmd)
}
