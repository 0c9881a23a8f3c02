// Command pix2pix trains and runs conditional image-to-image GANs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// NewCLI builds the root command with all subcommands attached.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "pix2pix",
		Short:         "Paired image-to-image translation with conditional GANs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log per-step losses")

	rootCmd.AddCommand(
		newTrainCmd(),
		newTestCmd(),
		newSummaryCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	level := logLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// logLevel reads PIX2PIX_DEBUG: true or 1 selects debug, other integers
// select slog.Level(-4*n).
func logLevel() slog.Level {
	level := slog.LevelInfo
	if s := strings.Trim(strings.TrimSpace(os.Getenv("PIX2PIX_DEBUG")), "\"'"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}
