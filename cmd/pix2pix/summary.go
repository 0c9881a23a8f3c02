package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pix2pix "pix2pix/src"
)

func newSummaryCmd() *cobra.Command {
	summaryCmd := &cobra.Command{
		Use:   "summary [CHECKPOINT]",
		Short: "Print the network layout and parameter counts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  SummaryHandler,
	}
	addModelFlags(summaryCmd)
	return summaryCmd
}

// SummaryHandler builds the model from flags, optionally loads a checkpoint
// and prints its summary tables.
func SummaryHandler(cmd *cobra.Command, args []string) error {
	opts, err := modelOptions(cmd)
	if err != nil {
		return err
	}
	opts.LambdaDistill = 0
	m, err := pix2pix.NewModel(opts)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		info, err := pix2pix.ReadCheckpointInfo(args[0])
		if err != nil {
			return err
		}
		if _, err := m.LoadCheckpoint(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checkpoint %s: epoch %d, run %s, %s weights, saved %s\n\n",
			args[0], info.Epoch, info.RunID, info.Precision, info.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return m.Summary(cmd.OutOrStdout())
}
