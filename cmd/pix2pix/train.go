package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pix2pix/data"
	pix2pix "pix2pix/src"
)

func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on <dataroot>/train, validating on <dataroot>/val when present",
		Args:  cobra.NoArgs,
		RunE:  TrainHandler,
	}
	addModelFlags(trainCmd)
	addDataFlags(trainCmd)
	trainCmd.Flags().String("checkpoints-dir", "./checkpoints", "Where checkpoints are saved")
	trainCmd.Flags().String("name", "experiment", "Experiment name, a subdirectory of checkpoints-dir")
	trainCmd.Flags().String("resume", "", "Checkpoint to continue training from")
	trainCmd.Flags().Int("save-epoch-freq", 5, "Epochs between periodic checkpoints")
	trainCmd.Flags().Int("print-freq", 100, "Iterations between progress lines")
	trainCmd.Flags().StringSlice("freeze", nil, "Networks to freeze: G, D")
	trainCmd.Flags().Int("patience", 0, "Stop after this many epochs without validation improvement, 0 disables")
	return trainCmd
}

// TrainHandler runs the full training schedule.
func TrainHandler(cmd *cobra.Command, _ []string) error {
	opts, err := modelOptions(cmd)
	if err != nil {
		return err
	}
	train, err := data.NewAlignedLoader(dataOptions(cmd, opts, "train"))
	if err != nil {
		return err
	}
	val, err := validationLoader(cmd, opts)
	if err != nil {
		return err
	}

	m, err := pix2pix.NewModel(opts)
	if err != nil {
		return err
	}
	if resume, _ := cmd.Flags().GetString("resume"); resume != "" {
		if _, err := m.LoadCheckpoint(resume); err != nil {
			return err
		}
	}
	freeze, _ := cmd.Flags().GetStringSlice("freeze")
	for _, name := range freeze {
		switch name {
		case "G":
			m.SetRequiresGrad(pix2pix.NetG, false)
		case "D":
			m.SetRequiresGrad(pix2pix.NetD, false)
		default:
			return fmt.Errorf("unknown network %q, want G or D", name)
		}
	}

	root, _ := cmd.Flags().GetString("checkpoints-dir")
	name, _ := cmd.Flags().GetString("name")
	saveFreq, _ := cmd.Flags().GetInt("save-epoch-freq")
	printFreq, _ := cmd.Flags().GetInt("print-freq")
	patience, _ := cmd.Flags().GetInt("patience")
	dir := filepath.Join(root, name)

	cfg := pix2pix.FitConfig{
		Epochs:        opts.NEpochs + opts.NEpochsDecay,
		CheckpointDir: dir,
		SaveEpochFreq: saveFreq,
		PrintFreq:     printFreq,
	}
	callbacks := []pix2pix.Callback{pix2pix.PrintProgress(pix2pix.PrintProgressConfig{PrintEvery: printFreq})}
	var best *pix2pix.BestCheckpointCallback
	if val != nil {
		best = pix2pix.BestCheckpoint(pix2pix.BestCheckpointConfig{Model: m, Dir: dir, Monitor: "val_mae"})
		callbacks = append(callbacks, best)
		if patience > 0 {
			callbacks = append(callbacks, pix2pix.EarlyStopping(pix2pix.EarlyStoppingConfig{
				Monitor:  "val_mae",
				Patience: patience,
			}))
		}
	}

	if err := m.Summary(cmd.OutOrStdout()); err != nil {
		return err
	}

	var valLoader pix2pix.Loader
	if val != nil {
		valLoader = val
	}
	result, err := pix2pix.Fit(cmd.Context(), m, train, valLoader, cfg, callbacks...)
	if err != nil {
		return err
	}

	if _, err := m.SaveCheckpoint(result.LastEpoch, dir, math.NaN(), false); err != nil {
		return err
	}
	pix2pix.RenderLosses(cmd.OutOrStdout(), m.CurrentLosses())
	if best != nil {
		slog.Info("best validation", "val_mae", best.Best())
	}
	return nil
}

// validationLoader returns nil when <dataroot>/val does not exist.
func validationLoader(cmd *cobra.Command, opts pix2pix.Options) (*data.AlignedLoader, error) {
	o := dataOptions(cmd, opts, "val")
	if _, err := os.Stat(o.Dir); errors.Is(err, fs.ErrNotExist) {
		slog.Info("no validation split", "dir", o.Dir)
		return nil, nil
	}
	o.NoFlip = true
	o.Shuffle = false
	return data.NewAlignedLoader(o)
}
