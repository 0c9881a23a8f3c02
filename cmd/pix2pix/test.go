package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pix2pix/data"
	pix2pix "pix2pix/src"
)

func newTestCmd() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "test CHECKPOINT",
		Short: "Translate <dataroot>/test and write real_A, fake_B and real_B images",
		Args:  cobra.ExactArgs(1),
		RunE:  TestHandler,
	}
	addModelFlags(testCmd)
	addDataFlags(testCmd)
	testCmd.Flags().String("results-dir", "./results", "Where result images are written")
	testCmd.Flags().String("phase", "test", "Dataset split to translate")
	testCmd.Flags().Int("num-test", 50, "Maximum number of images to translate")
	testCmd.Flags().Bool("train-mode", false, "Keep dropout and batch statistics active")
	return testCmd
}

// TestHandler loads a checkpoint and translates a dataset split, reporting
// MAE and PSNR against the targets.
func TestHandler(cmd *cobra.Command, args []string) error {
	opts, err := modelOptions(cmd)
	if err != nil {
		return err
	}
	phase, _ := cmd.Flags().GetString("phase")
	numTest, _ := cmd.Flags().GetInt("num-test")
	resultsDir, _ := cmd.Flags().GetString("results-dir")
	trainMode, _ := cmd.Flags().GetBool("train-mode")

	o := dataOptions(cmd, opts, phase)
	o.NoFlip = true
	o.Shuffle = false
	o.MaxSize = numTest
	loader, err := data.NewAlignedLoader(o)
	if err != nil {
		return err
	}

	// a teacher is never needed for inference
	opts.LambdaDistill = 0
	m, err := pix2pix.NewModel(opts)
	if err != nil {
		return err
	}
	if _, err := m.LoadCheckpoint(args[0]); err != nil {
		return err
	}
	if !trainMode {
		m.Eval()
	}

	written := 0
	for {
		b, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := m.SetInput(b); err != nil {
			return err
		}
		if err := m.Forward(); err != nil {
			return err
		}
		n, err := saveVisuals(resultsDir, m)
		if err != nil {
			return err
		}
		written += n
	}

	scores, err := pix2pix.Evaluate(m, loader)
	if err != nil {
		return err
	}
	slog.Info("test complete", "images", written, "dir", resultsDir, "mae", scores["mae"], "psnr", scores["psnr"])
	fmt.Fprintf(cmd.OutOrStdout(), "mae %.4f  psnr %.2f dB\n", scores["mae"], scores["psnr"])
	return nil
}

// saveVisuals writes every visual of the current batch as
// <dir>/<source name>_<visual>.png and returns the number of samples.
func saveVisuals(dir string, m *pix2pix.Model) (int, error) {
	src, _ := m.ImagePaths()
	for _, v := range m.CurrentVisuals() {
		for i := range src {
			img, err := data.TensorImage(v.Image, i)
			if err != nil {
				return 0, err
			}
			base := strings.TrimSuffix(filepath.Base(src[i]), filepath.Ext(src[i]))
			if err := data.SaveImage(filepath.Join(dir, base+"_"+v.Name+".png"), img); err != nil {
				return 0, err
			}
		}
	}
	return len(src), nil
}
