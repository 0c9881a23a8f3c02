package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pix2pix/data"
	pix2pix "pix2pix/src"
)

func addModelFlags(cmd *cobra.Command) {
	d := pix2pix.DefaultOptions()
	f := cmd.Flags()
	f.IntSlice("gpu-ids", nil, "GPU ids (logged only, training runs on the CPU)")
	f.String("direction", d.Direction, "AtoB or BtoA")
	f.Int("input-nc", d.InputNC, "Input image channels")
	f.Int("output-nc", d.OutputNC, "Output image channels")
	f.Int("ngf", d.NGF, "Generator filters in the outermost layer")
	f.Int("ndf", d.NDF, "Discriminator filters in the first layer")
	f.Int("num-downs", d.NumDowns, "U-Net downsampling steps")
	f.Int("n-layers-d", d.NLayersD, "Discriminator strided layers")
	f.Bool("no-dropout", d.NoDropout, "Disable generator dropout")
	f.String("widths", "", "JSON file with explicit generator channels and filters")
	f.String("gan-mode", d.GANMode, "vanilla, lsgan or wgangp")
	f.Float64("lambda-l1", d.LambdaL1, "Weight of the L1 term")
	f.Float64("lambda-distill", d.LambdaDistill, "Weight of the attention distillation term, 0 disables")
	f.Bool("attention-normal", d.AttentionNormal, "L2-normalize attention maps before comparing")
	f.String("pretrain-path", d.PretrainPath, "Checkpoint of the pretrained teacher")
	f.Float64("lr", d.LR, "Initial Adam learning rate")
	f.Float64("beta1", d.Beta1, "Adam beta1")
	f.String("lr-policy", d.LRPolicy, "linear, step, cosine or constant")
	f.Int("epoch-count", d.EpochCount, "Starting epoch")
	f.Int("n-epochs", d.NEpochs, "Epochs at the initial learning rate")
	f.Int("n-epochs-decay", d.NEpochsDecay, "Epochs of linear decay to zero")
	f.Int("lr-decay-iters", d.LRDecayIters, "Step policy interval")
	f.String("init-type", d.InitType, "normal, xavier, kaiming or orthogonal")
	f.Float64("init-gain", d.InitGain, "Initialization scale")
	f.Int64("seed", d.Seed, "Random seed")
	f.Bool("half-precision", d.HalfPrecision, "Store checkpoint weights as float16")
}

// modelOptions reads the flags registered by addModelFlags.
func modelOptions(cmd *cobra.Command) (pix2pix.Options, error) {
	f := cmd.Flags()
	o := pix2pix.DefaultOptions()
	o.GPUIDs, _ = f.GetIntSlice("gpu-ids")
	o.Direction, _ = f.GetString("direction")
	o.InputNC, _ = f.GetInt("input-nc")
	o.OutputNC, _ = f.GetInt("output-nc")
	o.NGF, _ = f.GetInt("ngf")
	o.NDF, _ = f.GetInt("ndf")
	o.NumDowns, _ = f.GetInt("num-downs")
	o.NLayersD, _ = f.GetInt("n-layers-d")
	o.NoDropout, _ = f.GetBool("no-dropout")
	o.GANMode, _ = f.GetString("gan-mode")
	o.LambdaL1, _ = f.GetFloat64("lambda-l1")
	o.LambdaDistill, _ = f.GetFloat64("lambda-distill")
	o.AttentionNormal, _ = f.GetBool("attention-normal")
	o.PretrainPath, _ = f.GetString("pretrain-path")
	o.LR, _ = f.GetFloat64("lr")
	o.Beta1, _ = f.GetFloat64("beta1")
	o.LRPolicy, _ = f.GetString("lr-policy")
	o.EpochCount, _ = f.GetInt("epoch-count")
	o.NEpochs, _ = f.GetInt("n-epochs")
	o.NEpochsDecay, _ = f.GetInt("n-epochs-decay")
	o.LRDecayIters, _ = f.GetInt("lr-decay-iters")
	o.InitType, _ = f.GetString("init-type")
	o.InitGain, _ = f.GetFloat64("init-gain")
	o.Seed, _ = f.GetInt64("seed")
	o.HalfPrecision, _ = f.GetBool("half-precision")

	if path, _ := f.GetString("widths"); path != "" {
		w, err := readWidths(path)
		if err != nil {
			return o, err
		}
		o.Widths = w
	}
	return o, pix2pix.ValidateOptions(o)
}

func readWidths(path string) (*pix2pix.Widths, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w pix2pix.Widths
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("widths %s: %w", path, err)
	}
	return &w, nil
}

func addDataFlags(cmd *cobra.Command) {
	d := data.DefaultOptions("")
	f := cmd.Flags()
	f.String("dataroot", "", "Directory with train/, val/ and test/ subdirectories of A|B images")
	f.Int("load-size", d.LoadSize, "Scale images to this size before cropping")
	f.Int("crop-size", d.CropSize, "Crop images to this size")
	f.String("preprocess", d.Preprocess, "resize_and_crop, crop, scale_width or none")
	f.Bool("no-flip", d.NoFlip, "Disable random horizontal flips")
	f.Int("batch-size", d.BatchSize, "Batch size")
	f.Bool("serial-batches", false, "Take images in order instead of shuffling")
	f.Int("max-dataset-size", 0, "Maximum images per split, 0 for all")
	_ = cmd.MarkFlagRequired("dataroot")
}

// dataOptions maps the data flags onto data.Options for a split. Channel
// counts follow the translation direction.
func dataOptions(cmd *cobra.Command, o pix2pix.Options, split string) data.Options {
	f := cmd.Flags()
	root, _ := f.GetString("dataroot")
	d := data.DefaultOptions(filepath.Join(root, split))
	d.ChannelsA, d.ChannelsB = o.InputNC, o.OutputNC
	if o.Direction == "BtoA" {
		d.ChannelsA, d.ChannelsB = o.OutputNC, o.InputNC
	}
	d.Seed = o.Seed
	d.LoadSize, _ = f.GetInt("load-size")
	d.CropSize, _ = f.GetInt("crop-size")
	d.Preprocess, _ = f.GetString("preprocess")
	d.NoFlip, _ = f.GetBool("no-flip")
	d.BatchSize, _ = f.GetInt("batch-size")
	d.MaxSize, _ = f.GetInt("max-dataset-size")
	serial, _ := f.GetBool("serial-batches")
	d.Shuffle = !serial
	return d
}
