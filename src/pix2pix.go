// Package pix2pix trains conditional image-to-image translation models: a
// U-Net generator against a PatchGAN discriminator, with an L1
// reconstruction term and optional attention distillation from a pretrained
// model of the same architecture.
//
// The package carries its own CPU engine. Tensors are NCHW float64 and every
// layer implements its own backward pass. Configuration is explicit: start
// from DefaultOptions and change what you need.
//
// Basic usage:
//
//	opts := pix2pix.DefaultOptions()
//	opts.NGF, opts.NDF = 32, 32
//	model, err := pix2pix.NewModel(opts)
//	if err != nil {
//		return err
//	}
//
//	result, err := pix2pix.Fit(ctx, model, trainLoader, valLoader, pix2pix.FitConfig{
//		Epochs:        200,
//		CheckpointDir: "checkpoints/facades",
//		SaveEpochFreq: 5,
//		PrintFreq:     100,
//	}, pix2pix.PrintProgress(pix2pix.PrintProgressConfig{PrintEvery: 100}))
//
// Distillation is enabled by LambdaDistill > 0 and PretrainPath pointing at a
// checkpoint written by Model.SaveCheckpoint with default widths.
package pix2pix
