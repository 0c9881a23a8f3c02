package pix2pix

import (
	"fmt"
	"math/rand"
)

// Discriminator is a PatchGAN classifier producing a map of per-patch
// real/fake logits.
type Discriminator struct {
	inputNC int
	nLayers int
	widths  []int // output width of each stage
	stages  []*Sequential
	final   *Conv2DLayer
	body    *Sequential
}

// NewDiscriminator builds nLayers stride-2 stages (the first without
// normalization), one stride-1 stage and a final one-channel convolution.
func NewDiscriminator(inputNC, ndf, nLayers int) (*Discriminator, error) {
	if inputNC <= 0 || ndf <= 0 || nLayers < 1 {
		return nil, errorf("invalid discriminator inputNC=%d ndf=%d nLayers=%d", inputNC, ndf, nLayers)
	}
	d := &Discriminator{inputNC: inputNC, nLayers: nLayers}

	d.stages = append(d.stages, newSequential(
		Conv2D(inputNC, ndf).Build(),
		newActivation(LeakyReLU(0.2)),
		newTap(TapID{Depth: 0, Point: TapStage}),
	))
	d.widths = append(d.widths, ndf)

	mult := 1
	for n := 1; n <= nLayers; n++ {
		prev := mult
		mult = min(1<<n, 8)
		stride := 2
		if n == nLayers {
			stride = 1
		}
		d.stages = append(d.stages, newSequential(
			Conv2D(ndf*prev, ndf*mult).WithStride(stride).WithBias(false).Build(),
			BatchNorm2D(ndf*mult),
			newActivation(LeakyReLU(0.2)),
			newTap(TapID{Depth: n, Point: TapStage}),
		))
		d.widths = append(d.widths, ndf*mult)
	}

	d.final = Conv2D(ndf*mult, 1).WithStride(1).Build()

	layers := make([]Layer, 0, len(d.stages)+1)
	for _, s := range d.stages {
		layers = append(layers, s)
	}
	d.body = newSequential(append(layers, d.final)...)
	return d, nil
}

// Tap returns the handle of a stage's activation output. Stage 0 is the
// input stage, stage nLayers the stride-1 stage.
func (d *Discriminator) Tap(stage int) (TapID, error) {
	if stage < 0 || stage > d.nLayers {
		return TapID{}, errorf("discriminator has no stage %d", stage)
	}
	return TapID{Depth: stage, Point: TapStage}, nil
}

// Forward scores an [N, InputNC, H, W] image pair batch.
func (d *Discriminator) Forward(x *Tensor, ctx *Pass) (*Tensor, error) {
	if len(x.shape) != 4 || x.shape[1] != d.inputNC {
		return nil, shapeError("Discriminator", "forward", x, fmt.Sprintf("[N %d H W]", d.inputNC))
	}
	return d.body.forward(x, ctx)
}

// Backward returns the gradient on the input pair, accumulating parameter
// gradients when ctx.ParamGrads is set.
func (d *Discriminator) Backward(grad *Tensor, ctx *Pass) (*Tensor, error) {
	return d.body.backward(grad, ctx)
}

func (d *Discriminator) parameters() []*Tensor { return d.body.parameters() }
func (d *Discriminator) gradients() []*Tensor  { return d.body.gradients() }
func (d *Discriminator) buffers() []*Tensor    { return d.body.buffers() }

func (d *Discriminator) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	d.body.initialize(weightInit, gain, rng)
}

// NumParams returns the number of trainable scalars.
func (d *Discriminator) NumParams() int { return countParams(d.parameters()) }
