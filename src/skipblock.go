package pix2pix

import "math/rand"

// Variant selects the role of a skip block inside the U-Net.
type Variant int

const (
	// Outermost maps the input image to the output image, no skip join.
	Outermost Variant = iota
	// Middle wraps a child block and joins its input to its output.
	Middle
	// Innermost has no child; it is the bottleneck.
	Innermost
)

func (v Variant) String() string {
	switch v {
	case Outermost:
		return "outermost"
	case Middle:
		return "middle"
	case Innermost:
		return "innermost"
	}
	return "unknown"
}

// skipBlock is one level of the U-Net: a down path, an optional child and
// an up path. Every non-outermost block concatenates its input with the up
// path output along channels.
type skipBlock struct {
	stage Stage
	down  *Sequential
	child *skipBlock
	up    *Sequential
}

func newSkipBlock(s Stage, child *skipBlock, rng *rand.Rand) *skipBlock {
	downTap := newTap(TapID{Depth: s.Depth, Point: TapDown})
	upTap := newTap(TapID{Depth: s.Depth, Point: TapUp})

	var down, up []Layer
	switch s.Variant {
	case Outermost:
		down = []Layer{
			Conv2D(s.ConvIn, s.ConvOut).Build(),
			downTap,
		}
		up = []Layer{
			newActivation(ReLU()),
			ConvTranspose2D(s.UpIn, s.UpOut).Build(),
			newActivation(Tanh()),
			upTap,
		}
	case Innermost:
		down = []Layer{
			newActivation(LeakyReLU(0.2)),
			Conv2D(s.ConvIn, s.ConvOut).Build(),
			downTap,
		}
		up = []Layer{
			newActivation(ReLU()),
			ConvTranspose2D(s.UpIn, s.UpOut).WithBias(false).Build(),
			BatchNorm2D(s.UpOut),
			upTap,
		}
	default:
		down = []Layer{
			newActivation(LeakyReLU(0.2)),
			Conv2D(s.ConvIn, s.ConvOut).WithBias(false).Build(),
			BatchNorm2D(s.ConvOut),
			downTap,
		}
		up = []Layer{
			newActivation(ReLU()),
			ConvTranspose2D(s.UpIn, s.UpOut).WithBias(false).Build(),
			BatchNorm2D(s.UpOut),
			upTap,
		}
		if s.Dropout {
			up = append(up, newDropout(0.5, rng))
		}
	}

	return &skipBlock{
		stage: s,
		down:  newSequential(down...),
		child: child,
		up:    newSequential(up...),
	}
}

func (b *skipBlock) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	h, err := b.down.forward(input, ctx)
	if err != nil {
		return nil, err
	}
	if b.child != nil {
		if h, err = b.child.forward(h, ctx); err != nil {
			return nil, err
		}
	}
	out, err := b.up.forward(h, ctx)
	if err != nil {
		return nil, err
	}
	if b.stage.Variant == Outermost {
		return out, nil
	}
	return concatChannels(input, out)
}

func (b *skipBlock) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	grad := gradOutput
	var skip *Tensor
	if b.stage.Variant != Outermost {
		skip, grad = splitChannels(gradOutput, b.stage.ConvIn)
	}

	grad, err := b.up.backward(grad, ctx)
	if err != nil {
		return nil, err
	}
	if b.child != nil {
		if grad, err = b.child.backward(grad, ctx); err != nil {
			return nil, err
		}
	}
	grad, err = b.down.backward(grad, ctx)
	if err != nil {
		return nil, err
	}
	if skip != nil {
		addInto(grad, skip)
	}
	return grad, nil
}

// parameters follow module order: down path, child, up path.
func (b *skipBlock) parameters() []*Tensor {
	params := b.down.parameters()
	if b.child != nil {
		params = append(params, b.child.parameters()...)
	}
	return append(params, b.up.parameters()...)
}

func (b *skipBlock) gradients() []*Tensor {
	grads := b.down.gradients()
	if b.child != nil {
		grads = append(grads, b.child.gradients()...)
	}
	return append(grads, b.up.gradients()...)
}

func (b *skipBlock) buffers() []*Tensor {
	bufs := b.down.buffers()
	if b.child != nil {
		bufs = append(bufs, b.child.buffers()...)
	}
	return append(bufs, b.up.buffers()...)
}

func (b *skipBlock) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	b.down.initialize(weightInit, gain, rng)
	if b.child != nil {
		b.child.initialize(weightInit, gain, rng)
	}
	b.up.initialize(weightInit, gain, rng)
}

// ownParams counts the parameters of this level only, excluding the child.
func (b *skipBlock) ownParams() int {
	return countParams(b.down.parameters()) + countParams(b.up.parameters())
}

func (b *skipBlock) name() string { return "skip_block_" + b.stage.Variant.String() }
