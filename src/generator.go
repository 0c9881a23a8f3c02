package pix2pix

import (
	"fmt"
	"math/rand"
)

// Stage describes one U-Net level. Depth 0 is the outermost block.
type Stage struct {
	Depth   int
	Variant Variant
	ConvIn  int
	ConvOut int
	UpIn    int
	UpOut   int
	Dropout bool
}

// outputChannels is the channel count a block hands to its parent.
func (s Stage) outputChannels() int {
	if s.Variant == Outermost {
		return s.UpOut
	}
	return s.ConvIn + s.UpOut
}

// BuildStages returns the stage descriptors for a U-Net of numDowns levels,
// ordered from the outermost block inwards. A non-nil widths replaces the
// NGF-derived widths and requires numDowns == 8.
func BuildStages(inputNC, outputNC, ngf, numDowns int, useDropout bool, widths *Widths) ([]Stage, error) {
	if numDowns < 5 {
		return nil, errorf("%w: numDowns must be >= 5, got %d", ErrInvalidWidths, numDowns)
	}
	if widths != nil {
		if numDowns != 8 {
			return nil, errorf("%w: explicit widths need numDowns 8, got %d", ErrInvalidWidths, numDowns)
		}
		if len(widths.Channels) != 15 || len(widths.Filters) != 15 {
			return nil, errorf("%w: need 15 channels and 15 filters, got %d and %d",
				ErrInvalidWidths, len(widths.Channels), len(widths.Filters))
		}
		for i := 0; i < 15; i++ {
			if widths.Channels[i] <= 0 || widths.Filters[i] <= 0 {
				return nil, errorf("%w: width %d is not positive", ErrInvalidWidths, i)
			}
		}
	}

	// pick returns the explicit width at idx, or def.
	pick := func(cfg func(*Widths) []int, idx, def int) int {
		if widths == nil {
			return def
		}
		return cfg(widths)[idx]
	}
	ch := func(w *Widths) []int { return w.Channels }
	fl := func(w *Widths) []int { return w.Filters }

	// built innermost first
	inner := make([]Stage, 0, numDowns)
	inner = append(inner, Stage{
		Variant: Innermost,
		ConvIn:  pick(ch, 6, ngf*8),
		ConvOut: pick(fl, 6, ngf*8),
		UpIn:    pick(ch, 7, ngf*8),
		UpOut:   pick(fl, 7, ngf*8),
	})
	for i := 0; i < numDowns-5; i++ {
		inner = append(inner, Stage{
			Variant: Middle,
			ConvIn:  pick(ch, 5-i, ngf*8),
			ConvOut: pick(fl, 5-i, ngf*8),
			UpIn:    pick(ch, 8+i, ngf*16),
			UpOut:   pick(fl, 8+i, ngf*8),
			Dropout: useDropout,
		})
	}
	inner = append(inner,
		Stage{
			Variant: Middle,
			ConvIn:  pick(ch, 2, ngf*4),
			ConvOut: pick(fl, 2, ngf*8),
			UpIn:    pick(ch, 11, ngf*16),
			UpOut:   pick(fl, 11, ngf*4),
		},
		Stage{
			Variant: Middle,
			ConvIn:  pick(ch, 1, ngf*2),
			ConvOut: pick(fl, 1, ngf*4),
			UpIn:    pick(ch, 12, ngf*8),
			UpOut:   pick(fl, 12, ngf*2),
		},
		Stage{
			Variant: Middle,
			ConvIn:  pick(ch, 0, ngf),
			ConvOut: pick(fl, 0, ngf*2),
			UpIn:    pick(ch, 13, ngf*4),
			UpOut:   pick(fl, 13, ngf),
		},
		Stage{
			Variant: Outermost,
			ConvIn:  inputNC,
			ConvOut: ngf,
			UpIn:    pick(ch, 14, ngf*2),
			UpOut:   outputNC,
		},
	)

	stages := make([]Stage, numDowns)
	for i, s := range inner {
		s.Depth = numDowns - 1 - i
		stages[s.Depth] = s
	}
	if err := validateStages(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// validateStages checks the stage list runs from one outermost block down to
// one innermost block and that neighbouring blocks agree on channel counts.
func validateStages(stages []Stage) error {
	if len(stages) < 2 {
		return errorf("%w: need at least 2 stages, got %d", ErrInvalidWidths, len(stages))
	}
	last := len(stages) - 1
	for d, s := range stages {
		switch {
		case s.Depth != d:
			return errorf("%w: stage %d has depth %d", ErrInvalidWidths, d, s.Depth)
		case d == 0 && s.Variant != Outermost:
			return errorf("%w: depth 0 is %s, want outermost", ErrInvalidWidths, s.Variant)
		case d > 0 && d < last && s.Variant != Middle:
			return errorf("%w: depth %d is %s, want middle", ErrInvalidWidths, d, s.Variant)
		case d == last && s.Variant != Innermost:
			return errorf("%w: depth %d is %s, want innermost", ErrInvalidWidths, d, s.Variant)
		case s.ConvIn <= 0 || s.ConvOut <= 0 || s.UpIn <= 0 || s.UpOut <= 0:
			return errorf("%w: depth %d has a width <= 0", ErrInvalidWidths, d)
		}
	}
	for d, s := range stages {
		if s.Variant == Innermost {
			if s.UpIn != s.ConvOut {
				return errorf("%w: depth %d up-conv input %d, conv output %d",
					ErrInvalidWidths, d, s.UpIn, s.ConvOut)
			}
			continue
		}
		child := stages[d+1]
		if child.ConvIn != s.ConvOut {
			return errorf("%w: depth %d conv input %d, parent conv output %d",
				ErrInvalidWidths, d+1, child.ConvIn, s.ConvOut)
		}
		if s.UpIn != child.outputChannels() {
			return errorf("%w: depth %d up-conv input %d, depth %d outputs %d",
				ErrInvalidWidths, d, s.UpIn, d+1, child.outputChannels())
		}
	}
	return nil
}

// Generator is a U-Net built from nested skip blocks.
type Generator struct {
	inputNC  int
	outputNC int
	numDowns int
	stages   []Stage
	blocks   []*skipBlock // indexed by depth
	root     *skipBlock
}

// NewGenerator composes the stages into the nested block graph in one pass,
// innermost first.
func NewGenerator(stages []Stage, rng *rand.Rand) (*Generator, error) {
	if err := validateStages(stages); err != nil {
		return nil, err
	}
	g := &Generator{
		inputNC:  stages[0].ConvIn,
		outputNC: stages[0].UpOut,
		numDowns: len(stages),
		stages:   stages,
		blocks:   make([]*skipBlock, len(stages)),
	}
	var child *skipBlock
	for d := len(stages) - 1; d >= 0; d-- {
		child = newSkipBlock(stages[d], child, rng)
		g.blocks[d] = child
	}
	g.root = child
	return g, nil
}

// Stages returns the stage descriptors, outermost first.
func (g *Generator) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Tap returns the handle of an observable activation at the given depth.
func (g *Generator) Tap(depth int, point TapPoint) (TapID, error) {
	if depth < 0 || depth >= g.numDowns {
		return TapID{}, errorf("generator has no depth %d", depth)
	}
	if point != TapDown && point != TapUp {
		return TapID{}, errorf("generator has no %s tap", point)
	}
	return TapID{Depth: depth, Point: point}, nil
}

// Forward maps an [N, InputNC, H, W] image batch to [N, OutputNC, H, W].
// H and W must be divisible by 2^NumDowns.
func (g *Generator) Forward(x *Tensor, ctx *Pass) (*Tensor, error) {
	if len(x.shape) != 4 || x.shape[1] != g.inputNC {
		return nil, shapeError("Generator", "forward", x, fmt.Sprintf("[N %d H W]", g.inputNC))
	}
	div := 1 << g.numDowns
	if x.shape[2]%div != 0 || x.shape[3]%div != 0 {
		return nil, shapeError("Generator", "forward", x, fmt.Sprintf("H and W divisible by %d", div))
	}
	return g.root.forward(x, ctx)
}

// Backward propagates the gradient on the output back to the input image,
// accumulating parameter gradients when ctx.ParamGrads is set.
func (g *Generator) Backward(grad *Tensor, ctx *Pass) (*Tensor, error) {
	return g.root.backward(grad, ctx)
}

func (g *Generator) parameters() []*Tensor { return g.root.parameters() }
func (g *Generator) gradients() []*Tensor  { return g.root.gradients() }
func (g *Generator) buffers() []*Tensor    { return g.root.buffers() }

func (g *Generator) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	g.root.initialize(weightInit, gain, rng)
}

// NumParams returns the number of trainable scalars.
func (g *Generator) NumParams() int { return countParams(g.parameters()) }
