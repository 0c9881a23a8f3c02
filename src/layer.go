package pix2pix

import (
	"errors"
	"math/rand"
)

// Layer is the base interface for all layers. Layers cache what they need
// from forward for the following backward call, so every forward must be
// matched by at most one backward before the next forward.
type Layer interface {
	forward(input *Tensor, ctx *Pass) (*Tensor, error)
	backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error)
	parameters() []*Tensor
	gradients() []*Tensor
	name() string
}

// bufferedLayer is implemented by layers holding non-trainable state that
// belongs in checkpoints (batch norm running statistics).
type bufferedLayer interface {
	buffers() []*Tensor
}

// initLayer is implemented by layers with trainable weights.
type initLayer interface {
	initialize(weightInit Initializer, gain float64, rng *rand.Rand)
}

// Pass configures one forward/backward traversal of a network.
type Pass struct {
	// Training selects batch statistics and active dropout.
	Training bool
	// ParamGrads makes backward accumulate parameter gradients. When false
	// only input gradients are propagated.
	ParamGrads bool
	// Taps, if set, receives activations at tap points on forward and
	// supplies extra gradients at the same points on backward.
	Taps *Taps
}

// Sequential runs layers in order.
type Sequential struct {
	layers []Layer
}

func newSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

func (s *Sequential) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	out := input
	var err error
	for _, l := range s.layers {
		out, err = l.forward(out, ctx)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Sequential) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	grad := gradOutput
	var err error
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad, err = s.layers[i].backward(grad, ctx)
		if err != nil {
			return nil, err
		}
	}
	return grad, nil
}

func (s *Sequential) parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.layers {
		params = append(params, l.parameters()...)
	}
	return params
}

func (s *Sequential) gradients() []*Tensor {
	var grads []*Tensor
	for _, l := range s.layers {
		grads = append(grads, l.gradients()...)
	}
	return grads
}

func (s *Sequential) buffers() []*Tensor {
	var bufs []*Tensor
	for _, l := range s.layers {
		if b, ok := l.(bufferedLayer); ok {
			bufs = append(bufs, b.buffers()...)
		}
	}
	return bufs
}

func (s *Sequential) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	for _, l := range s.layers {
		if il, ok := l.(initLayer); ok {
			il.initialize(weightInit, gain, rng)
		}
	}
}

func (s *Sequential) name() string { return "sequential" }

// DropoutLayer randomly zeros elements during training.
type DropoutLayer struct {
	rate float64
	mask *Tensor
	rng  *rand.Rand
}

func newDropout(rate float64, rng *rand.Rand) *DropoutLayer {
	return &DropoutLayer{rate: rate, rng: rng}
}

func (d *DropoutLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	if d.rate < 0 || d.rate >= 1 {
		return nil, errors.New("pix2pix: dropout rate must be in [0, 1)")
	}
	if !ctx.Training {
		d.mask = nil
		return input.Clone(), nil
	}

	output := NewTensor(input.shape...)
	d.mask = NewTensor(input.shape...)

	scale := 1.0 / (1.0 - d.rate)
	for i := range input.data {
		if d.rng.Float64() >= d.rate {
			d.mask.data[i] = scale
			output.data[i] = input.data[i] * scale
		}
	}
	return output, nil
}

func (d *DropoutLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if d.mask == nil {
		return gradOutput.Clone(), nil
	}
	gradInput := NewTensor(gradOutput.shape...)
	for i, g := range gradOutput.data {
		gradInput.data[i] = g * d.mask.data[i]
	}
	return gradInput, nil
}

func (d *DropoutLayer) parameters() []*Tensor { return nil }
func (d *DropoutLayer) gradients() []*Tensor  { return nil }
func (d *DropoutLayer) name() string          { return "dropout" }
