package pix2pix

import "math"

// Activation is an element-wise function usable as a layer.
type Activation interface {
	apply(x, out *Tensor)
	derive(x, gradOut, gradIn *Tensor)
	name() string
}

// ActivationLayer adapts an Activation to the Layer interface.
type ActivationLayer struct {
	act   Activation
	input *Tensor
}

func newActivation(act Activation) *ActivationLayer {
	return &ActivationLayer{act: act}
}

func (a *ActivationLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	a.input = input
	out := NewTensor(input.shape...)
	a.act.apply(input, out)
	return out, nil
}

func (a *ActivationLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if a.input == nil {
		return nil, errorf("%s backward called before forward", a.act.name())
	}
	gradInput := NewTensor(gradOutput.shape...)
	a.act.derive(a.input, gradOutput, gradInput)
	return gradInput, nil
}

func (a *ActivationLayer) parameters() []*Tensor { return nil }
func (a *ActivationLayer) gradients() []*Tensor  { return nil }
func (a *ActivationLayer) name() string          { return a.act.name() }

// ReLUActivation - Rectified Linear Unit
type ReLUActivation struct{}

func ReLU() Activation { return &ReLUActivation{} }

func (r *ReLUActivation) apply(x, out *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = 0
		}
	}
}

func (r *ReLUActivation) derive(x, gradOut, gradIn *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = 0
		}
	}
}

func (r *ReLUActivation) name() string { return "relu" }

// LeakyReLUActivation - Leaky ReLU with configurable negative slope
type LeakyReLUActivation struct {
	NegativeSlope float64
}

func LeakyReLU(negativeSlope float64) Activation {
	return &LeakyReLUActivation{NegativeSlope: negativeSlope}
}

func (l *LeakyReLUActivation) apply(x, out *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = v * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) derive(x, gradOut, gradIn *Tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = gradOut.data[i] * l.NegativeSlope
		}
	}
}

func (l *LeakyReLUActivation) name() string { return "leaky_relu" }

// TanhActivation bounds the generator output to [-1, 1].
type TanhActivation struct{}

func Tanh() Activation { return &TanhActivation{} }

func (t *TanhActivation) apply(x, out *Tensor) {
	for i, v := range x.data {
		out.data[i] = math.Tanh(v)
	}
}

func (t *TanhActivation) derive(x, gradOut, gradIn *Tensor) {
	for i, v := range x.data {
		th := math.Tanh(v)
		gradIn.data[i] = gradOut.data[i] * (1 - th*th)
	}
}

func (t *TanhActivation) name() string { return "tanh" }
