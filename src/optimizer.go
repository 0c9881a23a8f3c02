package pix2pix

import "math"

// Optimizer updates network parameters
type Optimizer interface {
	init(params []*Tensor)
	step(params []*Tensor, grads []*Tensor)
	setLR(lr float64)
	learningRate() float64
	name() string
}

var _ Optimizer = (*AdamOptimizer)(nil)

// AdamOptimizer - Adaptive Moment Estimation
type AdamOptimizer struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	m           []*Tensor
	v           []*Tensor
	t           int
	initialized bool
}

type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

func Adam(config AdamConfig) *AdamOptimizer {
	return &AdamOptimizer{
		LR:      config.LR,
		Beta1:   config.Beta1,
		Beta2:   config.Beta2,
		Epsilon: config.Epsilon,
	}
}

func (a *AdamOptimizer) init(params []*Tensor) {
	a.m = make([]*Tensor, len(params))
	a.v = make([]*Tensor, len(params))
	for i, p := range params {
		a.m[i] = NewTensor(p.shape...)
		a.v[i] = NewTensor(p.shape...)
	}
	a.t = 0
	a.initialized = true
}

func (a *AdamOptimizer) step(params []*Tensor, grads []*Tensor) {
	if !a.initialized {
		a.init(params)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]

		for j := range p.data {
			grad := g.data[j]
			m.data[j] = a.Beta1*m.data[j] + (1-a.Beta1)*grad
			v.data[j] = a.Beta2*v.data[j] + (1-a.Beta2)*grad*grad

			mHat := m.data[j] / bc1
			vHat := v.data[j] / bc2

			p.data[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

func (a *AdamOptimizer) setLR(lr float64)      { a.LR = lr }
func (a *AdamOptimizer) learningRate() float64 { return a.LR }
func (a *AdamOptimizer) name() string          { return "adam" }

// zeroGrad clears accumulated gradients before a new backward pass.
func zeroGrad(grads []*Tensor) {
	for _, g := range grads {
		g.zero()
	}
}
