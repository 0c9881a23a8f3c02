package pix2pix

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GANLoss scores discriminator logits against a real or fake target and
// returns the mean loss with its gradient on the logits.
type GANLoss struct {
	Mode      string // "vanilla", "lsgan" or "wgangp"
	RealLabel float64
	FakeLabel float64
}

func NewGANLoss(mode string) (*GANLoss, error) {
	switch mode {
	case "vanilla", "lsgan", "wgangp":
	default:
		return nil, errorf("gan mode %s not implemented", mode)
	}
	return &GANLoss{Mode: mode, RealLabel: 1, FakeLabel: 0}, nil
}

func (l *GANLoss) compute(pred *Tensor, targetIsReal bool) (float64, *Tensor) {
	n := float64(len(pred.data))
	grad := NewTensor(pred.shape...)
	target := l.FakeLabel
	if targetIsReal {
		target = l.RealLabel
	}

	loss := 0.0
	switch l.Mode {
	case "vanilla":
		// binary cross entropy on logits, numerically stable form
		for i, x := range pred.data {
			loss += math.Max(x, 0) - x*target + math.Log1p(math.Exp(-math.Abs(x)))
			grad.data[i] = (sigmoid(x) - target) / n
		}
		loss /= n
	case "lsgan":
		for i, x := range pred.data {
			d := x - target
			loss += d * d
			grad.data[i] = 2 * d / n
		}
		loss /= n
	case "wgangp":
		sign := 1.0
		if targetIsReal {
			sign = -1
		}
		loss = sign * mean(pred)
		grad.fill(sign / n)
	}
	return loss, grad
}

func (l *GANLoss) name() string { return "gan_" + l.Mode }

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// l1Loss is mean absolute error with its gradient on pred.
func l1Loss(pred, target *Tensor) (float64, *Tensor) {
	n := float64(len(pred.data))
	loss := floats.Distance(pred.data, target.data, 1) / n
	grad := NewTensor(pred.shape...)
	for i := range pred.data {
		switch d := pred.data[i] - target.data[i]; {
		case d > 0:
			grad.data[i] = 1 / n
		case d < 0:
			grad.data[i] = -1 / n
		}
	}
	return loss, grad
}

// mseLoss is mean squared error with its gradient on pred.
func mseLoss(pred, target *Tensor) (float64, *Tensor) {
	n := float64(len(pred.data))
	grad := NewTensor(pred.shape...)
	loss := 0.0
	for i := range pred.data {
		d := pred.data[i] - target.data[i]
		loss += d * d
		grad.data[i] = 2 * d / n
	}
	return loss / n, grad
}
