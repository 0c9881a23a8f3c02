package pix2pix

import (
	"math"
	"math/rand"
)

// BatchNorm2DLayer normalizes each channel of an NCHW tensor over the batch
// and spatial axes. Running statistics are used outside training.
type BatchNorm2DLayer struct {
	channels    int
	epsilon     float64
	momentum    float64
	gamma       *Tensor
	beta        *Tensor
	gradGamma   *Tensor
	gradBeta    *Tensor
	runningMean *Tensor
	runningVar  *Tensor

	normalized *Tensor
	invStd     []float64
	training   bool
}

// BatchNorm2D creates a batch norm over the given channel count with
// momentum 0.1 and epsilon 1e-5.
func BatchNorm2D(channels int) *BatchNorm2DLayer {
	bn := &BatchNorm2DLayer{
		channels:    channels,
		epsilon:     1e-5,
		momentum:    0.1,
		gamma:       NewTensor(channels),
		beta:        NewTensor(channels),
		gradGamma:   NewTensor(channels),
		gradBeta:    NewTensor(channels),
		runningMean: NewTensor(channels),
		runningVar:  NewTensor(channels),
	}
	bn.gamma.fill(1)
	bn.runningVar.fill(1)
	return bn
}

// initialize draws gamma from N(1, gain) and zeroes beta.
func (bn *BatchNorm2DLayer) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	bn.gamma.fillRandNorm(1, gain, rng)
	bn.beta.zero()
}

func (bn *BatchNorm2DLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	if len(input.shape) != 4 || input.shape[1] != bn.channels {
		return nil, shapeError("BatchNorm2D", "forward", input, "[N C H W] with matching channels")
	}
	n, c, h, w := input.dims4()
	plane := h * w
	count := float64(n * plane)

	out := NewTensor(input.shape...)
	bn.normalized = NewTensor(input.shape...)
	bn.invStd = make([]float64, c)

	ParallelFor(c, func(ch int) {
		var mu, variance float64
		if ctx.Training {
			for b := 0; b < n; b++ {
				for _, v := range input.data[(b*c+ch)*plane : (b*c+ch+1)*plane] {
					mu += v
				}
			}
			mu /= count
			for b := 0; b < n; b++ {
				for _, v := range input.data[(b*c+ch)*plane : (b*c+ch+1)*plane] {
					d := v - mu
					variance += d * d
				}
			}
			variance /= count

			unbiased := variance
			if count > 1 {
				unbiased = variance * count / (count - 1)
			}
			bn.runningMean.data[ch] = (1-bn.momentum)*bn.runningMean.data[ch] + bn.momentum*mu
			bn.runningVar.data[ch] = (1-bn.momentum)*bn.runningVar.data[ch] + bn.momentum*unbiased
		} else {
			mu = bn.runningMean.data[ch]
			variance = bn.runningVar.data[ch]
		}

		inv := 1 / math.Sqrt(variance+bn.epsilon)
		bn.invStd[ch] = inv
		g, be := bn.gamma.data[ch], bn.beta.data[ch]
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for p := 0; p < plane; p++ {
				xn := (input.data[off+p] - mu) * inv
				bn.normalized.data[off+p] = xn
				out.data[off+p] = g*xn + be
			}
		}
	})

	// running statistics are constants, so an eval backward is a plain scale
	bn.training = ctx.Training
	return out, nil
}

func (bn *BatchNorm2DLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if bn.normalized == nil {
		return nil, errorf("BatchNorm2D backward called before forward")
	}
	if err := validateShape(bn.normalized.shape, gradOutput.shape); err != nil {
		return nil, err
	}
	n, c, h, w := gradOutput.dims4()
	plane := h * w
	count := float64(n * plane)
	gradInput := NewTensor(gradOutput.shape...)

	ParallelFor(c, func(ch int) {
		var sumG, sumGX float64
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for p := 0; p < plane; p++ {
				g := gradOutput.data[off+p]
				sumG += g
				sumGX += g * bn.normalized.data[off+p]
			}
		}
		if ctx.ParamGrads {
			bn.gradGamma.data[ch] += sumGX
			bn.gradBeta.data[ch] += sumG
		}

		scale := bn.gamma.data[ch] * bn.invStd[ch]
		for b := 0; b < n; b++ {
			off := (b*c + ch) * plane
			for p := 0; p < plane; p++ {
				g := gradOutput.data[off+p]
				if bn.training {
					gradInput.data[off+p] = scale * (g - sumG/count - bn.normalized.data[off+p]*sumGX/count)
				} else {
					gradInput.data[off+p] = scale * g
				}
			}
		}
	})
	return gradInput, nil
}

func (bn *BatchNorm2DLayer) parameters() []*Tensor {
	return []*Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNorm2DLayer) gradients() []*Tensor {
	return []*Tensor{bn.gradGamma, bn.gradBeta}
}

func (bn *BatchNorm2DLayer) buffers() []*Tensor {
	return []*Tensor{bn.runningMean, bn.runningVar}
}

func (bn *BatchNorm2DLayer) name() string { return "batch_norm2d" }
