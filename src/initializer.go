package pix2pix

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Initializer sets up initial weights for layers
type Initializer interface {
	initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand)
	name() string
}

// NewInitializer maps an Options.InitType name to an Initializer.
func NewInitializer(kind string, gain float64) (Initializer, error) {
	switch kind {
	case "normal":
		return Normal(gain), nil
	case "xavier":
		return XavierNormal(gain), nil
	case "kaiming":
		return HeNormal(), nil
	case "orthogonal":
		return Orthogonal(gain), nil
	}
	return nil, errorf("initialization method [%s] is not implemented", kind)
}

// NormalInit draws from N(0, gain).
type NormalInit struct {
	Gain float64
}

func Normal(gain float64) Initializer {
	return &NormalInit{Gain: gain}
}

func (n *NormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	t.fillRandNorm(0, n.Gain, rng)
}

func (n *NormalInit) name() string { return "normal" }

// XavierNormalInit - Xavier/Glorot normal initialization
type XavierNormalInit struct {
	Gain float64
}

func XavierNormal(gain float64) Initializer {
	return &XavierNormalInit{Gain: gain}
}

func (x *XavierNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	std := x.Gain * math.Sqrt(2.0/float64(fanIn+fanOut))
	t.fillRandNorm(0, std, rng)
}

func (x *XavierNormalInit) name() string { return "xavier_normal" }

// HeNormalInit - He/Kaiming normal initialization, fan-in mode
type HeNormalInit struct{}

func HeNormal() Initializer {
	return &HeNormalInit{}
}

func (h *HeNormalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	std := math.Sqrt(2.0 / float64(fanIn))
	t.fillRandNorm(0, std, rng)
}

func (h *HeNormalInit) name() string { return "he_normal" }

// OrthogonalInit fills the tensor, flattened to [shape[0], rest], with a
// (semi-)orthogonal matrix scaled by Gain.
type OrthogonalInit struct {
	Gain float64
}

func Orthogonal(gain float64) Initializer {
	return &OrthogonalInit{Gain: gain}
}

func (o *OrthogonalInit) initialize(t *Tensor, fanIn, fanOut int, rng *rand.Rand) {
	rows := t.shape[0]
	cols := len(t.data) / rows

	// QR needs a tall matrix
	m, n := rows, cols
	if rows < cols {
		m, n = cols, rows
	}
	raw := make([]float64, m*n)
	for i := range raw {
		raw[i] = rng.NormFloat64()
	}
	a := mat.NewDense(m, n, raw)

	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// sign correction keeps the distribution uniform over orthogonal matrices
	for j := 0; j < n; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < m; i++ {
			v := q.At(i, j) * sign * o.Gain
			if rows < cols {
				t.data[j*cols+i] = v
			} else {
				t.data[i*cols+j] = v
			}
		}
	}
}

func (o *OrthogonalInit) name() string { return "orthogonal" }
