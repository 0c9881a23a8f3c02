package pix2pix

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense float64 array in NCHW order.
type Tensor struct {
	data  []float64
	shape []int
}

// NewTensor allocates a zero tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	sh := make([]int, len(shape))
	copy(sh, shape)
	return &Tensor{
		data:  make([]float64, size),
		shape: sh,
	}
}

// FromData wraps data with the given shape. The slice is not copied.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	size := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, errorf("non-positive dimension in shape %v", shape)
		}
		size *= s
	}
	if size != len(data) {
		return nil, errorf("data has %d elements, shape %v needs %d", len(data), shape, size)
	}
	sh := make([]int, len(shape))
	copy(sh, shape)
	return &Tensor{data: data, shape: sh}, nil
}

// Shape returns a copy of the tensor dimensions.
func (t *Tensor) Shape() []int {
	sh := make([]int, len(t.shape))
	copy(sh, t.shape)
	return sh
}

// Data returns the backing slice.
func (t *Tensor) Data() []float64 { return t.data }

// Size is the number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	nt := NewTensor(t.shape...)
	copy(nt.data, t.data)
	return nt
}

func (t *Tensor) dims4() (n, c, h, w int) {
	return t.shape[0], t.shape[1], t.shape[2], t.shape[3]
}

func (t *Tensor) zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

func (t *Tensor) fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *Tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()*std + mean
	}
}

func (t *Tensor) fillRandUniform(low, high float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.Float64()*(high-low) + low
	}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// addInto accumulates src into dst.
func addInto(dst, src *Tensor) {
	floats.Add(dst.data, src.data)
}

func mulScalar(a *Tensor, s float64) {
	floats.Scale(s, a.data)
}

func mean(a *Tensor) float64 {
	if len(a.data) == 0 {
		return 0
	}
	return floats.Sum(a.data) / float64(len(a.data))
}

// concatChannels joins two NCHW tensors along the channel axis.
func concatChannels(a, b *Tensor) (*Tensor, error) {
	if len(a.shape) != 4 || len(b.shape) != 4 {
		return nil, errorf("concat needs 4-D tensors, got %v and %v", a.shape, b.shape)
	}
	n, ca, h, w := a.dims4()
	nb, cb, hb, wb := b.dims4()
	if n != nb || h != hb || w != wb {
		return nil, errorf("concat shape mismatch %v vs %v", a.shape, b.shape)
	}
	out := NewTensor(n, ca+cb, h, w)
	plane := h * w
	for i := 0; i < n; i++ {
		dst := out.data[i*(ca+cb)*plane:]
		copy(dst[:ca*plane], a.data[i*ca*plane:(i+1)*ca*plane])
		copy(dst[ca*plane:(ca+cb)*plane], b.data[i*cb*plane:(i+1)*cb*plane])
	}
	return out, nil
}

// splitChannels is the inverse of concatChannels: the first ca channels go to
// the first result, the rest to the second.
func splitChannels(t *Tensor, ca int) (*Tensor, *Tensor) {
	n, c, h, w := t.dims4()
	cb := c - ca
	a := NewTensor(n, ca, h, w)
	b := NewTensor(n, cb, h, w)
	plane := h * w
	for i := 0; i < n; i++ {
		src := t.data[i*c*plane:]
		copy(a.data[i*ca*plane:(i+1)*ca*plane], src[:ca*plane])
		copy(b.data[i*cb*plane:(i+1)*cb*plane], src[ca*plane:c*plane])
	}
	return a, b
}

// attentionMap reduces an activation to mean over channels of its square,
// shape [N,1,H,W].
func attentionMap(x *Tensor) *Tensor {
	n, c, h, w := x.dims4()
	out := NewTensor(n, 1, h, w)
	plane := h * w
	for i := 0; i < n; i++ {
		dst := out.data[i*plane : (i+1)*plane]
		for ch := 0; ch < c; ch++ {
			src := x.data[(i*c+ch)*plane : (i*c+ch+1)*plane]
			for p, v := range src {
				dst[p] += v * v
			}
		}
		floats.Scale(1/float64(c), dst)
	}
	return out
}

// attentionMapBackward maps a gradient on the attention map back onto the
// activation it was computed from: d/dx mean_c(x^2) = 2x/C.
func attentionMapBackward(x, gradMap *Tensor) *Tensor {
	n, c, h, w := x.dims4()
	out := NewTensor(n, c, h, w)
	plane := h * w
	scale := 2 / float64(c)
	for i := 0; i < n; i++ {
		g := gradMap.data[i*plane : (i+1)*plane]
		for ch := 0; ch < c; ch++ {
			off := (i*c + ch) * plane
			for p := 0; p < plane; p++ {
				out.data[off+p] = scale * x.data[off+p] * g[p]
			}
		}
	}
	return out
}

// interpolateBilinear resizes the spatial dims of an NCHW tensor with
// half-pixel centers (align_corners disabled).
func interpolateBilinear(x *Tensor, outH, outW int) *Tensor {
	n, c, h, w := x.dims4()
	if h == outH && w == outW {
		return x.Clone()
	}
	out := NewTensor(n, c, outH, outW)
	sy := float64(h) / float64(outH)
	sx := float64(w) / float64(outW)
	for nc := 0; nc < n*c; nc++ {
		src := x.data[nc*h*w : (nc+1)*h*w]
		dst := out.data[nc*outH*outW : (nc+1)*outH*outW]
		for oy := 0; oy < outH; oy++ {
			y0, y1, fy := sourceIndex(oy, sy, h)
			for ox := 0; ox < outW; ox++ {
				x0, x1, fx := sourceIndex(ox, sx, w)
				top := src[y0*w+x0]*(1-fx) + src[y0*w+x1]*fx
				bot := src[y1*w+x0]*(1-fx) + src[y1*w+x1]*fx
				dst[oy*outW+ox] = top*(1-fy) + bot*fy
			}
		}
	}
	return out
}

func sourceIndex(o int, scale float64, size int) (int, int, float64) {
	s := (float64(o)+0.5)*scale - 0.5
	if s < 0 {
		s = 0
	}
	i0 := int(math.Floor(s))
	if i0 > size-1 {
		i0 = size - 1
	}
	i1 := i0 + 1
	if i1 > size-1 {
		i1 = size - 1
	}
	return i0, i1, s - float64(i0)
}

// weightedSum returns sum_i weights[i]*maps[i]; all maps share a shape.
func weightedSum(maps []*Tensor, weights []float64) *Tensor {
	out := NewTensor(maps[0].shape...)
	for i, m := range maps {
		floats.AddScaled(out.data, weights[i], m.data)
	}
	return out
}

func validateShape(expected, got []int) error {
	if !sameShape(expected, got) {
		return errorf("%w: expected %v, got %v", ErrShapeMismatch, expected, got)
	}
	return nil
}
