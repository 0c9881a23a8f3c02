package pix2pix

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertGradient compares an analytic gradient on x against central
// differences of objective.
func assertGradient(t *testing.T, label string, x, grad *Tensor, objective func() float64, tol float64) {
	t.Helper()
	const h = 1e-5
	for i := range x.data {
		orig := x.data[i]
		x.data[i] = orig + h
		up := objective()
		x.data[i] = orig - h
		down := objective()
		x.data[i] = orig
		numeric := (up - down) / (2 * h)
		if !assert.InDelta(t, numeric, grad.data[i], tol, "%s[%d]", label, i) {
			return
		}
	}
}

// checkLayer verifies input and parameter gradients of l under the
// objective sum(forward(x) * r).
func checkLayer(t *testing.T, l Layer, x *Tensor, training bool, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	ctx := &Pass{Training: training, ParamGrads: true}

	out, err := l.forward(x, ctx)
	require.NoError(t, err)
	r := randTensor(rng, out.shape...)

	objective := func() float64 {
		o, err := l.forward(x, ctx)
		require.NoError(t, err)
		s := 0.0
		for i, v := range o.data {
			s += v * r.data[i]
		}
		return s
	}

	zeroGrad(l.gradients())
	_, err = l.forward(x, ctx)
	require.NoError(t, err)
	gradX, err := l.backward(r, ctx)
	require.NoError(t, err)
	// keep the analytic gradients before the probes overwrite layer caches
	gradX = gradX.Clone()
	grads := make([]*Tensor, 0)
	for _, g := range l.gradients() {
		grads = append(grads, g.Clone())
	}

	assertGradient(t, "input", x, gradX, objective, tol)
	for i, p := range l.parameters() {
		assertGradient(t, l.name()+" param", p, grads[i], objective, tol)
	}
}

func TestConv2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := Conv2D(3, 4).Build()
	c.initialize(Normal(0.5), 0.5, rng)
	c.bias.fillRandNorm(0, 0.1, rng)

	x := randTensor(rng, 2, 3, 6, 6)
	out, err := c.forward(x, &Pass{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3, 3}, out.Shape())

	checkLayer(t, c, x, true, 1e-6)
}

func TestConv2DStrideOne(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	c := Conv2D(2, 3).WithStride(1).WithBias(false).Build()
	c.initialize(Normal(0.5), 0.5, rng)

	x := randTensor(rng, 1, 2, 5, 5)
	out, err := c.forward(x, &Pass{})
	require.NoError(t, err)
	// k4 s1 p1 shrinks by one
	assert.Equal(t, []int{1, 3, 4, 4}, out.Shape())
	assert.Len(t, c.parameters(), 1)

	checkLayer(t, c, x, true, 1e-6)
}

func TestConv2DKnownValues(t *testing.T) {
	c := Conv2D(1, 1).WithKernel(1).WithStride(1).WithPadding(0).Build()
	c.weights.data[0] = 2
	c.bias.data[0] = 1
	x, _ := FromData([]float64{1, 2, 3, 4}, 1, 1, 2, 2)

	out, err := c.forward(x, &Pass{})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5, 7, 9}, out.data)
}

func TestConv2DChannelMismatch(t *testing.T) {
	c := Conv2D(3, 4).Build()
	_, err := c.forward(NewTensor(1, 2, 4, 4), &Pass{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	var me *ModelError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "forward", me.Phase)
}

func TestConvTranspose2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := ConvTranspose2D(3, 2).Build()
	c.initialize(Normal(0.5), 0.5, rng)
	c.bias.fillRandNorm(0, 0.1, rng)

	x := randTensor(rng, 2, 3, 3, 3)
	out, err := c.forward(x, &Pass{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 6, 6}, out.Shape())

	checkLayer(t, c, x, true, 1e-6)
}

func TestConvTransposeInvertsConvShape(t *testing.T) {
	down := Conv2D(3, 8).Build()
	up := ConvTranspose2D(8, 3).Build()
	x := NewTensor(1, 3, 16, 16)

	h, err := down.forward(x, &Pass{})
	require.NoError(t, err)
	y, err := up.forward(h, &Pass{})
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), y.Shape())
}

func TestParamGradsDisabled(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	c := Conv2D(2, 2).Build()
	c.initialize(Normal(0.5), 0.5, rng)
	x := randTensor(rng, 1, 2, 4, 4)

	ctx := &Pass{Training: true, ParamGrads: false}
	out, err := c.forward(x, ctx)
	require.NoError(t, err)
	gradX, err := c.backward(randTensor(rng, out.shape...), ctx)
	require.NoError(t, err)

	assert.Equal(t, x.Shape(), gradX.Shape())
	for _, g := range c.gradients() {
		for _, v := range g.data {
			assert.Zero(t, v)
		}
	}
}

func TestBatchNorm2DGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	bn := BatchNorm2D(3)
	bn.initialize(nil, 0.5, rng)
	bn.beta.fillRandNorm(0, 0.1, rng)

	x := randTensor(rng, 2, 3, 3, 3)
	checkLayer(t, bn, x, true, 1e-5)
	checkLayer(t, bn, x, false, 1e-6)
}

func TestBatchNorm2DStatistics(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	bn := BatchNorm2D(2)
	x := randTensor(rng, 4, 2, 3, 3)
	mulScalar(x, 3)

	out, err := bn.forward(x, &Pass{Training: true})
	require.NoError(t, err)

	// each channel of the output is standardized
	plane := 9
	for ch := 0; ch < 2; ch++ {
		var vals []float64
		for b := 0; b < 4; b++ {
			vals = append(vals, out.data[(b*2+ch)*plane:(b*2+ch+1)*plane]...)
		}
		mu, sq := 0.0, 0.0
		for _, v := range vals {
			mu += v
		}
		mu /= float64(len(vals))
		for _, v := range vals {
			sq += (v - mu) * (v - mu)
		}
		assert.InDelta(t, 0, mu, 1e-9)
		assert.InDelta(t, 1, sq/float64(len(vals)), 1e-3)
	}

	// running statistics moved from their initial values
	assert.NotEqual(t, 0.0, bn.runningMean.data[0])
	assert.NotEqual(t, 1.0, bn.runningVar.data[0])

	// eval uses the running statistics and leaves them alone
	mean0 := bn.runningMean.data[0]
	_, err = bn.forward(x, &Pass{Training: false})
	require.NoError(t, err)
	assert.Equal(t, mean0, bn.runningMean.data[0])
}

func TestActivationGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := randTensor(rng, 1, 2, 3, 3)
	// keep clear of the kinks at zero
	for i, v := range x.data {
		if v > -0.01 && v < 0.01 {
			x.data[i] = 0.5
		}
	}
	for _, act := range []Activation{ReLU(), LeakyReLU(0.2), Tanh()} {
		t.Run(act.name(), func(t *testing.T) {
			checkLayer(t, newActivation(act), x, true, 1e-6)
		})
	}
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	d := newDropout(0.5, rng)
	x := NewTensor(1, 1, 20, 20)
	x.fill(1)

	out, err := d.forward(x, &Pass{Training: true})
	require.NoError(t, err)
	zeros := 0
	for _, v := range out.data {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
	}
	assert.Greater(t, zeros, 100)
	assert.Less(t, zeros, 300)

	grad, err := d.backward(x, &Pass{Training: true})
	require.NoError(t, err)
	assert.Equal(t, out.data, grad.data)

	eval, err := d.forward(x, &Pass{Training: false})
	require.NoError(t, err)
	assert.Equal(t, x.data, eval.data)
}

func TestTapInjectsGradient(t *testing.T) {
	id := TapID{Depth: 2, Point: TapDown}
	taps := NewTaps(id)
	tap := newTap(id)
	ctx := &Pass{Taps: taps}

	x, _ := FromData([]float64{1, 2}, 1, 1, 1, 2)
	out, err := tap.forward(x, ctx)
	require.NoError(t, err)
	assert.Same(t, x, out)

	got, ok := taps.Activation(id)
	require.True(t, ok)
	assert.Same(t, x, got)

	extra, _ := FromData([]float64{10, 20}, 1, 1, 1, 2)
	taps.setGrad(id, extra)
	g, _ := FromData([]float64{1, 1}, 1, 1, 1, 2)
	back, err := tap.backward(g, ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 21}, back.data)
	assert.Equal(t, []float64{1, 1}, g.data)

	taps.clearGrads()
	back, err = tap.backward(g, ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, back.data)

	taps.Reset()
	_, ok = taps.Captured()
	assert.False(t, ok)
}
