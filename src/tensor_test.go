package pix2pix

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	t.fillRandNorm(0, 1, rng)
	return t
}

func TestFromData(t *testing.T) {
	x, err := FromData([]float64{1, 2, 3, 4, 5, 6}, 1, 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 3}, x.Shape())
	assert.Equal(t, 6, x.Size())

	_, err = FromData([]float64{1, 2, 3}, 2, 2)
	assert.Error(t, err)
	_, err = FromData(nil, 0, 2)
	assert.Error(t, err)
}

func TestConcatSplitChannels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := randTensor(rng, 2, 3, 4, 5)
	b := randTensor(rng, 2, 2, 4, 5)

	ab, err := concatChannels(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 4, 5}, ab.Shape())

	// sample 1, channel 3 is b's channel 0
	plane := 20
	assert.Equal(t, b.data[2*plane:2*plane+plane], ab.data[(5+3)*plane:(5+4)*plane])

	a2, b2 := splitChannels(ab, 3)
	assert.Equal(t, a.data, a2.data)
	assert.Equal(t, b.data, b2.data)

	_, err = concatChannels(a, randTensor(rng, 2, 2, 4, 4))
	assert.Error(t, err)
}

func TestInterpolateBilinear(t *testing.T) {
	x, err := FromData([]float64{0, 1, 2, 3}, 1, 1, 2, 2)
	require.NoError(t, err)

	up := interpolateBilinear(x, 4, 4)
	assert.Equal(t, []int{1, 1, 4, 4}, up.Shape())
	want := []float64{
		0, 0.25, 0.75, 1,
		0.5, 0.75, 1.25, 1.5,
	}
	assert.InDeltaSlice(t, want, up.data[:8], 1e-12)

	// half-pixel downsampling by two averages neighbouring pairs
	y, err := FromData([]float64{
		0, 2, 4, 6,
		0, 2, 4, 6,
		8, 10, 12, 14,
		8, 10, 12, 14,
	}, 1, 1, 4, 4)
	require.NoError(t, err)
	down := interpolateBilinear(y, 2, 2)
	assert.InDeltaSlice(t, []float64{1, 5, 9, 13}, down.data, 1e-12)

	same := interpolateBilinear(y, 4, 4)
	assert.Equal(t, y.data, same.data)
	same.data[0] = 99
	assert.Equal(t, 0.0, y.data[0])
}

func TestAttentionMap(t *testing.T) {
	x, err := FromData([]float64{
		1, 2, // channel 0
		3, -4, // channel 1
	}, 1, 2, 1, 2)
	require.NoError(t, err)

	m := attentionMap(x)
	assert.Equal(t, []int{1, 1, 1, 2}, m.Shape())
	assert.InDeltaSlice(t, []float64{5, 10}, m.data, 1e-12)
}

func TestAttentionMapBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randTensor(rng, 2, 3, 3, 3)
	r := randTensor(rng, 2, 1, 3, 3)

	objective := func() float64 {
		m := attentionMap(x)
		s := 0.0
		for i, v := range m.data {
			s += v * r.data[i]
		}
		return s
	}
	grad := attentionMapBackward(x, r)
	assertGradient(t, "x", x, grad, objective, 1e-6)
}

func TestWeightedSum(t *testing.T) {
	a, _ := FromData([]float64{1, 2}, 1, 1, 1, 2)
	b, _ := FromData([]float64{4, 8}, 1, 1, 1, 2)
	out := weightedSum([]*Tensor{a, b}, []float64{0.5, 0.25})
	assert.InDeltaSlice(t, []float64{1.5, 3}, out.data, 1e-12)
}

func TestScanTensor(t *testing.T) {
	x, _ := FromData([]float64{-2, 3, 0.5}, 3)
	info := ScanTensor(x)
	assert.Equal(t, -2.0, info.MinValue)
	assert.Equal(t, 3.0, info.MaxValue)
	assert.Zero(t, info.NaNCount)
	assert.Contains(t, info.Format(), "range=")
	assert.Nil(t, ScanTensor(nil))
}

func TestParallelFor(t *testing.T) {
	for _, n := range []int{0, 1, 257} {
		hits := make([]int, n)
		ParallelFor(n, func(i int) { hits[i]++ })
		for i, h := range hits {
			require.Equal(t, 1, h, "index %d", i)
		}
	}
}
