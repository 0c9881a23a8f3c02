package pix2pix

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallOptions() Options {
	o := DefaultOptions()
	o.NGF = 4
	o.NDF = 4
	o.NumDowns = 5
	o.Seed = 1
	return o
}

func newTestModel(t *testing.T, o Options) *Model {
	t.Helper()
	m, err := NewModel(o)
	require.NoError(t, err)
	return m
}

func pairBatch(rng *rand.Rand, n, channels, size int) Batch {
	a := randTensor(rng, n, channels, size, size)
	b := randTensor(rng, n, channels, size, size)
	mulScalar(a, 0.5)
	mulScalar(b, 0.5)
	return Batch{A: a, B: b}
}

func snapshot(params []*Tensor) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = append([]float64(nil), p.data...)
	}
	return out
}

func changed(before [][]float64, params []*Tensor) bool {
	for i, p := range params {
		for j, v := range p.data {
			if v != before[i][j] {
				return true
			}
		}
	}
	return false
}

func TestModelRequiresInput(t *testing.T) {
	m := newTestModel(t, smallOptions())

	assert.True(t, errors.Is(m.Forward(), ErrNoInput))
	assert.True(t, errors.Is(m.OptimizeStep(), ErrNoInput))
	assert.True(t, errors.Is(m.SetInput(Batch{A: NewTensor(1, 3, 32, 32)}), ErrNoInput))

	err := m.SetInput(Batch{A: NewTensor(1, 3, 32, 32), B: NewTensor(1, 3, 64, 64)})
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	err = m.SetInput(Batch{A: NewTensor(1, 1, 32, 32), B: NewTensor(1, 1, 32, 32)})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestSetInputDirection(t *testing.T) {
	o := smallOptions()
	o.Direction = "BtoA"
	m := newTestModel(t, o)

	b := pairBatch(rand.New(rand.NewSource(1)), 1, 3, 32)
	b.APaths = []string{"a.jpg"}
	b.BPaths = []string{"b.jpg"}
	require.NoError(t, m.SetInput(b))

	visuals := m.CurrentVisuals()
	require.Len(t, visuals, 3)
	assert.Equal(t, "real_A", visuals[0].Name)
	assert.Same(t, b.B, visuals[0].Image)
	assert.Same(t, b.A, visuals[2].Image)
	assert.Nil(t, visuals[1].Image)

	src, dst := m.ImagePaths()
	assert.Equal(t, []string{"b.jpg"}, src)
	assert.Equal(t, []string{"a.jpg"}, dst)

	require.NoError(t, m.Forward())
	assert.Equal(t, []int{1, 3, 32, 32}, m.CurrentVisuals()[1].Image.Shape())
}

func TestOptimizeStep(t *testing.T) {
	m := newTestModel(t, smallOptions())
	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(2)), 2, 3, 32)))

	g := snapshot(m.netG.parameters())
	d := snapshot(m.netD.parameters())
	require.NoError(t, m.OptimizeStep())

	assert.True(t, changed(g, m.netG.parameters()))
	assert.True(t, changed(d, m.netD.parameters()))

	losses := m.CurrentLosses()
	names := make([]string, len(losses))
	for i, l := range losses {
		names[i] = l.Name
		assert.False(t, math.IsNaN(l.Value) || math.IsInf(l.Value, 0), l.Name)
	}
	assert.Equal(t, []string{"G_GAN", "G_L1", "D_real", "D_fake"}, names)
	assert.Greater(t, losses[1].Value, 0.0)
}

func TestFrozenDiscriminator(t *testing.T) {
	m := newTestModel(t, smallOptions())
	m.SetRequiresGrad(NetD, false)
	assert.True(t, m.Frozen(NetD))
	assert.False(t, m.Frozen(NetG))

	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(3)), 1, 3, 32)))
	g := snapshot(m.netG.parameters())
	d := snapshot(m.netD.parameters())
	require.NoError(t, m.OptimizeStep())

	assert.True(t, changed(g, m.netG.parameters()))
	assert.False(t, changed(d, m.netD.parameters()))

	info := m.FreezeInfo()
	require.Len(t, info, 2)
	assert.True(t, info[1].Frozen)
	assert.Equal(t, m.netD.NumParams(), info[1].Parameters)

	m.SetRequiresGrad(NetD, true)
	require.NoError(t, m.OptimizeStep())
	assert.True(t, changed(d, m.netD.parameters()))
}

func TestFrozenGenerator(t *testing.T) {
	m := newTestModel(t, smallOptions())
	m.SetRequiresGrad(NetG, false)

	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(4)), 1, 3, 32)))
	g := snapshot(m.netG.parameters())
	d := snapshot(m.netD.parameters())
	require.NoError(t, m.OptimizeStep())

	assert.False(t, changed(g, m.netG.parameters()))
	assert.True(t, changed(d, m.netD.parameters()))
}

func TestGeneratorUpdateLeavesDiscriminator(t *testing.T) {
	m := newTestModel(t, smallOptions())
	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(5)), 1, 3, 32)))
	require.NoError(t, m.Forward())

	d := snapshot(m.netD.parameters())
	require.NoError(t, m.optimizeG())

	assert.False(t, changed(d, m.netD.parameters()))
	for _, g := range m.netD.gradients() {
		for _, v := range g.data {
			require.Zero(t, v)
		}
	}
}

func TestDiscriminatorUpdateLeavesGenerator(t *testing.T) {
	m := newTestModel(t, smallOptions())
	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(11)), 2, 3, 32)))
	require.NoError(t, m.Forward())

	g := snapshot(m.netG.parameters())
	gBuf := snapshot(m.netG.buffers())
	d := snapshot(m.netD.parameters())
	require.NoError(t, m.optimizeD())

	assert.True(t, changed(d, m.netD.parameters()))
	assert.False(t, changed(g, m.netG.parameters()))
	assert.False(t, changed(gBuf, m.netG.buffers()))
	for _, grad := range m.netG.gradients() {
		for _, v := range grad.data {
			require.Zero(t, v)
		}
	}
}

func TestFullSizeStep(t *testing.T) {
	if testing.Short() {
		t.Skip("256x256 training step")
	}
	o := DefaultOptions()
	o.NGF = 4
	o.NDF = 4
	m := newTestModel(t, o)

	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(6)), 4, 3, 256)))
	require.NoError(t, m.OptimizeStep())
	for _, l := range m.CurrentLosses() {
		assert.False(t, math.IsNaN(l.Value), l.Name)
	}

	pair, err := concatChannels(m.realA, m.fakeB)
	require.NoError(t, err)
	pred, err := m.netD.Forward(pair, &Pass{})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 30, 30}, pred.Shape())
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := newTestModel(t, smallOptions())
	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(7)), 2, 3, 32)))
	require.NoError(t, m.OptimizeStep())

	path, err := m.SaveCheckpoint(3, dir, 0.25, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_3.pth"), path)

	o := smallOptions()
	o.Seed = 99
	other := newTestModel(t, o)
	score, err := other.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, score)

	for i, p := range m.netG.parameters() {
		assert.Equal(t, p.data, other.netG.parameters()[i].data)
	}
	for i, b := range m.netG.buffers() {
		assert.Equal(t, b.data, other.netG.buffers()[i].data)
	}
	for i, p := range m.netD.parameters() {
		assert.Equal(t, p.data, other.netD.parameters()[i].data)
	}
	for i, b := range m.netD.buffers() {
		assert.Equal(t, b.data, other.netD.buffers()[i].data)
	}

	// restored models translate identically
	m.Eval()
	other.Eval()
	x := randTensor(rand.New(rand.NewSource(12)), 1, 3, 32, 32)
	want, err := m.Translate(x)
	require.NoError(t, err)
	got, err := other.Translate(x)
	require.NoError(t, err)
	assert.Equal(t, want.data, got.data)

	info, err := ReadCheckpointInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Epoch)
	assert.Equal(t, m.RunID(), info.RunID)
	assert.Equal(t, "AtoB", info.Direction)
	assert.Equal(t, 5, info.Arch.NumDowns)
	assert.Equal(t, precisionF64, info.Precision)
}

func TestCheckpointHalfPrecision(t *testing.T) {
	o := smallOptions()
	o.HalfPrecision = true
	m := newTestModel(t, o)

	path, err := m.SaveCheckpoint(1, t.TempDir(), 1.5, true)
	require.NoError(t, err)
	assert.Equal(t, "model_best_AtoB.pth", filepath.Base(path))

	o.Seed = 2
	other := newTestModel(t, o)
	_, err = other.LoadCheckpoint(path)
	require.NoError(t, err)
	for i, p := range m.netG.parameters() {
		got := other.netG.parameters()[i].data
		for j, v := range p.data {
			require.InDelta(t, v, got[j], 1e-3*math.Abs(v)+1e-6)
		}
	}
}

func TestCheckpointMismatchLeavesModel(t *testing.T) {
	dir := t.TempDir()
	m := newTestModel(t, smallOptions())
	path, err := m.SaveCheckpoint(1, dir, math.NaN(), false)
	require.NoError(t, err)

	o := smallOptions()
	o.NGF = 8
	other := newTestModel(t, o)
	g := snapshot(other.netG.parameters())
	d := snapshot(other.netD.parameters())

	_, err = other.LoadCheckpoint(path)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.False(t, changed(g, other.netG.parameters()))
	assert.False(t, changed(d, other.netD.parameters()))

	score, err := m.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.True(t, math.IsInf(score, 1))

	_, err = m.LoadCheckpoint(filepath.Join(dir, "missing.pth"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCheckpointPath(t *testing.T) {
	assert.Equal(t, filepath.Join("ckpt", "model_12.pth"), CheckpointPath("ckpt", 12, false, "AtoB"))
	assert.Equal(t, filepath.Join("ckpt", "model_best_BtoA.pth"), CheckpointPath("ckpt", 12, true, "BtoA"))
}

func TestUpdateLearningRate(t *testing.T) {
	o := smallOptions()
	o.NEpochs = 2
	o.NEpochsDecay = 2
	m := newTestModel(t, o)

	assert.InDelta(t, o.LR, m.LearningRate(), 1e-15)
	want := []float64{o.LR, o.LR * 2 / 3, o.LR / 3, 0}
	for i, w := range want {
		assert.InDelta(t, w, m.UpdateLearningRate(i+1), 1e-15)
	}
}

func TestTrainEvalMode(t *testing.T) {
	m := newTestModel(t, smallOptions())
	assert.True(t, m.Training())

	m.Eval()
	assert.False(t, m.Training())
	x := randTensor(rand.New(rand.NewSource(8)), 1, 3, 32, 32)
	a, err := m.Translate(x)
	require.NoError(t, err)
	b, err := m.Translate(x)
	require.NoError(t, err)
	assert.Equal(t, a.data, b.data)

	m.Train()
	assert.True(t, m.Training())
}

func TestModelSummary(t *testing.T) {
	m := newTestModel(t, smallOptions())
	m.SetRequiresGrad(NetD, false)

	var buf bytes.Buffer
	require.NoError(t, m.Summary(&buf))
	out := buf.String()
	assert.Contains(t, out, m.RunID())
	assert.Contains(t, out, "innermost")
	assert.Contains(t, out, "3->4")
	assert.Contains(t, out, "true")

	buf.Reset()
	RenderLosses(&buf, []Scalar{{Name: "G_L1", Value: 1.5}})
	assert.Contains(t, buf.String(), "1.5000")
}

func TestDistillationNeedsPretrain(t *testing.T) {
	o := smallOptions()
	o.NumDowns = 7
	o.LambdaDistill = 1
	_, err := NewModel(o)
	assert.True(t, errors.Is(err, ErrPretrainMissing))

	o.PretrainPath = filepath.Join(t.TempDir(), "missing.pth")
	_, err = NewModel(o)
	assert.True(t, errors.Is(err, ErrPretrainMissing))

	m := newTestModel(t, smallOptions())
	_, err = m.DistillLoss()
	assert.True(t, errors.Is(err, ErrDistillInactive))
}

func TestDistillation(t *testing.T) {
	o := smallOptions()
	o.NGF = 2
	o.NDF = 2
	o.NumDowns = 7

	pretrained := newTestModel(t, o)
	path, err := pretrained.SaveCheckpoint(1, t.TempDir(), math.NaN(), true)
	require.NoError(t, err)

	o.Seed = 5
	o.LambdaDistill = 10
	o.PretrainPath = path
	m := newTestModel(t, o)
	m.SetRequiresGrad(NetD, false)

	// active but nothing captured yet
	_, err = m.DistillLoss()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDistillInactive))

	require.NoError(t, m.SetInput(pairBatch(rand.New(rand.NewSource(9)), 1, 3, 128)))
	require.NoError(t, m.OptimizeStep())

	losses := m.CurrentLosses()
	require.Len(t, losses, 5)
	assert.Equal(t, "attention_distill", losses[4].Name)
	assert.GreaterOrEqual(t, losses[4].Value, 0.0)

	raw, err := m.DistillLoss()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, raw, 0.0)
	assert.False(t, math.IsNaN(raw))
}

func TestAttentionLossNormalized(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	student := randTensor(rng, 2, 1, 3, 3)
	target := randTensor(rng, 2, 1, 3, 3)
	for _, x := range []*Tensor{student, target} {
		for i, v := range x.data {
			x.data[i] = math.Abs(v) + 0.1
		}
	}

	loss, grad := attentionLoss(student, target, true)
	assertGradient(t, "student", student, grad, func() float64 {
		l, _ := attentionLoss(student, target, true)
		return l
	}, 1e-6)

	scaled := student.Clone()
	mulScalar(scaled, 3)
	l2, _ := attentionLoss(scaled, target, true)
	assert.InDelta(t, loss, l2, 1e-12)

	same, _ := attentionLoss(target, target, true)
	assert.InDelta(t, 0, same, 1e-15)

	raw, _ := attentionLoss(student, target, false)
	want, _ := mseLoss(student, target)
	assert.Equal(t, want, raw)
}
