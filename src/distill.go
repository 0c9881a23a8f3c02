package pix2pix

import (
	"errors"
	"log/slog"
	"os"

	"gonum.org/v1/gonum/floats"
)

// fusionWeights blends the teacher generator map with the two resized
// teacher discriminator maps.
var fusionWeights = []float64{0.5, 0.25, 0.25}

const attentionEps = 1e-12

// generatorTaps are the distilled generator activations, in loss order.
var generatorTaps = []struct {
	depth int
	point TapPoint
}{
	{1, TapDown},
	{4, TapDown},
	{5, TapUp},
	{2, TapUp},
}

// Distiller transfers attention maps from a frozen pretrained model to the
// student generator.
type Distiller struct {
	teacher   *Model
	normalize bool

	student  *Taps // student generator
	teacherG *Taps
	teacherD *Taps
}

func newDistiller(o Options, student *Generator) (*Distiller, error) {
	if _, err := os.Stat(o.PretrainPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errorf("%w: %s", ErrPretrainMissing, o.PretrainPath)
		}
		return nil, err
	}

	to := o
	to.LambdaDistill = 0
	to.Widths = nil
	teacher, err := NewModel(to)
	if err != nil {
		return nil, err
	}
	if _, err := teacher.LoadCheckpoint(o.PretrainPath); err != nil {
		return nil, errorf("load teacher: %w", err)
	}
	teacher.Eval()

	var studentIDs, teacherIDs []TapID
	for _, t := range generatorTaps {
		sid, err := student.Tap(t.depth, t.point)
		if err != nil {
			return nil, err
		}
		tid, err := teacher.netG.Tap(t.depth, t.point)
		if err != nil {
			return nil, err
		}
		studentIDs = append(studentIDs, sid)
		teacherIDs = append(teacherIDs, tid)
	}
	d1, err := teacher.netD.Tap(1)
	if err != nil {
		return nil, err
	}
	d2, err := teacher.netD.Tap(o.NLayersD)
	if err != nil {
		return nil, err
	}

	slog.Info("attention distillation ready", "teacher", o.PretrainPath, "normalize", o.AttentionNormal)
	return &Distiller{
		teacher:   teacher,
		normalize: o.AttentionNormal,
		student:   NewTaps(studentIDs...),
		teacherG:  NewTaps(teacherIDs...),
		teacherD:  NewTaps(d1, d2),
	}, nil
}

// observe runs the teacher generator on the source image and the teacher
// discriminator on the (source, student output) pair.
func (d *Distiller) observe(realA, fakeB *Tensor) error {
	d.teacherG.Reset()
	d.teacherD.Reset()
	pass := &Pass{Training: false, Taps: d.teacherG}
	if _, err := d.teacher.netG.Forward(realA, pass); err != nil {
		return err
	}
	pair, err := concatChannels(realA, fakeB)
	if err != nil {
		return err
	}
	pass = &Pass{Training: false, Taps: d.teacherD}
	_, err = d.teacher.netD.Forward(pair, pass)
	return err
}

// loss returns the summed attention loss over the generator taps and its
// gradient on each student activation, in tap order.
func (d *Distiller) loss() (float64, []*Tensor, error) {
	studentActs, ok := d.student.Captured()
	if !ok {
		return 0, nil, errorf("distillation loss needs a forward pass first")
	}
	teacherActs, ok := d.teacherG.Captured()
	if !ok {
		return 0, nil, errorf("teacher generator activations missing")
	}
	discActs, ok := d.teacherD.Captured()
	if !ok {
		return 0, nil, errorf("teacher discriminator activations missing")
	}
	discMaps := []*Tensor{attentionMap(discActs[0]), attentionMap(discActs[1])}

	total := 0.0
	grads := make([]*Tensor, len(studentActs))
	for i, act := range studentActs {
		teacherMap := attentionMap(teacherActs[i])
		_, _, h, w := teacherMap.dims4()
		target := weightedSum([]*Tensor{
			teacherMap,
			interpolateBilinear(discMaps[0], h, w),
			interpolateBilinear(discMaps[1], h, w),
		}, fusionWeights)

		studentMap := attentionMap(act)
		if err := validateShape(target.shape, studentMap.shape); err != nil {
			return 0, nil, err
		}
		l, g := attentionLoss(studentMap, target, d.normalize)
		total += l
		grads[i] = attentionMapBackward(act, g)
	}
	return total, grads, nil
}

// attentionLoss is the mean squared difference between two attention maps,
// each optionally scaled to unit L2 norm per sample. The gradient is with
// respect to the unnormalized student map.
func attentionLoss(student, target *Tensor, normalize bool) (float64, *Tensor) {
	if !normalize {
		return mseLoss(student, target)
	}
	n := student.shape[0]
	per := len(student.data) / n
	sn := NewTensor(student.shape...)
	tn := NewTensor(target.shape...)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		sv := student.data[i*per : (i+1)*per]
		tv := target.data[i*per : (i+1)*per]
		norms[i] = floats.Norm(sv, 2)
		floats.ScaleTo(sn.data[i*per:(i+1)*per], 1/max(norms[i], attentionEps), sv)
		floats.ScaleTo(tn.data[i*per:(i+1)*per], 1/max(floats.Norm(tv, 2), attentionEps), tv)
	}

	loss, gradNorm := mseLoss(sn, tn)
	grad := NewTensor(student.shape...)
	for i := 0; i < n; i++ {
		g := gradNorm.data[i*per : (i+1)*per]
		out := grad.data[i*per : (i+1)*per]
		if norms[i] <= attentionEps {
			floats.ScaleTo(out, 1/attentionEps, g)
			continue
		}
		unit := sn.data[i*per : (i+1)*per]
		dot := floats.Dot(unit, g)
		for j := range out {
			out[j] = (g[j] - unit[j]*dot) / norms[i]
		}
	}
	return loss, grad
}
