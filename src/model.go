package pix2pix

import (
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// Batch is one aligned image pair batch. A and B share an NCHW shape.
type Batch struct {
	A, B           *Tensor
	APaths, BPaths []string
}

// Scalar is a named loss value.
type Scalar struct {
	Name  string
	Value float64
}

// Visual is a named image batch in [-1, 1].
type Visual struct {
	Name  string
	Image *Tensor
}

// Model trains a U-Net generator against a PatchGAN discriminator. Each
// OptimizeStep updates the discriminator and then the generator, with
// independent Adam state.
type Model struct {
	opts  Options
	rng   *rand.Rand
	runID uuid.UUID

	netG *Generator
	netD *Discriminator

	ganLoss *GANLoss
	optG    Optimizer
	optD    Optimizer
	schedG  Scheduler
	schedD  Scheduler
	// schedulerSteps counts UpdateLearningRate calls
	schedulerSteps int

	training bool
	frozen   map[Net]bool

	distiller *Distiller
	gPass     *Pass

	realA, realB, fakeB *Tensor
	paths               [2][]string

	lossGGAN    float64
	lossGL1     float64
	lossDReal   float64
	lossDFake   float64
	lossDistill float64
}

// NewModel builds and initializes both networks. With LambdaDistill > 0 the
// pretrained teacher is loaded from PretrainPath.
func NewModel(o Options) (*Model, error) {
	if err := ValidateOptions(o); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(o.Seed))

	stages, err := BuildStages(o.InputNC, o.OutputNC, o.NGF, o.NumDowns, !o.NoDropout, o.Widths)
	if err != nil {
		return nil, err
	}
	netG, err := NewGenerator(stages, rng)
	if err != nil {
		return nil, err
	}
	netD, err := NewDiscriminator(o.InputNC+o.OutputNC, o.NDF, o.NLayersD)
	if err != nil {
		return nil, err
	}

	weightInit, err := NewInitializer(o.InitType, o.InitGain)
	if err != nil {
		return nil, err
	}
	netG.initialize(weightInit, o.InitGain, rng)
	netD.initialize(weightInit, o.InitGain, rng)

	ganLoss, err := NewGANLoss(o.GANMode)
	if err != nil {
		return nil, err
	}
	schedG, err := NewScheduler(o)
	if err != nil {
		return nil, err
	}
	schedD, err := NewScheduler(o)
	if err != nil {
		return nil, err
	}

	adam := AdamConfig{LR: o.LR, Beta1: o.Beta1, Beta2: 0.999, Epsilon: 1e-8}
	m := &Model{
		opts:     o,
		rng:      rng,
		runID:    uuid.New(),
		netG:     netG,
		netD:     netD,
		ganLoss:  ganLoss,
		optG:     Adam(adam),
		optD:     Adam(adam),
		schedG:   schedG,
		schedD:   schedD,
		training: true,
		frozen:   make(map[Net]bool),
	}
	m.optG.setLR(schedG.step(0, o.LR))
	m.optD.setLR(schedD.step(0, o.LR))

	slog.Debug("model created",
		"run", m.runID,
		"gpu_ids", o.GPUIDs,
		"G_params", netG.NumParams(),
		"D_params", netD.NumParams())

	if o.LambdaDistill > 0 {
		slog.Info("init distill", "pretrain", o.PretrainPath)
		if m.distiller, err = newDistiller(o, netG); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Options returns the configuration the model was built with.
func (m *Model) Options() Options { return m.opts }

// Generator returns the generator network.
func (m *Model) Generator() *Generator { return m.netG }

// Discriminator returns the discriminator network.
func (m *Model) Discriminator() *Discriminator { return m.netD }

// SetInput selects source and target images according to Direction.
func (m *Model) SetInput(b Batch) error {
	if b.A == nil || b.B == nil {
		return errorf("%w: batch needs both A and B", ErrNoInput)
	}
	if !sameShape(b.A.shape, b.B.shape) {
		return errorf("%w: A is %v, B is %v", ErrShapeMismatch, b.A.shape, b.B.shape)
	}
	src, dst := b.A, b.B
	paths := [2][]string{b.APaths, b.BPaths}
	if m.opts.Direction == "BtoA" {
		src, dst = b.B, b.A
		paths = [2][]string{b.BPaths, b.APaths}
	}
	if len(src.shape) != 4 || src.shape[1] != m.opts.InputNC || dst.shape[1] != m.opts.OutputNC {
		return shapeError("Model", "set input", src, "[N C H W] with C matching InputNC and OutputNC")
	}
	m.realA, m.realB, m.paths = src, dst, paths
	m.fakeB = nil
	return nil
}

// ImagePaths returns source and target paths of the current batch.
func (m *Model) ImagePaths() (src, dst []string) { return m.paths[0], m.paths[1] }

// Forward runs the generator on the source images, and the teacher networks
// when distillation is active.
func (m *Model) Forward() error {
	if m.realA == nil {
		return ErrNoInput
	}
	m.gPass = &Pass{Training: m.training}
	if m.distiller != nil {
		m.gPass.Taps = m.distiller.student
		m.distiller.student.Reset()
	}
	fake, err := m.netG.Forward(m.realA, m.gPass)
	if err != nil {
		return err
	}
	m.fakeB = fake
	if m.distiller != nil {
		return m.distiller.observe(m.realA, m.fakeB)
	}
	return nil
}

// OptimizeStep runs Forward, then the discriminator update, then the
// generator update.
func (m *Model) OptimizeStep() error {
	if err := m.Forward(); err != nil {
		return err
	}
	if err := m.optimizeD(); err != nil {
		return err
	}
	return m.optimizeG()
}

// optimizeD scores the fake pair (a copy of the generator output, so the
// generator receives nothing) and the real pair.
func (m *Model) optimizeD() error {
	zeroGrad(m.netD.gradients())
	pass := &Pass{Training: m.training, ParamGrads: !m.frozen[NetD]}

	fakeAB, err := concatChannels(m.realA, m.fakeB)
	if err != nil {
		return err
	}
	predFake, err := m.netD.Forward(fakeAB, pass)
	if err != nil {
		return err
	}
	lossFake, grad := m.ganLoss.compute(predFake, false)
	mulScalar(grad, 0.5)
	if _, err := m.netD.Backward(grad, pass); err != nil {
		return err
	}

	realAB, err := concatChannels(m.realA, m.realB)
	if err != nil {
		return err
	}
	predReal, err := m.netD.Forward(realAB, pass)
	if err != nil {
		return err
	}
	lossReal, grad := m.ganLoss.compute(predReal, true)
	mulScalar(grad, 0.5)
	if _, err := m.netD.Backward(grad, pass); err != nil {
		return err
	}

	m.lossDFake, m.lossDReal = lossFake, lossReal
	if !m.frozen[NetD] {
		m.optD.step(m.netD.parameters(), m.netD.gradients())
	}
	return nil
}

// optimizeG backpropagates the adversarial, L1 and distillation terms into
// the generator. The discriminator only propagates input gradients here.
func (m *Model) optimizeG() error {
	zeroGrad(m.netG.gradients())
	dPass := &Pass{Training: m.training, ParamGrads: false}

	fakeAB, err := concatChannels(m.realA, m.fakeB)
	if err != nil {
		return err
	}
	pred, err := m.netD.Forward(fakeAB, dPass)
	if err != nil {
		return err
	}
	lossGAN, gradPred := m.ganLoss.compute(pred, true)
	gradAB, err := m.netD.Backward(gradPred, dPass)
	if err != nil {
		return err
	}
	_, gradFake := splitChannels(gradAB, m.opts.InputNC)

	lossL1, gradL1 := l1Loss(m.fakeB, m.realB)
	floats.AddScaled(gradFake.data, m.opts.LambdaL1, gradL1.data)

	m.lossGGAN = lossGAN
	m.lossGL1 = lossL1 * m.opts.LambdaL1
	m.lossDistill = 0

	if m.distiller != nil {
		raw, tapGrads, err := m.distiller.loss()
		if err != nil {
			return err
		}
		m.lossDistill = raw * m.opts.LambdaDistill
		for i, id := range m.distiller.student.IDs() {
			mulScalar(tapGrads[i], m.opts.LambdaDistill)
			m.distiller.student.setGrad(id, tapGrads[i])
		}
		defer m.distiller.student.clearGrads()
	}

	m.gPass.ParamGrads = !m.frozen[NetG]
	if _, err := m.netG.Backward(gradFake, m.gPass); err != nil {
		return err
	}
	if !m.frozen[NetG] {
		m.optG.step(m.netG.parameters(), m.netG.gradients())
	}

	slog.Debug("step",
		"G_GAN", m.lossGGAN,
		"G_L1", m.lossGL1,
		"D_real", m.lossDReal,
		"D_fake", m.lossDFake,
		"attention_distill", m.lossDistill)
	return nil
}

// DistillLoss returns the unweighted attention distillation loss for the
// most recent Forward.
func (m *Model) DistillLoss() (float64, error) {
	if m.distiller == nil {
		return 0, ErrDistillInactive
	}
	loss, _, err := m.distiller.loss()
	return loss, err
}

// UpdateLearningRate advances both schedulers by one step, called at the
// end of every epoch, and returns the generator learning rate.
func (m *Model) UpdateLearningRate(epoch int) float64 {
	m.schedulerSteps++
	m.optG.setLR(m.schedG.step(m.schedulerSteps, m.opts.LR))
	m.optD.setLR(m.schedD.step(m.schedulerSteps, m.opts.LR))
	lr := m.optG.learningRate()
	slog.Info("learning rate", "epoch", epoch, "lr", lr)
	return lr
}

// LearningRate returns the current generator learning rate.
func (m *Model) LearningRate() float64 { return m.optG.learningRate() }

// CurrentLosses returns the losses of the last step in a fixed order.
func (m *Model) CurrentLosses() []Scalar {
	losses := []Scalar{
		{Name: "G_GAN", Value: m.lossGGAN},
		{Name: "G_L1", Value: m.lossGL1},
		{Name: "D_real", Value: m.lossDReal},
		{Name: "D_fake", Value: m.lossDFake},
	}
	if m.distiller != nil {
		losses = append(losses, Scalar{Name: "attention_distill", Value: m.lossDistill})
	}
	return losses
}

// CurrentVisuals returns source, generated and target images.
func (m *Model) CurrentVisuals() []Visual {
	return []Visual{
		{Name: "real_A", Image: m.realA},
		{Name: "fake_B", Image: m.fakeB},
		{Name: "real_B", Image: m.realB},
	}
}

// Train switches both networks to training behavior.
func (m *Model) Train() { m.training = true }

// Eval switches both networks to inference behavior: running batch norm
// statistics and no dropout.
func (m *Model) Eval() { m.training = false }

// Training reports the current mode.
func (m *Model) Training() bool { return m.training }

// Translate runs the generator on x in the current mode without touching
// the stored batch.
func (m *Model) Translate(x *Tensor) (*Tensor, error) {
	return m.netG.Forward(x, &Pass{Training: m.training})
}

// RunID identifies this model instance in checkpoints.
func (m *Model) RunID() string { return m.runID.String() }
