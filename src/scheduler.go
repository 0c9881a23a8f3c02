package pix2pix

import "math"

// Scheduler maps a scheduler step count to a learning rate derived from the
// base rate. Step 0 is the rate before the first epoch ends.
type Scheduler interface {
	step(epoch int, baseLR float64) float64
	name() string
}

// NewScheduler builds the scheduler named by o.LRPolicy.
func NewScheduler(o Options) (Scheduler, error) {
	switch o.LRPolicy {
	case "linear":
		return LinearDecay(LinearDecayConfig{
			EpochCount:   o.EpochCount,
			NEpochs:      o.NEpochs,
			NEpochsDecay: o.NEpochsDecay,
		}), nil
	case "step":
		return StepDecay(StepDecayConfig{StepSize: o.LRDecayIters, Gamma: 0.1}), nil
	case "cosine":
		return CosineAnnealing(CosineAnnealingConfig{TMax: o.NEpochs}), nil
	case "constant":
		return Constant(), nil
	}
	return nil, errorf("learning rate policy [%s] is not implemented", o.LRPolicy)
}

// LinearDecayScheduler keeps the base rate for NEpochs and then decays it
// linearly to zero over NEpochsDecay.
type LinearDecayScheduler struct {
	EpochCount   int
	NEpochs      int
	NEpochsDecay int
}

type LinearDecayConfig struct {
	EpochCount   int
	NEpochs      int
	NEpochsDecay int
}

func LinearDecay(config LinearDecayConfig) Scheduler {
	return &LinearDecayScheduler{
		EpochCount:   config.EpochCount,
		NEpochs:      config.NEpochs,
		NEpochsDecay: config.NEpochsDecay,
	}
}

func (l *LinearDecayScheduler) step(epoch int, baseLR float64) float64 {
	over := math.Max(0, float64(epoch+l.EpochCount-l.NEpochs))
	return baseLR * (1 - over/float64(l.NEpochsDecay+1))
}

func (l *LinearDecayScheduler) name() string { return "linear" }

// StepDecayScheduler - drops LR by factor every N epochs
type StepDecayScheduler struct {
	StepSize int
	Gamma    float64
}

type StepDecayConfig struct {
	StepSize int
	Gamma    float64
}

func StepDecay(config StepDecayConfig) Scheduler {
	return &StepDecayScheduler{
		StepSize: config.StepSize,
		Gamma:    config.Gamma,
	}
}

func (s *StepDecayScheduler) step(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepDecayScheduler) name() string { return "step" }

// CosineAnnealingScheduler anneals from the base rate to EtaMin over TMax
// epochs.
type CosineAnnealingScheduler struct {
	TMax   int
	EtaMin float64
}

type CosineAnnealingConfig struct {
	TMax   int
	EtaMin float64
}

func CosineAnnealing(config CosineAnnealingConfig) Scheduler {
	return &CosineAnnealingScheduler{
		TMax:   config.TMax,
		EtaMin: config.EtaMin,
	}
}

func (c *CosineAnnealingScheduler) step(epoch int, baseLR float64) float64 {
	return c.EtaMin + 0.5*(baseLR-c.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(c.TMax)))
}

func (c *CosineAnnealingScheduler) name() string { return "cosine" }

// ConstantScheduler never changes the rate.
type ConstantScheduler struct{}

func Constant() Scheduler { return &ConstantScheduler{} }

func (c *ConstantScheduler) step(epoch int, baseLR float64) float64 { return baseLR }

func (c *ConstantScheduler) name() string { return "constant" }
