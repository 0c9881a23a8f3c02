package pix2pix

// Options holds model configuration - ALL fields required; start from
// DefaultOptions.
type Options struct {
	GPUIDs    []int  // accepted and logged, computation runs on the CPU
	Direction string // "AtoB" or "BtoA"
	InputNC   int
	OutputNC  int
	NGF       int
	NDF       int
	NumDowns  int
	NLayersD  int
	NoDropout bool
	Widths    *Widths // nil selects widths derived from NGF

	GANMode         string // "vanilla", "lsgan" or "wgangp"
	LambdaL1        float64
	LambdaDistill   float64
	AttentionNormal bool
	PretrainPath    string

	LR           float64
	Beta1        float64
	LRPolicy     string // "linear", "step", "cosine" or "constant"
	EpochCount   int
	NEpochs      int
	NEpochsDecay int
	LRDecayIters int

	InitType      string // "normal", "xavier", "kaiming" or "orthogonal"
	InitGain      float64
	Seed          int64
	HalfPrecision bool // float16 checkpoint weights
}

// Widths overrides the generator channel widths. Channels holds block and
// up-convolution input widths, Filters the matching output widths; both have
// exactly 15 entries.
type Widths struct {
	Channels []int
	Filters  []int
}

// DefaultOptions returns the standard pix2pix settings.
func DefaultOptions() Options {
	return Options{
		Direction:    "AtoB",
		InputNC:      3,
		OutputNC:     3,
		NGF:          64,
		NDF:          128,
		NumDowns:     8,
		NLayersD:     3,
		GANMode:      "vanilla",
		LambdaL1:     100,
		LR:           0.0002,
		Beta1:        0.5,
		LRPolicy:     "linear",
		EpochCount:   1,
		NEpochs:      100,
		NEpochsDecay: 100,
		LRDecayIters: 50,
		InitType:     "normal",
		InitGain:     0.02,
	}
}

// ValidateOptions checks all required fields are set
func ValidateOptions(o Options) error {
	if o.Direction != "AtoB" && o.Direction != "BtoA" {
		return errorf("Direction must be AtoB or BtoA, got %q", o.Direction)
	}
	if o.InputNC <= 0 || o.OutputNC <= 0 {
		return errorf("InputNC and OutputNC must be > 0, got %d and %d", o.InputNC, o.OutputNC)
	}
	if o.NGF <= 0 || o.NDF <= 0 {
		return errorf("NGF and NDF must be > 0, got %d and %d", o.NGF, o.NDF)
	}
	if o.NumDowns < 5 {
		return errorf("NumDowns must be >= 5, got %d", o.NumDowns)
	}
	if o.NLayersD < 1 {
		return errorf("NLayersD must be >= 1, got %d", o.NLayersD)
	}
	switch o.GANMode {
	case "vanilla", "lsgan", "wgangp":
	default:
		return errorf("GANMode %q not implemented", o.GANMode)
	}
	if o.LambdaL1 < 0 || o.LambdaDistill < 0 {
		return errorf("loss weights must be >= 0")
	}
	if o.LambdaDistill > 0 {
		if o.PretrainPath == "" {
			return errorf("%w: LambdaDistill > 0 needs PretrainPath", ErrPretrainMissing)
		}
		if o.NumDowns < 7 {
			return errorf("attention distillation needs NumDowns >= 7, got %d", o.NumDowns)
		}
	}
	if o.LR <= 0 {
		return errorf("LR must be > 0, got %f", o.LR)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 {
		return errorf("Beta1 must be in [0, 1), got %f", o.Beta1)
	}
	switch o.LRPolicy {
	case "linear", "cosine", "constant":
	case "step":
		if o.LRDecayIters <= 0 {
			return errorf("LRDecayIters must be > 0 for the step policy")
		}
	default:
		return errorf("LRPolicy %q not implemented", o.LRPolicy)
	}
	if o.LRPolicy == "cosine" && o.NEpochs <= 0 {
		return errorf("NEpochs must be > 0 for the cosine policy")
	}
	if o.NEpochsDecay < 0 {
		return errorf("NEpochsDecay must be >= 0, got %d", o.NEpochsDecay)
	}
	if o.InitGain <= 0 {
		return errorf("InitGain must be > 0, got %f", o.InitGain)
	}
	switch o.InitType {
	case "normal", "xavier", "kaiming", "orthogonal":
	default:
		return errorf("InitType %q not implemented", o.InitType)
	}
	if _, err := BuildStages(o.InputNC, o.OutputNC, o.NGF, o.NumDowns, !o.NoDropout, o.Widths); err != nil {
		return err
	}
	return nil
}

// FitConfig holds training loop configuration - ALL fields required
type FitConfig struct {
	Epochs        int    // last epoch number; the loop starts at Options.EpochCount
	CheckpointDir string // "" disables checkpoints
	SaveEpochFreq int    // periodic checkpoint interval, 0 disables
	PrintFreq     int    // batches between progress lines
}

// ValidateFitConfig checks all required fields are set
func ValidateFitConfig(cfg FitConfig) error {
	if cfg.Epochs <= 0 {
		return errorf("Epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.SaveEpochFreq < 0 {
		return errorf("SaveEpochFreq must be >= 0, got %d", cfg.SaveEpochFreq)
	}
	if cfg.PrintFreq <= 0 {
		return errorf("PrintFreq must be > 0, got %d", cfg.PrintFreq)
	}
	if cfg.SaveEpochFreq > 0 && cfg.CheckpointDir == "" {
		return errorf("SaveEpochFreq needs CheckpointDir")
	}
	return nil
}
