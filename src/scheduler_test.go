package pix2pix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulers(t *testing.T) {
	const base = 0.1

	cases := []struct {
		name   string
		sched  Scheduler
		epochs []int
		want   []float64
	}{
		{
			name:   "linear",
			sched:  LinearDecay(LinearDecayConfig{EpochCount: 1, NEpochs: 3, NEpochsDecay: 4}),
			epochs: []int{0, 1, 2, 3, 4, 6},
			want:   []float64{base, base, base, base * 0.8, base * 0.6, base * 0.2},
		},
		{
			name:   "linear resumed",
			sched:  LinearDecay(LinearDecayConfig{EpochCount: 5, NEpochs: 3, NEpochsDecay: 4}),
			epochs: []int{0, 1},
			want:   []float64{base * 0.6, base * 0.4},
		},
		{
			name:   "step",
			sched:  StepDecay(StepDecayConfig{StepSize: 2, Gamma: 0.5}),
			epochs: []int{0, 1, 2, 5},
			want:   []float64{base, base, base / 2, base / 4},
		},
		{
			name:   "cosine",
			sched:  CosineAnnealing(CosineAnnealingConfig{TMax: 4, EtaMin: 0.01}),
			epochs: []int{0, 2, 4},
			want:   []float64{base, 0.01 + 0.5*(base-0.01), 0.01},
		},
		{
			name:   "constant",
			sched:  Constant(),
			epochs: []int{0, 100},
			want:   []float64{base, base},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			for i, e := range tt.epochs {
				assert.InDelta(t, tt.want[i], tt.sched.step(e, base), 1e-12, "epoch %d", e)
			}
		})
	}
}

func TestNewScheduler(t *testing.T) {
	o := DefaultOptions()
	for _, policy := range []string{"linear", "step", "cosine", "constant"} {
		o.LRPolicy = policy
		s, err := NewScheduler(o)
		require.NoError(t, err)
		assert.Equal(t, policy, s.name())
		assert.False(t, math.IsNaN(s.step(0, o.LR)))
	}

	o.LRPolicy = "plateau"
	_, err := NewScheduler(o)
	assert.Error(t, err)
	assert.Error(t, ValidateOptions(o))
}

func TestValidateOptions(t *testing.T) {
	require.NoError(t, ValidateOptions(DefaultOptions()))

	cases := map[string]func(*Options){
		"direction":  func(o *Options) { o.Direction = "AtoA" },
		"channels":   func(o *Options) { o.InputNC = 0 },
		"ngf":        func(o *Options) { o.NGF = 0 },
		"num downs":  func(o *Options) { o.NumDowns = 4 },
		"layers":     func(o *Options) { o.NLayersD = 0 },
		"gan mode":   func(o *Options) { o.GANMode = "hinge" },
		"lambda":     func(o *Options) { o.LambdaL1 = -1 },
		"lr":         func(o *Options) { o.LR = 0 },
		"beta1":      func(o *Options) { o.Beta1 = 1 },
		"step iters": func(o *Options) { o.LRPolicy = "step"; o.LRDecayIters = 0 },
		"init":       func(o *Options) { o.InitType = "uniform" },
		"gain":       func(o *Options) { o.InitGain = 0 },
		"shallow distill": func(o *Options) {
			o.LambdaDistill = 1
			o.PretrainPath = "x.pth"
			o.NumDowns = 6
		},
		"widths depth": func(o *Options) {
			o.NumDowns = 7
			o.Widths = compressedWidths()
		},
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			modify(&o)
			assert.Error(t, ValidateOptions(o))
		})
	}
}
