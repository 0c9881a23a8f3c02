package pix2pix

import (
	"context"
	"errors"
	"io"
	"time"
)

// Loader yields batches for one epoch at a time. Next returns io.EOF once the
// epoch is exhausted; Reset starts the next epoch.
type Loader interface {
	Reset() error
	Next() (Batch, error)
}

// TrainResult holds training output
type TrainResult struct {
	History   map[string][]float64
	LastEpoch int
	FinalLoss map[string]float64
	Stopped   bool
}

// Fit trains m from Options.EpochCount through cfg.Epochs. After every epoch
// it validates on val (if non-nil), advances the learning rate schedule and
// runs the callbacks. ctx is checked between steps.
func Fit(ctx context.Context, m *Model, train, val Loader, cfg FitConfig, callbacks ...Callback) (*TrainResult, error) {
	if err := ValidateFitConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.CheckpointDir != "" && cfg.SaveEpochFreq > 0 {
		callbacks = append(callbacks, PeriodicCheckpoint(PeriodicCheckpointConfig{
			Model:   m,
			Dir:     cfg.CheckpointDir,
			Every:   cfg.SaveEpochFreq,
			Monitor: "val_mae",
		}))
	}

	result := &TrainResult{
		History:   make(map[string][]float64),
		FinalLoss: make(map[string]float64),
	}
	logs := make(map[string]float64)

	for _, cb := range callbacks {
		cb.onTrainBegin(logs)
	}

	for epoch := m.opts.EpochCount; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		clear(logs)
		for _, cb := range callbacks {
			cb.onEpochBegin(epoch, logs)
		}

		m.Train()
		if err := train.Reset(); err != nil {
			return nil, err
		}

		sums := make(map[string]float64)
		batches := 0
		for {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			b, err := train.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}

			for _, cb := range callbacks {
				cb.onBatchBegin(batches, logs)
			}
			if err := m.SetInput(b); err != nil {
				return nil, err
			}
			if err := m.OptimizeStep(); err != nil {
				return nil, err
			}
			for _, s := range m.CurrentLosses() {
				sums[s.Name] += s.Value
				logs[s.Name] = s.Value
			}
			for _, cb := range callbacks {
				cb.onBatchEnd(batches, logs)
			}
			batches++
		}
		if batches == 0 {
			return nil, errorf("training loader yielded no batches")
		}

		for k, v := range sums {
			logs[k] = v / float64(batches)
			result.FinalLoss[k] = logs[k]
		}
		if val != nil {
			scores, err := Evaluate(m, val)
			if err != nil {
				return nil, err
			}
			for k, v := range scores {
				logs["val_"+k] = v
			}
		}
		logs["lr"] = m.UpdateLearningRate(epoch)
		logs["time"] = time.Since(start).Seconds()

		for k, v := range logs {
			result.History[k] = append(result.History[k], v)
		}
		result.LastEpoch = epoch

		stop := false
		for _, cb := range callbacks {
			s, err := cb.onEpochEnd(epoch, logs)
			if err != nil {
				return nil, errorf("callback %s: %w", cb.name(), err)
			}
			stop = stop || s
		}
		if stop {
			result.Stopped = true
			break
		}
	}

	for _, cb := range callbacks {
		cb.onTrainEnd(logs)
	}
	return result, nil
}

// Evaluate runs the generator in eval mode over every batch of loader and
// returns mean absolute error and PSNR against the targets. The previous
// train/eval mode is restored.
func Evaluate(m *Model, loader Loader) (map[string]float64, error) {
	wasTraining := m.training
	m.Eval()
	defer func() { m.training = wasTraining }()

	if err := loader.Reset(); err != nil {
		return nil, err
	}
	metrics := []Metric{MeanAbsoluteError(), PSNR()}
	batches := 0
	for {
		b, err := loader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := m.SetInput(b); err != nil {
			return nil, err
		}
		fake, err := m.Translate(m.realA)
		if err != nil {
			return nil, err
		}
		for _, metric := range metrics {
			metric.update(fake, m.realB)
		}
		batches++
	}
	if batches == 0 {
		return nil, errorf("validation loader yielded no batches")
	}

	out := make(map[string]float64, len(metrics))
	for _, metric := range metrics {
		out[metric.name()] = metric.result()
	}
	return out, nil
}

// SliceLoader serves a fixed list of batches in order.
type SliceLoader struct {
	Batches []Batch
	pos     int
}

func (l *SliceLoader) Reset() error {
	l.pos = 0
	return nil
}

func (l *SliceLoader) Next() (Batch, error) {
	if l.pos >= len(l.Batches) {
		return Batch{}, io.EOF
	}
	b := l.Batches[l.pos]
	l.pos++
	return b, nil
}
