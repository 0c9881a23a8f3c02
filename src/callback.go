package pix2pix

import (
	"log/slog"
	"math"
	"slices"
)

// Callback is called during training at various points
type Callback interface {
	onTrainBegin(logs map[string]float64)
	onTrainEnd(logs map[string]float64)
	onEpochBegin(epoch int, logs map[string]float64)
	onEpochEnd(epoch int, logs map[string]float64) (stop bool, err error)
	onBatchBegin(batch int, logs map[string]float64)
	onBatchEnd(batch int, logs map[string]float64)
	name() string
}

// logAttrs flattens logs into sorted slog key/value pairs.
func logAttrs(logs map[string]float64) []any {
	attrs := make([]any, 0, 2*len(logs))
	keys := make([]string, 0, len(logs))
	for k := range logs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, k, logs[k])
	}
	return attrs
}

// PrintProgressCallback logs losses every PrintEvery batches and at the end
// of every epoch.
type PrintProgressCallback struct {
	PrintEvery int
	epoch      int
}

type PrintProgressConfig struct {
	PrintEvery int
}

func PrintProgress(config PrintProgressConfig) Callback {
	return &PrintProgressCallback{PrintEvery: config.PrintEvery}
}

func (p *PrintProgressCallback) onTrainBegin(logs map[string]float64) {
	slog.Info("training started")
}

func (p *PrintProgressCallback) onTrainEnd(logs map[string]float64) {
	slog.Info("training complete", logAttrs(logs)...)
}

func (p *PrintProgressCallback) onEpochBegin(epoch int, logs map[string]float64) {
	p.epoch = epoch
}

func (p *PrintProgressCallback) onEpochEnd(epoch int, logs map[string]float64) (bool, error) {
	slog.Info("end of epoch", append([]any{"epoch", epoch}, logAttrs(logs)...)...)
	return false, nil
}

func (p *PrintProgressCallback) onBatchBegin(batch int, logs map[string]float64) {}

func (p *PrintProgressCallback) onBatchEnd(batch int, logs map[string]float64) {
	if p.PrintEvery > 0 && (batch+1)%p.PrintEvery == 0 {
		slog.Info("progress", append([]any{"epoch", p.epoch, "iter", batch + 1}, logAttrs(logs)...)...)
	}
}

func (p *PrintProgressCallback) name() string { return "print_progress" }

// HistoryCallback records epoch logs
type HistoryCallback struct {
	History map[string][]float64
}

func History() *HistoryCallback {
	return &HistoryCallback{
		History: make(map[string][]float64),
	}
}

func (h *HistoryCallback) onTrainBegin(logs map[string]float64) {
	h.History = make(map[string][]float64)
}

func (h *HistoryCallback) onTrainEnd(logs map[string]float64) {}

func (h *HistoryCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (h *HistoryCallback) onEpochEnd(epoch int, logs map[string]float64) (bool, error) {
	for k, v := range logs {
		h.History[k] = append(h.History[k], v)
	}
	return false, nil
}

func (h *HistoryCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (h *HistoryCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (h *HistoryCallback) name() string                                    { return "history" }

// BestCheckpointCallback saves model_best_<direction>.pth whenever the
// monitored value (lower is better) improves.
type BestCheckpointCallback struct {
	Model     *Model
	Dir       string
	Monitor   string
	bestValue float64
}

type BestCheckpointConfig struct {
	Model   *Model
	Dir     string
	Monitor string
}

func BestCheckpoint(config BestCheckpointConfig) *BestCheckpointCallback {
	return &BestCheckpointCallback{
		Model:     config.Model,
		Dir:       config.Dir,
		Monitor:   config.Monitor,
		bestValue: math.Inf(1),
	}
}

// Best returns the lowest monitored value seen so far.
func (b *BestCheckpointCallback) Best() float64 { return b.bestValue }

func (b *BestCheckpointCallback) onTrainBegin(logs map[string]float64) {
	b.bestValue = math.Inf(1)
}

func (b *BestCheckpointCallback) onTrainEnd(logs map[string]float64) {}

func (b *BestCheckpointCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (b *BestCheckpointCallback) onEpochEnd(epoch int, logs map[string]float64) (bool, error) {
	current, ok := logs[b.Monitor]
	if !ok || current >= b.bestValue {
		return false, nil
	}
	b.bestValue = current
	_, err := b.Model.SaveCheckpoint(epoch, b.Dir, current, true)
	return false, err
}

func (b *BestCheckpointCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (b *BestCheckpointCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (b *BestCheckpointCallback) name() string                                    { return "best_checkpoint" }

// PeriodicCheckpointCallback saves model_<epoch>.pth every Every epochs.
type PeriodicCheckpointCallback struct {
	Model   *Model
	Dir     string
	Every   int
	Monitor string
}

type PeriodicCheckpointConfig struct {
	Model   *Model
	Dir     string
	Every   int
	Monitor string
}

func PeriodicCheckpoint(config PeriodicCheckpointConfig) Callback {
	return &PeriodicCheckpointCallback{
		Model:   config.Model,
		Dir:     config.Dir,
		Every:   config.Every,
		Monitor: config.Monitor,
	}
}

func (p *PeriodicCheckpointCallback) onTrainBegin(logs map[string]float64) {}
func (p *PeriodicCheckpointCallback) onTrainEnd(logs map[string]float64)   {}

func (p *PeriodicCheckpointCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (p *PeriodicCheckpointCallback) onEpochEnd(epoch int, logs map[string]float64) (bool, error) {
	if p.Every <= 0 || epoch%p.Every != 0 {
		return false, nil
	}
	score, ok := logs[p.Monitor]
	if !ok {
		score = math.NaN()
	}
	_, err := p.Model.SaveCheckpoint(epoch, p.Dir, score, false)
	return false, err
}

func (p *PeriodicCheckpointCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (p *PeriodicCheckpointCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (p *PeriodicCheckpointCallback) name() string                                    { return "periodic_checkpoint" }

// EarlyStoppingCallback stops training when the monitored value (lower is
// better) has not improved for Patience epochs.
type EarlyStoppingCallback struct {
	Monitor   string
	MinDelta  float64
	Patience  int
	bestValue float64
	wait      int
}

type EarlyStoppingConfig struct {
	Monitor  string
	MinDelta float64
	Patience int
}

func EarlyStopping(config EarlyStoppingConfig) Callback {
	return &EarlyStoppingCallback{
		Monitor:   config.Monitor,
		MinDelta:  config.MinDelta,
		Patience:  config.Patience,
		bestValue: math.Inf(1),
	}
}

func (e *EarlyStoppingCallback) onTrainBegin(logs map[string]float64) {
	e.wait = 0
	e.bestValue = math.Inf(1)
}

func (e *EarlyStoppingCallback) onTrainEnd(logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochBegin(epoch int, logs map[string]float64) {}

func (e *EarlyStoppingCallback) onEpochEnd(epoch int, logs map[string]float64) (bool, error) {
	current, ok := logs[e.Monitor]
	if !ok {
		return false, nil
	}
	if current < e.bestValue-e.MinDelta {
		e.bestValue = current
		e.wait = 0
		return false, nil
	}
	e.wait++
	if e.wait >= e.Patience {
		slog.Info("early stopping", "epoch", epoch, e.Monitor, current)
		return true, nil
	}
	return false, nil
}

func (e *EarlyStoppingCallback) onBatchBegin(batch int, logs map[string]float64) {}
func (e *EarlyStoppingCallback) onBatchEnd(batch int, logs map[string]float64)   {}
func (e *EarlyStoppingCallback) name() string                                    { return "early_stopping" }
