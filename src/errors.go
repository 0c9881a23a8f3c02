package pix2pix

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidWidths reports an explicit channel-width configuration that
	// does not fit the generator topology.
	ErrInvalidWidths = errors.New("invalid generator widths")
	// ErrPretrainMissing reports a distillation teacher checkpoint that
	// could not be found or read.
	ErrPretrainMissing = errors.New("pretrained teacher checkpoint missing")
	// ErrShapeMismatch reports tensors or checkpoint entries whose shapes
	// disagree with the network.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrDistillInactive is returned when distillation was requested but is
	// not configured.
	ErrDistillInactive = errors.New("attention distillation inactive")
	// ErrNoInput is returned by Forward and OptimizeStep before SetInput.
	ErrNoInput = errors.New("no input set")
)

// TensorInfo captures tensor state for error reporting
type TensorInfo struct {
	Shape    []int
	Size     int
	NaNCount int
	InfCount int
	MinValue float64
	MaxValue float64
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// ModelError is the standard error type for network failures.
type ModelError struct {
	Component    string      // "Conv2D", "Generator", ...
	ErrorType    string      // "shape mismatch", "NaN detected"
	Phase        string      // "forward", "backward", "load"
	InputInfo    *TensorInfo // nil if not relevant
	ExpectedInfo string      // what was expected
	Cause        string      // human-readable cause
	Err          error       // sentinel, matched with errors.Is
}

// Error implements the error interface
func (e *ModelError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "pix2pix: %s %s", e.Component, e.ErrorType)
	if e.Phase != "" {
		fmt.Fprintf(&b, " during %s", e.Phase)
	}
	if e.InputInfo != nil {
		fmt.Fprintf(&b, "\n  input:    %s", e.InputInfo.Format())
	}
	if e.ExpectedInfo != "" {
		fmt.Fprintf(&b, "\n  expected: %s", e.ExpectedInfo)
	}
	if e.Cause != "" {
		fmt.Fprintf(&b, "\n  cause:    %s", e.Cause)
	}
	return b.String()
}

func (e *ModelError) Unwrap() error { return e.Err }

// ScanTensor checks for NaN/Inf and collects stats
func ScanTensor(t *Tensor) *TensorInfo {
	if t == nil {
		return nil
	}

	info := &TensorInfo{
		Shape:    t.Shape(),
		Size:     len(t.data),
		MinValue: math.Inf(1),
		MaxValue: math.Inf(-1),
	}

	for _, v := range t.data {
		switch {
		case math.IsNaN(v):
			info.NaNCount++
		case math.IsInf(v, 0):
			info.InfCount++
		default:
			info.MinValue = math.Min(info.MinValue, v)
			info.MaxValue = math.Max(info.MaxValue, v)
		}
	}

	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}
	return info
}

func shapeError(component, phase string, input *Tensor, expected string) error {
	return &ModelError{
		Component:    component,
		ErrorType:    "shape mismatch",
		Phase:        phase,
		InputInfo:    ScanTensor(input),
		ExpectedInfo: expected,
		Err:          ErrShapeMismatch,
	}
}
