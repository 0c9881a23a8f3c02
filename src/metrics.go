package pix2pix

import "math"

// Metric accumulates an image quality score over batches.
type Metric interface {
	reset()
	update(pred, target *Tensor)
	result() float64
	name() string
}

// MeanAbsoluteErrorMetric
type MeanAbsoluteErrorMetric struct {
	sum   float64
	count int
}

func MeanAbsoluteError() Metric {
	return &MeanAbsoluteErrorMetric{}
}

func (m *MeanAbsoluteErrorMetric) reset() {
	m.sum = 0
	m.count = 0
}

func (m *MeanAbsoluteErrorMetric) update(pred, target *Tensor) {
	for i := range pred.data {
		m.sum += math.Abs(pred.data[i] - target.data[i])
		m.count++
	}
}

func (m *MeanAbsoluteErrorMetric) result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func (m *MeanAbsoluteErrorMetric) name() string { return "mae" }

// PSNRMetric is the peak signal-to-noise ratio in dB for images in [-1, 1],
// averaged over samples.
type PSNRMetric struct {
	sum   float64
	count int
}

func PSNR() Metric {
	return &PSNRMetric{}
}

func (p *PSNRMetric) reset() {
	p.sum = 0
	p.count = 0
}

func (p *PSNRMetric) update(pred, target *Tensor) {
	n := pred.shape[0]
	per := len(pred.data) / n
	for s := 0; s < n; s++ {
		mse := 0.0
		for i := s * per; i < (s+1)*per; i++ {
			d := pred.data[i] - target.data[i]
			mse += d * d
		}
		mse /= float64(per)
		// peak-to-peak range is 2, so peak^2 is 4
		if mse == 0 {
			p.sum += 100
		} else {
			p.sum += 10 * math.Log10(4/mse)
		}
		p.count++
	}
}

func (p *PSNRMetric) result() float64 {
	if p.count == 0 {
		return 0
	}
	return p.sum / float64(p.count)
}

func (p *PSNRMetric) name() string { return "psnr" }
