package pix2pix

import (
	"fmt"
	"math/rand"
)

// Conv2DLayer - 2D convolution over NCHW input with square kernels and
// symmetric zero padding.
type Conv2DLayer struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int
	padding     int
	useBias     bool
	weights     *Tensor // [out, in, k, k]
	bias        *Tensor
	gradW       *Tensor
	gradB       *Tensor
	input       *Tensor
}

type Conv2DBuilder struct {
	layer *Conv2DLayer
}

// Conv2D starts a convolution mapping in channels to out channels. Defaults
// are kernel 4, stride 2, padding 1, with bias.
func Conv2D(in, out int) *Conv2DBuilder {
	return &Conv2DBuilder{
		layer: &Conv2DLayer{
			inChannels:  in,
			outChannels: out,
			kernel:      4,
			stride:      2,
			padding:     1,
			useBias:     true,
		},
	}
}

func (b *Conv2DBuilder) WithKernel(k int) *Conv2DBuilder {
	b.layer.kernel = k
	return b
}

func (b *Conv2DBuilder) WithStride(s int) *Conv2DBuilder {
	b.layer.stride = s
	return b
}

func (b *Conv2DBuilder) WithPadding(p int) *Conv2DBuilder {
	b.layer.padding = p
	return b
}

func (b *Conv2DBuilder) WithBias(useBias bool) *Conv2DBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *Conv2DBuilder) Build() *Conv2DLayer {
	c := b.layer
	k := c.kernel
	c.weights = NewTensor(c.outChannels, c.inChannels, k, k)
	c.gradW = NewTensor(c.outChannels, c.inChannels, k, k)
	if c.useBias {
		c.bias = NewTensor(c.outChannels)
		c.gradB = NewTensor(c.outChannels)
	}
	return c
}

func (c *Conv2DLayer) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	k2 := c.kernel * c.kernel
	weightInit.initialize(c.weights, c.inChannels*k2, c.outChannels*k2, rng)
	if c.useBias {
		c.bias.zero()
	}
}

func (c *Conv2DLayer) outputSize(h, w int) (int, int) {
	return (h+2*c.padding-c.kernel)/c.stride + 1, (w+2*c.padding-c.kernel)/c.stride + 1
}

func (c *Conv2DLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	if len(input.shape) != 4 || input.shape[1] != c.inChannels {
		return nil, shapeError("Conv2D", "forward", input, fmt.Sprintf("[N %d H W]", c.inChannels))
	}
	n, ch, h, w := input.dims4()
	outH, outW := c.outputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, shapeError("Conv2D", "forward", input, "spatial size large enough for the kernel")
	}
	c.input = input

	k, s, p := c.kernel, c.stride, c.padding
	oc := c.outChannels
	out := NewTensor(n, oc, outH, outW)

	ParallelFor(n*oc, func(idx int) {
		b, f := idx/oc, idx%oc
		dst := out.data[idx*outH*outW : (idx+1)*outH*outW]
		if c.useBias {
			for i := range dst {
				dst[i] = c.bias.data[f]
			}
		}
		for ic := 0; ic < ch; ic++ {
			src := input.data[(b*ch+ic)*h*w : (b*ch+ic+1)*h*w]
			wk := c.weights.data[(f*ch+ic)*k*k : (f*ch+ic+1)*k*k]
			for kh := 0; kh < k; kh++ {
				for kw := 0; kw < k; kw++ {
					wv := wk[kh*k+kw]
					for oh := 0; oh < outH; oh++ {
						ih := oh*s - p + kh
						if ih < 0 || ih >= h {
							continue
						}
						row := src[ih*w : (ih+1)*w]
						drow := dst[oh*outW : (oh+1)*outW]
						for ow := 0; ow < outW; ow++ {
							iw := ow*s - p + kw
							if iw < 0 || iw >= w {
								continue
							}
							drow[ow] += wv * row[iw]
						}
					}
				}
			}
		}
	})
	return out, nil
}

func (c *Conv2DLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if c.input == nil {
		return nil, errorf("Conv2D backward called before forward")
	}
	n, ch, h, w := c.input.dims4()
	_, oc, outH, outW := gradOutput.dims4()
	k, s, p := c.kernel, c.stride, c.padding
	g := gradOutput.data
	x := c.input.data

	gradInput := NewTensor(n, ch, h, w)
	ParallelFor(n*ch, func(idx int) {
		b, ic := idx/ch, idx%ch
		dst := gradInput.data[idx*h*w : (idx+1)*h*w]
		for f := 0; f < oc; f++ {
			gsrc := g[(b*oc+f)*outH*outW : (b*oc+f+1)*outH*outW]
			wk := c.weights.data[(f*ch+ic)*k*k : (f*ch+ic+1)*k*k]
			for kh := 0; kh < k; kh++ {
				for kw := 0; kw < k; kw++ {
					wv := wk[kh*k+kw]
					for oh := 0; oh < outH; oh++ {
						ih := oh*s - p + kh
						if ih < 0 || ih >= h {
							continue
						}
						for ow := 0; ow < outW; ow++ {
							iw := ow*s - p + kw
							if iw < 0 || iw >= w {
								continue
							}
							dst[ih*w+iw] += wv * gsrc[oh*outW+ow]
						}
					}
				}
			}
		}
	})

	if !ctx.ParamGrads {
		return gradInput, nil
	}

	ParallelFor(oc, func(f int) {
		for b := 0; b < n; b++ {
			gsrc := g[(b*oc+f)*outH*outW : (b*oc+f+1)*outH*outW]
			if c.useBias {
				for _, v := range gsrc {
					c.gradB.data[f] += v
				}
			}
			for ic := 0; ic < ch; ic++ {
				src := x[(b*ch+ic)*h*w : (b*ch+ic+1)*h*w]
				gw := c.gradW.data[(f*ch+ic)*k*k : (f*ch+ic+1)*k*k]
				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						acc := 0.0
						for oh := 0; oh < outH; oh++ {
							ih := oh*s - p + kh
							if ih < 0 || ih >= h {
								continue
							}
							for ow := 0; ow < outW; ow++ {
								iw := ow*s - p + kw
								if iw < 0 || iw >= w {
									continue
								}
								acc += gsrc[oh*outW+ow] * src[ih*w+iw]
							}
						}
						gw[kh*k+kw] += acc
					}
				}
			}
		}
	})

	return gradInput, nil
}

func (c *Conv2DLayer) parameters() []*Tensor {
	if c.useBias {
		return []*Tensor{c.weights, c.bias}
	}
	return []*Tensor{c.weights}
}

func (c *Conv2DLayer) gradients() []*Tensor {
	if c.useBias {
		return []*Tensor{c.gradW, c.gradB}
	}
	return []*Tensor{c.gradW}
}

func (c *Conv2DLayer) name() string { return "conv2d" }

// ConvTranspose2DLayer - transposed 2D convolution (fractionally strided),
// the up-sampling counterpart of Conv2DLayer.
type ConvTranspose2DLayer struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int
	padding     int
	useBias     bool
	weights     *Tensor // [in, out, k, k]
	bias        *Tensor
	gradW       *Tensor
	gradB       *Tensor
	input       *Tensor
}

type ConvTranspose2DBuilder struct {
	layer *ConvTranspose2DLayer
}

// ConvTranspose2D starts a transposed convolution; defaults match Conv2D.
func ConvTranspose2D(in, out int) *ConvTranspose2DBuilder {
	return &ConvTranspose2DBuilder{
		layer: &ConvTranspose2DLayer{
			inChannels:  in,
			outChannels: out,
			kernel:      4,
			stride:      2,
			padding:     1,
			useBias:     true,
		},
	}
}

func (b *ConvTranspose2DBuilder) WithKernel(k int) *ConvTranspose2DBuilder {
	b.layer.kernel = k
	return b
}

func (b *ConvTranspose2DBuilder) WithStride(s int) *ConvTranspose2DBuilder {
	b.layer.stride = s
	return b
}

func (b *ConvTranspose2DBuilder) WithPadding(p int) *ConvTranspose2DBuilder {
	b.layer.padding = p
	return b
}

func (b *ConvTranspose2DBuilder) WithBias(useBias bool) *ConvTranspose2DBuilder {
	b.layer.useBias = useBias
	return b
}

func (b *ConvTranspose2DBuilder) Build() *ConvTranspose2DLayer {
	c := b.layer
	k := c.kernel
	c.weights = NewTensor(c.inChannels, c.outChannels, k, k)
	c.gradW = NewTensor(c.inChannels, c.outChannels, k, k)
	if c.useBias {
		c.bias = NewTensor(c.outChannels)
		c.gradB = NewTensor(c.outChannels)
	}
	return c
}

func (c *ConvTranspose2DLayer) initialize(weightInit Initializer, gain float64, rng *rand.Rand) {
	k2 := c.kernel * c.kernel
	weightInit.initialize(c.weights, c.outChannels*k2, c.inChannels*k2, rng)
	if c.useBias {
		c.bias.zero()
	}
}

func (c *ConvTranspose2DLayer) outputSize(h, w int) (int, int) {
	return (h-1)*c.stride - 2*c.padding + c.kernel, (w-1)*c.stride - 2*c.padding + c.kernel
}

func (c *ConvTranspose2DLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	if len(input.shape) != 4 || input.shape[1] != c.inChannels {
		return nil, shapeError("ConvTranspose2D", "forward", input, fmt.Sprintf("[N %d H W]", c.inChannels))
	}
	n, ch, h, w := input.dims4()
	outH, outW := c.outputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, shapeError("ConvTranspose2D", "forward", input, "positive output size")
	}
	c.input = input

	k, s, p := c.kernel, c.stride, c.padding
	oc := c.outChannels
	out := NewTensor(n, oc, outH, outW)

	ParallelFor(n*oc, func(idx int) {
		b, f := idx/oc, idx%oc
		dst := out.data[idx*outH*outW : (idx+1)*outH*outW]
		if c.useBias {
			for i := range dst {
				dst[i] = c.bias.data[f]
			}
		}
		for ic := 0; ic < ch; ic++ {
			src := input.data[(b*ch+ic)*h*w : (b*ch+ic+1)*h*w]
			wk := c.weights.data[(ic*oc+f)*k*k : (ic*oc+f+1)*k*k]
			for kh := 0; kh < k; kh++ {
				for kw := 0; kw < k; kw++ {
					wv := wk[kh*k+kw]
					for ih := 0; ih < h; ih++ {
						oh := ih*s - p + kh
						if oh < 0 || oh >= outH {
							continue
						}
						row := src[ih*w : (ih+1)*w]
						drow := dst[oh*outW : (oh+1)*outW]
						for iw := 0; iw < w; iw++ {
							ow := iw*s - p + kw
							if ow < 0 || ow >= outW {
								continue
							}
							drow[ow] += wv * row[iw]
						}
					}
				}
			}
		}
	})
	return out, nil
}

func (c *ConvTranspose2DLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if c.input == nil {
		return nil, errorf("ConvTranspose2D backward called before forward")
	}
	n, ch, h, w := c.input.dims4()
	_, oc, outH, outW := gradOutput.dims4()
	k, s, p := c.kernel, c.stride, c.padding
	g := gradOutput.data
	x := c.input.data

	gradInput := NewTensor(n, ch, h, w)
	ParallelFor(n*ch, func(idx int) {
		b, ic := idx/ch, idx%ch
		dst := gradInput.data[idx*h*w : (idx+1)*h*w]
		for f := 0; f < oc; f++ {
			gsrc := g[(b*oc+f)*outH*outW : (b*oc+f+1)*outH*outW]
			wk := c.weights.data[(ic*oc+f)*k*k : (ic*oc+f+1)*k*k]
			for kh := 0; kh < k; kh++ {
				for kw := 0; kw < k; kw++ {
					wv := wk[kh*k+kw]
					for ih := 0; ih < h; ih++ {
						oh := ih*s - p + kh
						if oh < 0 || oh >= outH {
							continue
						}
						for iw := 0; iw < w; iw++ {
							ow := iw*s - p + kw
							if ow < 0 || ow >= outW {
								continue
							}
							dst[ih*w+iw] += wv * gsrc[oh*outW+ow]
						}
					}
				}
			}
		}
	})

	if !ctx.ParamGrads {
		return gradInput, nil
	}

	ParallelFor(ch, func(ic int) {
		for b := 0; b < n; b++ {
			src := x[(b*ch+ic)*h*w : (b*ch+ic+1)*h*w]
			for f := 0; f < oc; f++ {
				gsrc := g[(b*oc+f)*outH*outW : (b*oc+f+1)*outH*outW]
				gw := c.gradW.data[(ic*oc+f)*k*k : (ic*oc+f+1)*k*k]
				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						acc := 0.0
						for ih := 0; ih < h; ih++ {
							oh := ih*s - p + kh
							if oh < 0 || oh >= outH {
								continue
							}
							for iw := 0; iw < w; iw++ {
								ow := iw*s - p + kw
								if ow < 0 || ow >= outW {
									continue
								}
								acc += src[ih*w+iw] * gsrc[oh*outW+ow]
							}
						}
						gw[kh*k+kw] += acc
					}
				}
			}
		}
	})

	if c.useBias {
		plane := outH * outW
		for b := 0; b < n; b++ {
			for f := 0; f < oc; f++ {
				for _, v := range g[(b*oc+f)*plane : (b*oc+f+1)*plane] {
					c.gradB.data[f] += v
				}
			}
		}
	}

	return gradInput, nil
}

func (c *ConvTranspose2DLayer) parameters() []*Tensor {
	if c.useBias {
		return []*Tensor{c.weights, c.bias}
	}
	return []*Tensor{c.weights}
}

func (c *ConvTranspose2DLayer) gradients() []*Tensor {
	if c.useBias {
		return []*Tensor{c.gradW, c.gradB}
	}
	return []*Tensor{c.gradW}
}

func (c *ConvTranspose2DLayer) name() string { return "conv_transpose2d" }
