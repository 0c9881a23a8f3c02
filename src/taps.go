package pix2pix

// TapPoint names where inside a block an activation is observed.
type TapPoint int

const (
	// TapDown is the output of a generator block's down path.
	TapDown TapPoint = iota
	// TapUp is the output of a generator block's up path, before dropout.
	TapUp
	// TapStage is the activation output of a discriminator stage.
	TapStage
)

func (p TapPoint) String() string {
	switch p {
	case TapDown:
		return "down"
	case TapUp:
		return "up"
	case TapStage:
		return "stage"
	}
	return "unknown"
}

// TapID is a stable handle for an observable activation. Handles are issued
// by Generator.Tap and Discriminator.Tap at construction time.
type TapID struct {
	Depth int
	Point TapPoint
}

// Taps captures activations at watched tap points during forward and holds
// gradients to add at those points during backward.
type Taps struct {
	order []TapID
	watch map[TapID]bool
	acts  map[TapID]*Tensor
	grads map[TapID]*Tensor
}

// NewTaps watches the given tap points, in order.
func NewTaps(ids ...TapID) *Taps {
	t := &Taps{
		order: ids,
		watch: make(map[TapID]bool, len(ids)),
		acts:  make(map[TapID]*Tensor, len(ids)),
		grads: make(map[TapID]*Tensor, len(ids)),
	}
	for _, id := range ids {
		t.watch[id] = true
	}
	return t
}

// IDs returns the watched tap points in registration order.
func (t *Taps) IDs() []TapID { return t.order }

// Activation returns the most recent activation captured at id.
func (t *Taps) Activation(id TapID) (*Tensor, bool) {
	a, ok := t.acts[id]
	return a, ok
}

// Captured returns the activations in registration order, or false if any
// watched point has not been reached yet.
func (t *Taps) Captured() ([]*Tensor, bool) {
	out := make([]*Tensor, 0, len(t.order))
	for _, id := range t.order {
		a, ok := t.acts[id]
		if !ok {
			return nil, false
		}
		out = append(out, a)
	}
	return out, true
}

// Reset forgets captured activations and injected gradients.
func (t *Taps) Reset() {
	clear(t.acts)
	clear(t.grads)
}

func (t *Taps) record(id TapID, x *Tensor) {
	if t.watch[id] {
		t.acts[id] = x
	}
}

func (t *Taps) setGrad(id TapID, g *Tensor) {
	t.grads[id] = g
}

func (t *Taps) clearGrads() {
	clear(t.grads)
}

// tapLayer is an identity layer marking a tap point.
type tapLayer struct {
	id TapID
}

func newTap(id TapID) *tapLayer { return &tapLayer{id: id} }

func (l *tapLayer) forward(input *Tensor, ctx *Pass) (*Tensor, error) {
	if ctx.Taps != nil {
		ctx.Taps.record(l.id, input)
	}
	return input, nil
}

func (l *tapLayer) backward(gradOutput *Tensor, ctx *Pass) (*Tensor, error) {
	if ctx.Taps == nil {
		return gradOutput, nil
	}
	extra, ok := ctx.Taps.grads[l.id]
	if !ok {
		return gradOutput, nil
	}
	if err := validateShape(gradOutput.shape, extra.shape); err != nil {
		return nil, err
	}
	out := gradOutput.Clone()
	addInto(out, extra)
	return out, nil
}

func (l *tapLayer) parameters() []*Tensor { return nil }
func (l *tapLayer) gradients() []*Tensor  { return nil }
func (l *tapLayer) name() string          { return "tap" }
