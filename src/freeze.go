package pix2pix

// =============================================================================
// NETWORK FREEZING
// A frozen network still runs forward and propagates input gradients, but
// accumulates no parameter gradients and skips its optimizer step.
// =============================================================================

// Net selects one of the model's networks.
type Net int

const (
	NetG Net = iota
	NetD
)

func (n Net) String() string {
	if n == NetG {
		return "G"
	}
	return "D"
}

// NetFreezeInfo contains information about a network's freeze status
type NetFreezeInfo struct {
	Net        Net
	Frozen     bool
	Parameters int
}

// SetRequiresGrad freezes (false) or unfreezes (true) a network for the
// following steps. Within a step the discriminator never accumulates
// parameter gradients during the generator update, regardless of this flag.
func (m *Model) SetRequiresGrad(net Net, requiresGrad bool) {
	m.frozen[net] = !requiresGrad
}

// Frozen reports whether SetRequiresGrad(net, false) is in effect.
func (m *Model) Frozen(net Net) bool { return m.frozen[net] }

// FreezeInfo returns freeze status for both networks
func (m *Model) FreezeInfo() []NetFreezeInfo {
	return []NetFreezeInfo{
		{Net: NetG, Frozen: m.frozen[NetG], Parameters: m.netG.NumParams()},
		{Net: NetD, Frozen: m.frozen[NetD], Parameters: m.netD.NumParams()},
	}
}
