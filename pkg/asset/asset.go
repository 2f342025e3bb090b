package asset

// Asset is the common identity surface every concrete asset kind exposes.
// Implementations are process-wide singletons keyed by (concrete kind,
// symbol) via the Registry.
type Asset interface {
	Symbol() string
	Profile() Profile
}

// base implements the shared Asset plumbing; concrete kinds (USStock,
// Crypto) embed it.
type base struct {
	profile Profile
}

func (b *base) Symbol() string   { return b.profile.Symbol }
func (b *base) Profile() Profile { return b.profile }
