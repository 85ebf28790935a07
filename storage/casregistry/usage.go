package casregistry

// Usage restricts which programs accept a backend.
type Usage uint8

const (
	// UsageCLI marks backends available to the v2xsec operator CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends a v2xsec-hsmd daemon can serve from.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
