package model

type Capability string

const (
	CapabilityGenerate      Capability = "generate"
	CapabilityEnhance       Capability = "enhance"
	CapabilityStyleTransfer Capability = "style_transfer"
	CapabilityMaster        Capability = "master"
	CapabilityMelody        Capability = "melody"
	CapabilityRhythm        Capability = "rhythm"
)

// ModelDescriptor is the registry's view of a provider: what it can do,
// what it charges, and how well it has been behaving lately. Reliability
// is an exponentially weighted success rate in [0, 1], updated after every
// invocation.
type ModelDescriptor struct {
	Name               string       `json:"name"`
	Capabilities       []Capability `json:"capabilities"`
	CostPerSecond      float64      `json:"cost_per_second"`
	MaxDurationSeconds float64      `json:"max_duration_seconds"`
	Reliability        float64      `json:"reliability"`
	Healthy            bool         `json:"healthy"`
}

func (d ModelDescriptor) Supports(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
