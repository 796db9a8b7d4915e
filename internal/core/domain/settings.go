package domain

// SettingsVersion is bumped whenever a field is added to CalcSettings so
// stored blobs can be told apart from older shapes.
const SettingsVersion = 1

// CalcSettings holds the engine parameters the tracker itself understands.
// Anything else the external engine accepts goes into Extra verbatim.
type CalcSettings struct {
	Version       int     `json:"version" yaml:"version"`
	Tolerance     float64 `json:"tolerance" yaml:"tolerance"`           // convergence threshold
	MaxIterations int     `json:"max_iterations" yaml:"max_iterations"` // SCF iteration cap
	KpointDensity int     `json:"kpoint_density" yaml:"kpoint_density"` // reciprocal-space grid density
	MemoryMB      int     `json:"memory_mb" yaml:"memory_mb"`
	WalltimeMin   int     `json:"walltime_min" yaml:"walltime_min"`

	Extra map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DefaultSettings returns the baseline parameters for a calculation kind.
func DefaultSettings(t CalcType) CalcSettings {
	s := CalcSettings{
		Version:       SettingsVersion,
		Tolerance:     1e-7,
		MaxIterations: 100,
		KpointDensity: 8,
		MemoryMB:      4096,
		WalltimeMin:   240,
	}
	switch t {
	case CalcTypeRelaxation:
		s.MaxIterations = 200
		s.WalltimeMin = 720
	case CalcTypeBandStructure, CalcTypeDOS:
		s.KpointDensity = 16
	case CalcTypeFrequency:
		s.MemoryMB = 8192
		s.WalltimeMin = 1440
	}
	return s
}
