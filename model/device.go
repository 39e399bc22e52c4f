package model

// WireID identifies a guidewire preset.
type WireID string

// StentID identifies a stent preset.
type StentID string

const (
	WireUltraFlexible WireID = "wire-a"
	WireHighSupport   WireID = "wire-b"
	WireBalanced      WireID = "wire-c"

	StentOversize5  StentID = "stent-5"
	StentOversize10 StentID = "stent-10"
	StentOversize15 StentID = "stent-15"
)

// WirePreset describes a guidewire's handling. Flexibility and Pushability
// are both normalised to [0,1].
type WirePreset struct {
	ID          WireID
	Name        string
	Flexibility float64
	Pushability float64
}

// StentPreset describes a stent sizing choice. OversizePct is the radial
// oversize relative to the reference vessel diameter, in percent.
type StentPreset struct {
	ID          StentID
	Name        string
	OversizePct float64
}

// WirePresets is the closed set of guidewires offered by the sandbox.
var WirePresets = []WirePreset{
	{ID: WireUltraFlexible, Name: "Wire A (Ultra-flexible)", Flexibility: 0.95, Pushability: 0.2},
	{ID: WireHighSupport, Name: "Wire B (High support)", Flexibility: 0.3, Pushability: 0.9},
	{ID: WireBalanced, Name: "Wire C (Balanced)", Flexibility: 0.7, Pushability: 0.6},
}

// StentPresets is the closed set of stent sizes offered by the sandbox.
var StentPresets = []StentPreset{
	{ID: StentOversize5, Name: "Stent fit (5% oversize)", OversizePct: 5},
	{ID: StentOversize10, Name: "Stent fit (10% oversize)", OversizePct: 10},
	{ID: StentOversize15, Name: "Stent fit (15% oversize)", OversizePct: 15},
}

// Lesion is a narrowed interval of the vessel expressed in curve-parameter
// space [0,1].
type Lesion struct {
	StartT              float64 `json:"startT"`
	EndT                float64 `json:"endT"`
	BaselineStenosisPct float64 `json:"baselineStenosisPct"`
}

// Stent is the placement of a stent along the centerline. Oversize is a
// multiplicative radial overexpansion factor (1.0 = nominal).
type Stent struct {
	CenterT  float64 `json:"centerT"`
	LengthT  float64 `json:"lengthT"`
	Oversize float64 `json:"oversize"`
}

// Bounds returns the stent's [start, end] interval in curve space.
func (s Stent) Bounds() (float64, float64) {
	return s.CenterT - s.LengthT/2, s.CenterT + s.LengthT/2
}

// DefaultLesion and DefaultStent are the fixed training-case geometry.
var (
	DefaultLesion = Lesion{StartT: 0.35, EndT: 0.52, BaselineStenosisPct: 40}
	DefaultStent  = Stent{CenterT: 0.44, LengthT: 0.22, Oversize: 1.0}
)

// LookupWire returns the wire preset with the given id.
func LookupWire(id WireID) (WirePreset, bool) {
	for _, w := range WirePresets {
		if w.ID == id {
			return w, true
		}
	}
	return WirePreset{}, false
}

// LookupStent returns the stent preset with the given id.
func LookupStent(id StentID) (StentPreset, bool) {
	for _, s := range StentPresets {
		if s.ID == id {
			return s, true
		}
	}
	return StentPreset{}, false
}
