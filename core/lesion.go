package core

import (
	"math"

	"github.com/lior-linho/openmed-portfolio/model"
)

// DefaultResidualK is the coverage efficiency used by ResidualStenosisPct.
const DefaultResidualK = 0.8

const minLesionLength = 1e-6

func overlap(l model.Lesion, s model.Stent) float64 {
	s0, s1 := s.Bounds()
	return math.Max(0, math.Min(s1, l.EndT)-math.Max(s0, l.StartT))
}

// CoveragePct returns how much of the lesion the stent overlaps, in
// percent of lesion length.
func CoveragePct(l model.Lesion, s model.Stent) float64 {
	denom := math.Max(minLesionLength, l.EndT-l.StartT)
	return clampPct(overlap(l, s) / denom * 100)
}

// ResidualStenosisPct returns the narrowing left after deploying s over l
// with the given oversize factor. k <= 0 uses DefaultResidualK.
func ResidualStenosisPct(l model.Lesion, s model.Stent, oversize, k float64) float64 {
	if k <= 0 {
		k = DefaultResidualK
	}
	cov := CoveragePct(l, s)
	effect := 1 + (oversize/100)*2.0
	v := l.BaselineStenosisPct * math.Max(0, 1-k*effect*cov/100)
	return clampPct(v)
}

func clampPct(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 100)
}
