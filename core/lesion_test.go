package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/lior-linho/openmed-portfolio/model"
)

func TestDefaultLesionScoring(t *testing.T) {
	cov := CoveragePct(model.DefaultLesion, model.DefaultStent)
	if math.Abs(cov-100) > 1e-9 {
		t.Fatalf("coverage = %v, want 100", cov)
	}
	res := ResidualStenosisPct(model.DefaultLesion, model.DefaultStent, model.DefaultStent.Oversize, DefaultResidualK)
	if res >= model.DefaultLesion.BaselineStenosisPct {
		t.Fatalf("residual = %v, want below baseline", res)
	}
	if want := 40 * (1 - 0.8*1.02); math.Abs(res-want) > 1e-9 {
		t.Fatalf("residual = %v, want %v", res, want)
	}
}

func TestCoverageNoOverlap(t *testing.T) {
	s := model.Stent{CenterT: 0.9, LengthT: 0.1, Oversize: 1}
	if got := CoveragePct(model.DefaultLesion, s); got != 0 {
		t.Fatalf("coverage = %v, want 0", got)
	}
	if got := ResidualStenosisPct(model.DefaultLesion, s, 1, 0); got != 40 {
		t.Fatalf("residual without coverage = %v, want baseline 40", got)
	}
}

func TestScoringBoundsAndPurity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		start := rng.Float64()*1.4 - 0.2
		l := model.Lesion{
			StartT:              start,
			EndT:                start + rng.Float64()*0.5 - 0.1,
			BaselineStenosisPct: rng.Float64()*150 - 20,
		}
		s := model.Stent{
			CenterT:  rng.Float64(),
			LengthT:  rng.Float64() * 0.6,
			Oversize: 1 + rng.Float64()*2,
		}
		if i%50 == 0 {
			l.EndT = l.StartT
			s.LengthT = 0
		}
		cov := CoveragePct(l, s)
		res := ResidualStenosisPct(l, s, s.Oversize, 0.8)
		if cov < 0 || cov > 100 || res < 0 || res > 100 {
			t.Fatalf("out of bounds: cov=%v res=%v for %+v %+v", cov, res, l, s)
		}
		if CoveragePct(l, s) != cov || ResidualStenosisPct(l, s, s.Oversize, 0.8) != res {
			t.Fatalf("scoring is not deterministic for %+v %+v", l, s)
		}
	}
}

func TestResidualOversizeLowersStenosis(t *testing.T) {
	s := model.Stent{CenterT: 0.4, LengthT: 0.08, Oversize: 1}
	low := ResidualStenosisPct(model.DefaultLesion, s, 5, 0)
	high := ResidualStenosisPct(model.DefaultLesion, s, 15, 0)
	if high >= low {
		t.Fatalf("larger oversize should lower residual: %v >= %v", high, low)
	}
}
