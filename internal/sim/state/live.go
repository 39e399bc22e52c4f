package state

import (
	"context"
	"strings"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/kb"
	"github.com/lior-linho/openmed-portfolio/model"
)

const vesselParamPrefix = "vessel."

// onParamsChanged rebuilds the vessel surface and resistance model when a
// vessel parameter changes. Other paths are read on demand and need no work.
func (s *ProcedureState) onParamsChanged(path string, p model.Params) {
	if !strings.HasPrefix(path, vesselParamPrefix) {
		return
	}
	ctx := context.Background()

	s.mu.RLock()
	cl := s.cl
	s.mu.RUnlock()

	surface, err := s.surfaces(cl, p)
	if err != nil {
		s.log.Warn(ctx, "rebuild vessel surface failed",
			logging.String("path", path),
			logging.Err(err),
		)
		surface = nil
	}

	s.mu.Lock()
	if s.cl != cl {
		// A vessel switch raced us and already built its own surface.
		s.mu.Unlock()
		return
	}
	s.sampler.SetSurface(surface)
	s.syncModelLocked()
	s.mu.Unlock()

	s.log.Debug(ctx, "vessel surface rebuilt",
		logging.String("path", path),
		logging.Float("inner_diameter_mm", p.Vessel.InnerDiameterMm),
	)
}

// onCatalogChanged follows catalog edits to the selected vessel. Removal
// keeps the loaded centerline; re-adding the id reloads it.
func (s *ProcedureState) onCatalogChanged(ev kb.Event) {
	if ev.Vessel.ID != s.Vessel() {
		return
	}
	ctx := context.Background()
	switch ev.Type {
	case kb.EventVesselRemoved:
		s.log.Warn(ctx, "selected vessel removed from catalog, keeping loaded centerline",
			logging.String("vessel", string(ev.Vessel.ID)))
	case kb.EventVesselAdded:
		if err := s.SelectVessel(ctx, ev.Vessel.ID); err != nil {
			s.log.Warn(ctx, "reload replaced vessel failed",
				logging.String("vessel", string(ev.Vessel.ID)),
				logging.Err(err),
			)
		}
	}
}
