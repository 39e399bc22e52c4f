package main

import (
	"context"
	"sync"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/internal/sim/state"
	"github.com/lior-linho/openmed-portfolio/model"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// servingRecorder mirrors the health status into metrics.
type servingRecorder interface {
	SetServing(ok bool)
}

// procedureHealth publishes the session's condition as the healthService
// status: NOT_SERVING while a complication is active or while resistance
// sampling has no vessel surface, SERVING otherwise.
type procedureHealth struct {
	s       *state.ProcedureState
	srv     *health.Server
	metrics servingRecorder
	log     logging.Logger
	detach  func()

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

func newProcedureHealth(s *state.ProcedureState, srv *health.Server, metrics servingRecorder, log logging.Logger) *procedureHealth {
	if log == nil {
		log = logging.Noop()
	}
	h := &procedureHealth{s: s, srv: srv, metrics: metrics, log: log}
	h.detach = s.OnComplication(func(c model.Complication) {
		h.set(context.Background(), healthpb.HealthCheckResponse_NOT_SERVING, "complication "+string(c.Kind))
	})
	h.refresh(context.Background())
	return h
}

// refresh re-reads the session. Complications are pushed as they are
// raised; clearing one and surface changes are picked up here.
func (h *procedureHealth) refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	switch snap := h.s.Snapshot(); {
	case snap.Complication != nil:
		return h.set(ctx, healthpb.HealthCheckResponse_NOT_SERVING, "complication "+string(snap.Complication.Kind))
	case !h.s.SurfaceAvailable():
		return h.set(ctx, healthpb.HealthCheckResponse_NOT_SERVING, "vessel surface unavailable")
	default:
		return h.set(ctx, healthpb.HealthCheckResponse_SERVING, "")
	}
}

func (h *procedureHealth) set(ctx context.Context, st healthpb.HealthCheckResponse_ServingStatus, reason string) healthpb.HealthCheckResponse_ServingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st == h.status {
		return st
	}
	h.status = st
	h.srv.SetServingStatus(healthService, st)
	if h.metrics != nil {
		h.metrics.SetServing(st == healthpb.HealthCheckResponse_SERVING)
	}
	h.log.Info(ctx, "procedure health changed",
		logging.String("status", st.String()),
		logging.String("reason", reason),
	)
	return st
}

func (h *procedureHealth) Close() {
	if h.detach != nil {
		h.detach()
	}
}
