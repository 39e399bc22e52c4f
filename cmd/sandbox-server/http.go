package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/internal/params"
	"github.com/lior-linho/openmed-portfolio/internal/sim/state"
	"github.com/lior-linho/openmed-portfolio/model"
)

const requestIDHeader = "X-Request-ID"

// api exposes the procedure session over HTTP/JSON.
type api struct {
	s        *state.ProcedureState
	timeline *state.Timeline
	params   *params.Store
	log      logging.Logger
}

type idRequest struct {
	ID string `json:"id"`
}

type balloonRequest struct {
	Inflation float64 `json:"inflation"`
}

type complicationRequest struct {
	Kind string `json:"kind"`
	Note string `json:"note"`
}

type paramRequest struct {
	Value float64 `json:"value"`
}

type paramResponse struct {
	Path  string  `json:"path"`
	Value float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newHandler(s *state.ProcedureState, timeline *state.Timeline, store *params.Store, metrics http.Handler, log logging.Logger) http.Handler {
	if log == nil {
		log = logging.Noop()
	}
	a := &api{s: s, timeline: timeline, params: store, log: log}

	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /snapshot", a.handleSnapshot)
	mux.HandleFunc("GET /timeline", a.handleTimeline)
	mux.HandleFunc("GET /params", a.handleParams)
	mux.HandleFunc("PUT /params/{path}", a.handleSetParam)
	mux.HandleFunc("POST /procedure/balloon", a.handleBalloon)
	mux.HandleFunc("POST /procedure/vessel", a.handleVessel)
	mux.HandleFunc("POST /procedure/wire", a.handleWire)
	mux.HandleFunc("POST /procedure/stent", a.handleStent)
	mux.HandleFunc("POST /procedure/complication", a.handleComplication)
	mux.HandleFunc("POST /procedure/{action}", a.handleAction)
	return withRequestID(mux)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(requestIDHeader); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *api) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

// handleTimeline returns the recorded samples, optionally only the last n.
func (a *api) handleTimeline(w http.ResponseWriter, r *http.Request) {
	samples := a.timeline.List()
	if raw := r.URL.Query().Get("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("last must be a non-negative integer"))
			return
		}
		if n < len(samples) {
			samples = samples[len(samples)-n:]
		}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (a *api) handleParams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.params.Params())
}

func (a *api) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if !decode(w, r, &req) {
		return
	}
	path := r.PathValue("path")
	v, err := a.params.Set(path, req.Value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.log.Info(r.Context(), "parameter updated", logging.String("path", path), logging.Float("value", v))
	writeJSON(w, http.StatusOK, paramResponse{Path: path, Value: v})
}

func (a *api) handleBalloon(w http.ResponseWriter, r *http.Request) {
	var req balloonRequest
	if !decode(w, r, &req) {
		return
	}
	a.s.SetBalloon(r.Context(), req.Inflation)
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

func (a *api) handleVessel(w http.ResponseWriter, r *http.Request) {
	a.handleID(w, r, func(ctx context.Context, id string) error {
		return a.s.SelectVessel(ctx, model.VesselID(id))
	})
}

func (a *api) handleWire(w http.ResponseWriter, r *http.Request) {
	a.handleID(w, r, func(ctx context.Context, id string) error {
		return a.s.SetWire(ctx, model.WireID(id))
	})
}

func (a *api) handleStent(w http.ResponseWriter, r *http.Request) {
	a.handleID(w, r, func(ctx context.Context, id string) error {
		return a.s.SetStentPreset(ctx, model.StentID(id))
	})
}

func (a *api) handleID(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) error) {
	var req idRequest
	if !decode(w, r, &req) {
		return
	}
	if err := apply(r.Context(), req.ID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

func (a *api) handleComplication(w http.ResponseWriter, r *http.Request) {
	var req complicationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		a.s.ClearComplication(r.Context())
		writeJSON(w, http.StatusOK, a.s.Snapshot())
		return
	}
	if !a.s.SetComplication(r.Context(), model.ComplicationKind(req.Kind), req.Note) {
		writeError(w, http.StatusBadRequest, errors.New("unknown complication kind "+strconv.Quote(req.Kind)))
		return
	}
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

// handleAction runs a body-less procedure command. Commands that do not
// apply in the current step still succeed and leave the session unchanged.
func (a *api) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch action := r.PathValue("action"); action {
	case "next":
		a.s.Next(ctx)
	case "prev":
		a.s.Prev(ctx)
	case "reset":
		a.s.Reset(ctx)
	case "deploy":
		a.s.DeployStent(ctx)
	case "retry":
		a.s.RetryCrossing(ctx)
	case "contrast":
		a.s.ShootContrast()
	case "cine":
		a.s.StartCine(0)
	case "pedal-press":
		a.s.PressPedal()
	case "pedal-release":
		a.s.ReleasePedal()
	case "pause":
		a.s.Pause()
	case "resume":
		a.s.Resume()
	case "toggle-control":
		a.s.ToggleControlMode()
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown procedure action "+strconv.Quote(action)))
		return
	}
	writeJSON(w, http.StatusOK, a.s.Snapshot())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrVesselNotFound),
		errors.Is(err, state.ErrPresetNotFound),
		errors.Is(err, params.ErrInvalidPath):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
