package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"github.com/lior-linho/openmed-portfolio/internal/observability"
	"github.com/lior-linho/openmed-portfolio/internal/params"
	"github.com/lior-linho/openmed-portfolio/internal/sim/state"
	"github.com/lior-linho/openmed-portfolio/kb"
	"github.com/lior-linho/openmed-portfolio/model"
	"github.com/lior-linho/openmed-portfolio/timectrl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the service name reported by the gRPC health server.
const healthService = "sandbox.Procedure"

var errUnboundedAccelerated = errors.New("accelerated clock needs a positive --run-for")

// Config holds the server's runtime settings.
type Config struct {
	ListenAddress  string
	HTTPAddress    string
	LogLevel       string
	LogFormat      string
	TickInterval   time.Duration
	SampleInterval time.Duration
	Accelerated    bool
	RunFor         time.Duration
	Vessel         string
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the gRPC server listens on")
	flag.StringVar(&cfg.HTTPAddress, "http-addr", ":9090", "HTTP address for /metrics, /snapshot and the procedure API")
	flag.DurationVar(&cfg.TickInterval, "tick", 16*time.Millisecond, "frame tick interval")
	flag.DurationVar(&cfg.SampleInterval, "sample-every", 50*time.Millisecond, "resistance sampling interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "run the clock in accelerated mode (vs real-time); requires --run-for")
	flag.DurationVar(&cfg.RunFor, "run-for", 0, "simulated time to run before the clock stops (0 runs until shutdown)")
	flag.StringVar(&cfg.Vessel, "vessel", string(model.VesselStandardBend), "initial vessel id")
	flag.StringVar(&cfg.LogLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", os.Getenv("LOG_FORMAT"), "log format (text or json)")
	flag.Parse()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, AddSource: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "sandbox server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled and then shuts everything down.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Accelerated && cfg.RunFor <= 0 {
		return errUnboundedAccelerated
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rpcMetrics, err := observability.NewServerCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("procedure metrics: %w", err)
	}

	store := params.NewStore()
	timeline := state.NewTimeline(state.DefaultTimelineLimit)
	vessel := model.VesselID(cfg.Vessel)
	if vessel == "" {
		vessel = model.VesselStandardBend
	}
	s, err := state.NewProcedureState(kb.NewKnowledgeBase(), log,
		state.WithParams(store),
		state.WithMetricsRecorder(simMetrics),
		state.WithTimeline(timeline),
		state.WithVessel(vessel),
	)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.Close()
	live := func() observability.Session {
		return observability.Session{ID: s.SessionID(), Vessel: string(s.Vessel())}
	}

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Session = live()
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpcMetrics.UnaryServerInterceptor(),
			observability.SessionUnaryServerInterceptor(log, live),
			observability.TracingUnaryServerInterceptor(),
		),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	reflection.Register(server)
	procHealth := newProcedureHealth(s, healthSrv, simMetrics, log)
	defer procHealth.Close()

	var httpSrv *http.Server
	if cfg.HTTPAddress != "" {
		httpSrv = serveHTTP(cfg.HTTPAddress, newHandler(s, timeline, store, rpcMetrics.Handler(), log), log)
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopDone := runSimLoop(loopCtx, s, cfg, procHealth)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()
	log.Info(ctx, "sandbox server started",
		logging.String("grpc_addr", lis.Addr().String()),
		logging.String("http_addr", cfg.HTTPAddress),
		logging.String("session_id", s.SessionID()),
		logging.String("vessel", string(vessel)),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serve gRPC: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down sandbox server")
	healthSrv.Shutdown()
	server.GracefulStop()
	cancelLoop()
	<-loopDone

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// runSimLoop drives the session from a host clock: every frame advances the
// wire and dose, and resistance is sampled at the slower cadence. The loop
// stops after cfg.RunFor of simulated time when that is positive. Each
// sample also refreshes h when it is set.
func runSimLoop(ctx context.Context, s *state.ProcedureState, cfg Config, h *procedureHealth) <-chan struct{} {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 16 * time.Millisecond
	}
	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), tick, mode)
	tc.AddListener(func(_ time.Time, dt time.Duration) {
		s.Advance(dt.Seconds())
	})
	tc.AddCadenceListener(cfg.SampleInterval, func(_ time.Time, _ time.Duration) {
		s.SampleResistance(ctx)
		if h != nil {
			h.refresh(ctx)
		}
	})
	return tc.Start(ctx, cfg.RunFor)
}

func serveHTTP(addr string, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving HTTP API and Prometheus metrics", logging.String("addr", addr))
	return srv
}
