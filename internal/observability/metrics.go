package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ServerCollector counts and times the RPCs served against a procedure
// session and exposes the registry it was built on over HTTP.
type ServerCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewServerCollector registers the RPC metrics on reg, or on the global
// registry when reg is nil. Registering twice on one registry shares the
// existing collectors.
func NewServerCollector(reg prometheus.Registerer) (*ServerCollector, error) {
	reg, gatherer := registryPair(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_rpc_requests_total",
		Help: "RPCs handled by the sandbox server, by service, method and gRPC code.",
	}, []string{"service", "method", "code"}), "sandbox_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sandbox_rpc_duration_seconds",
		Help:    "Sandbox RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"service", "method"}), "sandbox_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &ServerCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
	}, nil
}

// UnaryServerInterceptor records every unary RPC, including those rejected
// by interceptors further down the chain. Install it first.
func (c *ServerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		service, method := SplitMethod(fullMethodOf(info))
		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *ServerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod turns "/pkg.Service/Method" into ("Service", "Method").
// Missing parts come back as "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return service, method
	}
	if svc := parts[len(parts)-2]; svc != "" {
		service = svc[strings.LastIndex(svc, ".")+1:]
		if service == "" {
			service = svc
		}
	}
	if m := parts[len(parts)-1]; m != "" {
		method = m
	}
	return service, method
}

func fullMethodOf(info *grpc.UnaryServerInfo) string {
	if info == nil {
		return ""
	}
	return info.FullMethod
}

// registryPair defaults reg to the global registry and finds the gatherer
// that backs it.
func registryPair(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return reg, g
	}
	return reg, prometheus.DefaultGatherer
}

// register adds c to reg. When a collector of the same type is already
// registered under the same descriptor, that one is returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var zero C
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return zero, err
	}
	if existing, ok := are.ExistingCollector.(C); ok {
		return existing, nil
	}
	return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
}
