package observability

import (
	"context"
	"strings"

	"github.com/lior-linho/openmed-portfolio/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	requestIDMetadataKey = "x-request-id"
	sessionMetadataKey   = "x-session-id"

	tracerName = "github.com/lior-linho/openmed-portfolio/internal/observability"
)

// Session identifies the procedure session an RPC is served against.
type Session struct {
	ID     string
	Vessel string
}

// SessionSource reports the live session. The vessel may change between
// calls.
type SessionSource func() Session

type sessionKey struct{}

// ContextWithSession stores s on ctx, along with its id for logging.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	if s.ID != "" {
		ctx = logging.ContextWithSessionID(ctx, s.ID)
	}
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session bound by SessionUnaryServerInterceptor.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

// SessionUnaryServerInterceptor binds every RPC to the live procedure
// session. A caller naming another session in x-session-id is refused with
// FailedPrecondition. The request id is taken from x-request-id or
// generated, and both ids are echoed in the response header.
func SessionUnaryServerInterceptor(base logging.Logger, live SessionSource) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if id := firstHeader(md, requestIDMetadataKey); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}

		var sess Session
		if live != nil {
			sess = live()
		}
		switch asked := firstHeader(md, sessionMetadataKey); {
		case asked == "":
		case sess.ID == "":
			sess.ID = asked
		case asked != sess.ID:
			return nil, status.Errorf(codes.FailedPrecondition, "session %q is not served here", asked)
		}
		ctx = ContextWithSession(ctx, sess)

		log := base.With(logging.String("method", fullMethodOf(info)))
		if sess.Vessel != "" {
			log = log.With(logging.String("vessel", sess.Vessel))
		}
		ctx, log = logging.WithRequestLogger(ctx, logging.WithSessionLogger(ctx, log))
		ctx = logging.ContextWithLogger(ctx, log)

		// Fails outside a real server stream, where there is nobody to echo to.
		_ = grpc.SetHeader(ctx, metadata.Pairs(
			requestIDMetadataKey, logging.RequestIDFromContext(ctx),
			sessionMetadataKey, sess.ID,
		))
		return handler(ctx, req)
	}
}

// TracingUnaryServerInterceptor names the RPC span after the method and tags
// it with the session it ran against. It starts a server span itself when no
// stats handler has.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		fullMethod := fullMethodOf(info)
		service, method := SplitMethod(fullMethod)
		name := "Sandbox/" + service + "/" + method

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
		)
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if sess, ok := SessionFromContext(ctx); ok {
			span.SetAttributes(sessionAttributes(sess)...)
		}

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return resp, err
	}
}

// sessionAttributes are shared by RPC spans and the tracing resource.
func sessionAttributes(s Session) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if s.ID != "" {
		attrs = append(attrs, attribute.String("sandbox.session_id", s.ID))
	}
	if s.Vessel != "" {
		attrs = append(attrs, attribute.String("sandbox.vessel", s.Vessel))
	}
	return attrs
}

func firstHeader(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
