package server

import (
	"CustodyVault/internal/observability"
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys. The gateway forwards the HTTP headers of the same name.
const (
	AdminTokenKey = "x-admin-token"
	CallerKey     = "x-caller"
)

type callerKey struct{}

// CallerFromContext returns the caller identity attached by the identity
// interceptor.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

func firstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(key); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// MetricsInterceptor records request counts and latency per method and
// logs failures.
func MetricsInterceptor(metrics *observability.Metrics, log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		if metrics != nil {
			method := methodName(info.FullMethod)
			metrics.QueryRequests.WithLabelValues(method, code.String()).Inc()
			metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			ev := log.Debug()
			if code == codes.Internal || code == codes.Unknown {
				ev = log.Error()
			}
			ev.Err(err).Str("method", info.FullMethod).Str("code", code.String()).Msg("request failed")
		}
		return resp, err
	}
}

// RateLimitInterceptor rejects requests beyond the shared token bucket with
// ResourceExhausted. A nil limiter disables it.
func RateLimitInterceptor(limiter *rate.Limiter, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if limiter != nil && !limiter.Allow() {
			if metrics != nil {
				metrics.RateLimited.Inc()
			}
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// AdminInterceptor gates admin methods on the configured token. An empty
// token disables the admin methods entirely.
func AdminInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !adminMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		if token == "" {
			return nil, status.Error(codes.PermissionDenied, "admin API disabled")
		}
		got := firstMetadata(ctx, AdminTokenKey)
		if got == "" {
			return nil, status.Error(codes.Unauthenticated, "admin token required")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return nil, status.Error(codes.PermissionDenied, "invalid admin token")
		}
		return handler(ctx, req)
	}
}

// IdentityInterceptor attaches the x-caller address to the context of
// deposit and withdraw calls. The header is trusted as sent; no credential
// backs it.
func IdentityInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !callerMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		caller := firstMetadata(ctx, CallerKey)
		if caller == "" {
			return nil, status.Error(codes.Unauthenticated, "x-caller is required")
		}
		if !common.IsHexAddress(caller) {
			return nil, status.Errorf(codes.InvalidArgument, "invalid x-caller address %q", caller)
		}
		return handler(context.WithValue(ctx, callerKey{}, common.HexToAddress(caller)), req)
	}
}

func methodName(fullMethod string) string {
	if i := strings.LastIndexByte(fullMethod, '/'); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}
