package main

import (
	"context"
	"strings"
	"time"

	"trading/internal/observability"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.Context()); err != nil {
			return err
		}
	}
	return s.ServerStream.RecvMsg(m)
}

// callObserver records each tracked call in the JSON metrics, Prometheus and
// the log.
type callObserver struct {
	metrics    *observability.Metrics
	collectors *observability.Collectors
	logger     *zap.Logger
}

func (o callObserver) start(method string) func(error) {
	if !shouldTrackMethod(method) {
		return func(error) {}
	}
	started := time.Now()
	span := o.metrics.Start(method)
	return func(err error) {
		span.End(err)
		if o.collectors != nil {
			o.collectors.ObserveCall(method, started, err)
		}
		if err != nil && o.logger != nil {
			o.logger.Warn("grpc call failed",
				zap.String("method", method),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
		}
	}
}

func rateLimitUnaryInterceptor(limiter rateLimiter, obs callObserver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		done := obs.start(info.FullMethod)
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				done(err)
				return nil, err
			}
		}
		resp, err := handler(ctx, req)
		done(err)
		return resp, err
	}
}

func rateLimitStreamInterceptor(limiter rateLimiter, obs callObserver) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		done := obs.start(info.FullMethod)
		if limiter != nil {
			stream = &rateLimitedServerStream{ServerStream: stream, limiter: limiter}
		}
		err := handler(srv, stream)
		done(err)
		return err
	}
}

func shouldTrackMethod(method string) bool {
	return method != "" &&
		!strings.HasPrefix(method, "/grpc.reflection.") &&
		!strings.HasPrefix(method, "/grpc.health.")
}
