package grpcx

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwrk-planet/consult-service/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const mdRequestID = "x-request-id"

var tracer = otel.Tracer("github.com/cwrk-planet/consult-service/grpc")

// Unary logging + recovery + timeout guard (если у вызова нет deadline)
func UnaryServerInterceptor(defaultTimeout time.Duration) grpc.UnaryServerInterceptor {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		// deadline guard
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
			defer cancel()
		}

		// span на вызов: trace_id/span_id попадают в логи через logger.FromContext
		ctx, span := tracer.Start(ctx, info.FullMethod)
		defer span.End()

		log := logger.FromContext(ctx).With(
			slog.String("method", info.FullMethod),
			slog.String("req_id", requestID(ctx)),
		)
		ctx = logger.IntoContext(ctx, log)

		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc unary panic",
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			if err != nil {
				span.RecordError(err)
			}
			level := slog.LevelInfo
			if status.Code(err) == codes.Internal || status.Code(err) == codes.Unavailable {
				level = slog.LevelError
			}
			log.Log(ctx, level, "grpc unary",
				"dur_ms", time.Since(start).Milliseconds(),
				"code", status.Code(err).String(),
				"err", errString(err))
		}()

		return handler(ctx, req)
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(mdRequestID); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
