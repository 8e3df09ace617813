package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// UnaryLoggingInterceptor 负责拦截普通请求
func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	logRPC(info.FullMethod, time.Since(start), err)
	return resp, err
}

// logRPC 统一的日志打印逻辑
// 使用 Go 1.21+ 标准库 slog
func logRPC(method string, duration time.Duration, err error) {
	st, _ := status.FromError(err)
	code := st.Code()

	level := slog.LevelInfo
	if code != codes.OK {
		// NotFound 这种业务错误算 Warn，Internal 算 Error
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		} else {
			level = slog.LevelWarn
		}
	}

	slog.Log(context.Background(), level, "gRPC Request",
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// 2. Recovery Interceptor (防弹衣)
// =============================================================================

// UnaryRecoveryInterceptor 捕获 Panic
func UnaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(r)
		}
	}()
	return handler(ctx, req)
}

func recoverFromPanic(p any) error {
	// 打印堆栈信息，方便调试
	stack := string(debug.Stack())
	slog.Error("🔥 PANIC RECOVERED",
		slog.Any("panic", p),
		slog.String("stack", stack),
	)
	// 返回一个友好的 gRPC Internal 错误给客户端，而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
