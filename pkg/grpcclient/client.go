// Package grpcclient 提供 gRPC 客户端工厂，支持请求超时、熔断、只读方法重试、trace 注入
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ClientConfig gRPC 客户端配置
type ClientConfig struct {
	// 服务名，用于日志与熔断器命名
	Name string
	// 目标地址
	Target string
	// 连接超时（秒）
	ConnTimeout int
	// 单次请求超时，调用方 ctx 更短时以调用方为准
	RequestTimeout time.Duration
	// 只读方法失败后的最大重试次数
	MaxRetries int
	// 重试间隔
	RetryDelay time.Duration
	// 只读方法（全名），仅这些方法会在客户端层重试
	ReadOnlyMethods []string
	// Keepalive 间隔（秒），0 表示关闭
	KeepaliveInterval int
	// 连续失败多少次后熔断，0 表示关闭熔断
	BreakerFailures int
	// 熔断打开持续时间
	BreakerTimeout time.Duration
}

// NewClient 创建 gRPC 客户端连接，消息以 JSON 编码
func NewClient(cfg ClientConfig) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(cfg)),
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   time.Duration(cfg.ConnTimeout) * time.Second,
				Multiplier: 1.6,
				Jitter:     0.2,
			},
			MinConnectTimeout: time.Duration(cfg.ConnTimeout) * time.Second,
		}))
	}

	if cfg.KeepaliveInterval > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(cfg.KeepaliveInterval) * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}))
	}

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", cfg.Target, err)
	}

	logger.Info(context.Background(), "gRPC client created successfully", "service", cfg.Name, "target", cfg.Target)
	return conn, nil
}

// UnaryClientInterceptor 组合超时、熔断与只读方法重试
func UnaryClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	readOnly := make(map[string]bool, len(cfg.ReadOnlyMethods))
	for _, m := range cfg.ReadOnlyMethods {
		readOnly[m] = true
	}

	var cb *gobreaker.CircuitBreaker
	if cfg.BreakerFailures > 0 {
		threshold := uint32(cfg.BreakerFailures)
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    cfg.Name,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "circuit breaker state changed",
					"service", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		call := func() error {
			callCtx := ctx
			if cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()
			}
			if cb == nil {
				return invoker(callCtx, method, req, reply, cc, opts...)
			}
			_, err := cb.Execute(func() (interface{}, error) {
				return nil, invoker(callCtx, method, req, reply, cc, opts...)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return status.Error(codes.Unavailable, fmt.Sprintf("%s: %v", cfg.Name, err))
			}
			return err
		}

		attempts := 1
		if readOnly[method] {
			attempts += cfg.MaxRetries
		}

		start := time.Now()
		var err error
		for i := 0; i < attempts; i++ {
			if err = call(); err == nil || !IsTransient(err) || i == attempts-1 {
				break
			}
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return status.FromContextError(ctx.Err()).Err()
			}
		}

		if err != nil {
			logger.Warn(ctx, "gRPC request failed",
				"service", cfg.Name,
				"method", method,
				"code", status.Code(err).String(),
				"duration", time.Since(start),
			)
		}
		return err
	}
}

// IsTransient 判断错误是否为结果未知、可安全重试的类型
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Unknown, codes.Internal:
		return true
	default:
		return false
	}
}
