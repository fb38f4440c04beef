// Package client 提供账本与汇率服务的 gRPC 客户端实现
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	mdAuthorization  = "authorization"
	mdIdempotencyKey = "idempotency-key"
)

// outgoing 透传调用方凭证
func outgoing(ctx context.Context, credential string, kv ...string) context.Context {
	if credential != "" {
		kv = append(kv, mdAuthorization, credential)
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// ledgerErr 将账本返回的 gRPC 状态映射为领域错误类别
func ledgerErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.E(domain.KindUpstreamUnavailable, op, err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return domain.E(domain.KindNotFound, op, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return domain.E(domain.KindForbidden, op, fmt.Errorf("%w: %w", domain.ErrCredentialRejected, err))
	case codes.FailedPrecondition:
		return domain.E(domain.KindForbidden, op, err)
	case codes.InvalidArgument:
		return domain.E(domain.KindInvalid, op, err)
	default:
		return domain.E(domain.KindUpstreamUnavailable, op, err)
	}
}

// rateErr 汇率服务有应答的失败视为请求无效，不可达视为上游不可用
func rateErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.E(domain.KindUpstreamUnavailable, op, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
		return domain.E(domain.KindUpstreamUnavailable, op, err)
	default:
		return domain.E(domain.KindInvalid, op, err)
	}
}
