package domain

import (
	"errors"
	"strings"
)

// Kind 错误类别，调用方按类别处理而非按具体错误
type Kind string

const (
	KindInvalid             Kind = "invalid"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindConflict            Kind = "conflict"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInconsistent        Kind = "inconsistent"
)

var (
	ErrSameCurrency      = errors.New("base and quote currency must differ")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfFulfill       = errors.New("initiator cannot fulfill own order")
	ErrNotInitiator      = errors.New("only the initiator can cancel the order")
	ErrNotPending        = errors.New("order is not pending")
	ErrNotFunded         = errors.New("order funding is not confirmed")
	ErrStatusChanged     = errors.New("order status changed concurrently")
	ErrOrderNotFound     = errors.New("order not found")
	ErrRecordNotFound    = errors.New("settlement record not found")
	ErrRateNotFound      = errors.New("rate not found")

	// 凭证被下游拒绝，请求未被受理，不能说明此前的调用是否生效
	ErrCredentialRejected = errors.New("credential rejected")
)

// Error 领域错误，携带类别与定位信息（订单、腿）
type Error struct {
	Kind    Kind
	Op      string
	OrderID string
	Leg     LegKind
	Err     error
}

// E 构造领域错误
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithOrder 附加订单 ID
func (e *Error) WithOrder(orderID string) *Error {
	e.OrderID = orderID
	return e
}

// WithLeg 附加腿
func (e *Error) WithLeg(leg LegKind) *Error {
	e.Leg = leg
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.OrderID != "" {
		b.WriteString(" order=")
		b.WriteString(e.OrderID)
	}
	if e.Leg != "" {
		b.WriteString(" leg=")
		b.WriteString(string(e.Leg))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 与仅设置了 Kind 的 *Error 按类别匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// 按类别匹配的哨兵，用于 errors.Is
var (
	Invalid             = &Error{Kind: KindInvalid}
	NotFound            = &Error{Kind: KindNotFound}
	Forbidden           = &Error{Kind: KindForbidden}
	Conflict            = &Error{Kind: KindConflict}
	UpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	Inconsistent        = &Error{Kind: KindInconsistent}
)

// KindOf 返回错误链上最外层领域错误的类别，非领域错误视为上游不可用
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamUnavailable
}

// Wrap 保留内层领域错误的类别与定位信息，补充操作名
func Wrap(op string, err error) *Error {
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{Kind: inner.Kind, Op: op, OrderID: inner.OrderID, Leg: inner.Leg, Err: err}
	}
	return E(KindUpstreamUnavailable, op, err)
}
