package gateway

import (
	"errors"
	"fmt"
)

// Kind 交易所错误大类。
type Kind string

const (
	KindNetwork     Kind = "network"
	KindRateLimited Kind = "rate_limited"
	KindRejected    Kind = "rejected"
)

// RejectReason 拒单子类。
type RejectReason string

const (
	RejectInvalidOrder       RejectReason = "invalid_order"
	RejectInsufficientFunds  RejectReason = "insufficient_funds"
	RejectPostOnlyWouldCross RejectReason = "post_only_would_cross"
	RejectUnknownOrder       RejectReason = "unknown_order"
)

// 供 errors.Is 匹配的哨兵错误。
var (
	ErrNetwork            = errors.New("network error")
	ErrRateLimited        = errors.New("rate limited")
	ErrRejected           = errors.New("exchange rejected")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPostOnlyWouldCross = errors.New("post-only order would cross")
	ErrUnknownOrder       = errors.New("unknown order")
)

// Error 交易所调用错误。
type Error struct {
	Kind   Kind
	Reason RejectReason
	Op     string
	Code   int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += "/" + string(e.Reason)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrPostOnlyWouldCross) 等按类别匹配。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrInvalidOrder:
		return e.Reason == RejectInvalidOrder
	case ErrInsufficientFunds:
		return e.Reason == RejectInsufficientFunds
	case ErrPostOnlyWouldCross:
		return e.Reason == RejectPostOnlyWouldCross
	case ErrUnknownOrder:
		return e.Reason == RejectUnknownOrder
	}
	return false
}

func NewNetworkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func NewRateLimitedError(op string, err error) error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err}
}

func NewRejectedError(op string, reason RejectReason, err error) error {
	return &Error{Kind: KindRejected, Reason: reason, Op: op, Err: err}
}

// IsTransient 网络错误与限流可以重试，拒单不重试。
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimited)
}
