package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"position-engine/gateway"
	"position-engine/order"
)

// ErrMakerPlacement post-only 重试预算用尽。
var ErrMakerPlacement = errors.New("maker placement retries exhausted")

// Class 执行错误类别，引擎按类别决定后续动作。
type Class string

const (
	// ClassTransient 网络/限流，重试后仍失败；本轮放弃，下一轮继续。
	ClassTransient Class = "transient"
	// ClassRejected 无效订单或余额不足，不重试。
	ClassRejected Class = "rejected"
	// ClassMakerPlacement maker 重试用尽；平仓时转市价。
	ClassMakerPlacement Class = "maker_placement"
	// ClassInvalidPrice 价格取整失败。
	ClassInvalidPrice Class = "invalid_price"
	// ClassCanceled ctx 被取消。
	ClassCanceled Class = "canceled"
)

// Error 带类别的执行错误。
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Handle 控制器持有的一次下单。
type Handle struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     order.Side
	Type     order.Type
	Role     order.Role
	Intent   order.Intent
	Price    float64
	Quantity float64
	PlacedAt time.Time
	Attempt  *order.Attempt
}

// Result Ok(Handle) | Err(*Error)。
type Result struct {
	Handle Handle
	Err    *Error
}

// OK 是否成功。
func (r Result) OK() bool { return r.Err == nil }

func ok(h Handle) Result { return Result{Handle: h} }

func fail(op string, err error) Result {
	return Result{Err: classify(op, err)}
}

// classify 将底层错误归类。
func classify(op string, err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	class := ClassRejected
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		class = ClassCanceled
	case gateway.IsTransient(err):
		class = ClassTransient
	case errors.Is(err, ErrMakerPlacement):
		class = ClassMakerPlacement
	case errors.Is(err, order.ErrInvalidPrice):
		class = ClassInvalidPrice
	}
	return &Error{Class: class, Op: op, Err: err}
}

// Outcome 等待结果。
type Outcome string

const (
	OutcomeFilled   Outcome = "filled"
	OutcomeCanceled Outcome = "canceled"
	OutcomeRejected Outcome = "rejected"
	OutcomeExpired  Outcome = "expired"
	OutcomeStale    Outcome = "stale"
)

// FillOutcome WaitFillOrTimeout 的结果。Stale 时订单已撤，FilledQty 为撤单前成交量。
type FillOutcome struct {
	Outcome   Outcome
	OrderID   string
	FilledQty float64
	AvgPrice  float64
	Err       error
}

// TaggedFill 带开/平仓意图的成交。
type TaggedFill struct {
	order.Fill
	Intent order.Intent
	Role   order.Role
}
