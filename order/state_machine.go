package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 从PENDING可以转到
		{StatusPending, StatusPartial},
		{StatusPending, StatusFilled},
		{StatusPending, StatusCanceled},
		{StatusPending, StatusRejected},
		{StatusPending, StatusExpired},

		// 从PARTIAL可以转到
		{StatusPartial, StatusFilled},
		{StatusPartial, StatusCanceled},
		{StatusPartial, StatusExpired},

		// 终态不能转换（FILLED, CANCELED, REJECTED, EXPIRED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	// 相同状态允许（幂等性，多次部分成交）
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	return IsTerminal(status)
}

// IsTerminal 终态判断，无需状态机实例。
func IsTerminal(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// AttemptState 单次下单尝试的状态。
type AttemptState string

const (
	AttemptBuilding  AttemptState = "BUILDING"
	AttemptSubmitted AttemptState = "SUBMITTED"
	AttemptFilled    AttemptState = "FILLED"
	AttemptRejected  AttemptState = "REJECTED"
	AttemptStale     AttemptState = "STALE"
)

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptBuilding:  {AttemptSubmitted, AttemptRejected},
	AttemptSubmitted: {AttemptFilled, AttemptRejected, AttemptStale},
}

// Attempt 跟踪一次下单尝试：BUILDING -> SUBMITTED -> FILLED/REJECTED/STALE。
type Attempt struct {
	state   AttemptState
	history []AttemptState
}

// NewAttempt 从 BUILDING 开始。
func NewAttempt() *Attempt {
	return &Attempt{state: AttemptBuilding, history: []AttemptState{AttemptBuilding}}
}

func (a *Attempt) State() AttemptState { return a.state }

func (a *Attempt) History() []AttemptState {
	out := make([]AttemptState, len(a.history))
	copy(out, a.history)
	return out
}

// Done 是否已到终态。
func (a *Attempt) Done() bool {
	_, more := attemptTransitions[a.state]
	return !more
}

// Advance 推进尝试状态，非法转换返回错误且状态不变。
func (a *Attempt) Advance(to AttemptState) error {
	for _, next := range attemptTransitions[a.state] {
		if next == to {
			a.state = to
			a.history = append(a.history, to)
			return nil
		}
	}
	return fmt.Errorf("illegal attempt transition: %s -> %s", a.state, to)
}

// AttemptFromStatus 将交易所订单状态映射为尝试终态；非终态返回 false。
func AttemptFromStatus(st Status) (AttemptState, bool) {
	switch st {
	case StatusFilled:
		return AttemptFilled, true
	case StatusRejected:
		return AttemptRejected, true
	case StatusCanceled, StatusExpired:
		return AttemptStale, true
	default:
		return "", false
	}
}
