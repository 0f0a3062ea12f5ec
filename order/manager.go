package order

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownOrder = errors.New("unknown order")

// Manager 登记执行控制器发出的订单并校验状态转换。
type Manager struct {
	mu          sync.RWMutex
	orders      map[string]*Order
	sm          *StateMachine
	constraints map[string]SymbolConstraints
	now         func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		orders:      make(map[string]*Order),
		sm:          NewStateMachine(),
		constraints: make(map[string]SymbolConstraints),
		now:         time.Now,
	}
}

// NewClientID 生成客户端订单号，重试时沿用同一个以保证幂等。
func NewClientID(intent Intent) string {
	prefix := "pe"
	switch intent {
	case IntentEntry:
		prefix += "n"
	case IntentExit:
		prefix += "x"
	}
	id := uuid.NewString()
	return prefix + "-" + id[:8] + id[9:13] + id[14:18] + id[19:23]
}

// Prepare 校验精度并补齐 ClientID，返回可提交的订单副本。
func (m *Manager) Prepare(o Order) (Order, error) {
	if o.Type == "" {
		o.Type = TypeLimit
	}
	if err := m.validateConstraint(o); err != nil {
		return Order{}, err
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID(o.Intent)
	}
	o.Status = StatusPending
	return o, nil
}

// Track 登记已被交易所接受的订单。
func (m *Manager) Track(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = &o
}

// Update 收到回报后更新状态与成交进度。
func (m *Manager) Update(id string, st Status, filledQty, avgPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	if err := m.sm.ValidateTransition(o.Status, st); err != nil {
		return err
	}
	o.Status = st
	if filledQty > o.FilledQty {
		o.FilledQty = filledQty
	}
	if avgPrice > 0 {
		o.AvgPrice = avgPrice
	}
	o.UpdatedAt = m.now()
	return nil
}

// Fail 记录拒单原因。
func (m *Manager) Fail(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Status = StatusRejected
		if err != nil {
			o.LastError = err.Error()
		}
	}
}

// Get 返回订单副本。
func (m *Manager) Get(id string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Active 返回所有非终态订单。
func (m *Manager) Active() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if !IsTerminal(o.Status) {
			out = append(out, *o)
		}
	}
	return out
}

// Prune 删除终态订单，返回删除数量。
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.orders {
		if IsTerminal(o.Status) {
			delete(m.orders, id)
			n++
		}
	}
	return n
}

// SetConstraints 设置交易对的精度/名义限制。
func (m *Manager) SetConstraints(c SymbolConstraints) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints[c.Symbol] = c
}

// Constraints 返回缓存的交易对限制。
func (m *Manager) Constraints(symbol string) (SymbolConstraints, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.constraints[symbol]
	return c, ok
}

func (m *Manager) validateConstraint(o Order) error {
	c, ok := m.Constraints(o.Symbol)
	if !ok || o.Type == TypeMarket {
		return nil
	}
	return c.Validate(o.Price, o.Quantity)
}
