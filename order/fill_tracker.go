package order

import (
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fill 成交回报，TradeID 在交易所内唯一。
type Fill struct {
	TradeID    string
	OrderID    string
	Symbol     string
	Side       Side
	Price      float64
	Quantity   float64
	Fee        float64 // 折算为报价币
	FeeAsset   string
	Commission float64 // 以 FeeAsset 计价的原始手续费
	Maker      bool
	Timestamp  time.Time
}

// Role 成交角色。
func (f Fill) Role() Role {
	if f.Maker {
		return RoleMaker
	}
	return RoleTaker
}

// NetOfCommission 买入且以 base 资产扣费时，实际到账数量为成交量减手续费。
func (f Fill) NetOfCommission(baseAsset string) Fill {
	if f.Side != SideBuy || baseAsset == "" || f.FeeAsset != baseAsset || f.Commission <= 0 {
		return f
	}
	net := decimal.NewFromFloat(f.Quantity).Sub(decimal.NewFromFloat(f.Commission))
	if !net.IsPositive() {
		f.Quantity = 0
		return f
	}
	f.Quantity = net.InexactFloat64()
	return f
}

// FillTracker 按成交键去重，并统计已记录笔数。
type FillTracker struct {
	mu sync.RWMutex

	seen  map[string]struct{}
	count int
}

// NewFillTracker 创建成交跟踪器
func NewFillTracker() *FillTracker {
	return &FillTracker{seen: make(map[string]struct{})}
}

// Key 去重键：优先 TradeID，缺失时用 OrderID 加成交时间；两者都没有返回空串。
func (f Fill) Key() string {
	if f.TradeID != "" {
		return f.TradeID
	}
	if f.OrderID == "" || f.Timestamp.IsZero() {
		return ""
	}
	return f.OrderID + "@" + strconv.FormatInt(f.Timestamp.UnixNano(), 10)
}

// Record 记录成交；无法生成去重键或已出现过则返回 false，不做任何修改。
func (f *FillTracker) Record(fill Fill) bool {
	key := fill.Key()
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[key]; dup {
		return false
	}
	f.seen[key] = struct{}{}
	f.count++
	return true
}

// Seen 是否已记录该去重键。
func (f *FillTracker) Seen(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.seen[key]
	return ok
}

// Count 已记录成交笔数。
func (f *FillTracker) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Reset 重置跟踪器
func (f *FillTracker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seen = make(map[string]struct{})
	f.count = 0
}
