package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-engine/order"
)

func fixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

func newGovernor() *Governor {
	return NewGovernor(Config{
		DailyLossLimit: 0.06,
		MakerRate:      0.0025,
		TakerRate:      0.004,
		EdgeBuffer:     1.2,
		EntryRole:      order.RoleMaker,
		ExitRole:       order.RoleMaker,
	}, fixedClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestCheckDailyHalt(t *testing.T) {
	tests := []struct {
		name   string
		equity float64
		halted bool
	}{
		{"恰好触及限额", 940, true},
		{"限额加 epsilon", 940.0001, false},
		{"超过限额", 900, true},
		{"盈利", 1100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGovernor()
			var st RiskState
			g.Init(1000, &st)
			assert.Equal(t, tt.halted, g.CheckDailyHalt(tt.equity, &st))
			assert.Equal(t, tt.halted, st.Halted)
		})
	}
}

func TestHaltStaysUntilRoll(t *testing.T) {
	g := newGovernor()
	var st RiskState
	g.Init(1000, &st)
	require.True(t, g.CheckDailyHalt(900, &st))
	// 权益恢复也不解除
	assert.True(t, g.CheckDailyHalt(1000, &st))
	assert.ErrorIs(t, g.AllowEntry(&st), ErrHalted)

	assert.False(t, g.Roll(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC), 900, &st))
	assert.True(t, st.Halted)
	assert.True(t, g.Roll(time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC), 900, &st))
	assert.False(t, st.Halted)
	assert.Equal(t, 900.0, st.DayStartEquity)
	assert.Equal(t, "2024-03-02", st.Day)
	assert.NoError(t, g.AllowEntry(&st))
}

func TestCheckFeeEdge(t *testing.T) {
	assert.False(t, CheckFeeEdge(10, 9, 1.2))
	assert.True(t, CheckFeeEdge(15, 9, 1.2))
	// 严格大于
	assert.False(t, CheckFeeEdge(12, 10, 1.2))
}

func TestRoundTripFee(t *testing.T) {
	g := newGovernor()
	assert.InDelta(t, 5.0, g.RoundTripFee(1000, order.RoleMaker, order.RoleMaker), 1e-9)
	assert.InDelta(t, 6.5, g.RoundTripFee(1000, order.RoleMaker, order.RoleTaker), 1e-9)
	assert.InDelta(t, 8.0, g.RoundTripFee(1000, order.RoleTaker, order.RoleTaker), 1e-9)

	gross, fee, ok := g.FeeEdgeOK(700, 4.9)
	assert.InDelta(t, 34.3, gross, 1e-9)
	assert.InDelta(t, 3.5, fee, 1e-9)
	assert.True(t, ok)

	_, _, ok = g.FeeEdgeOK(700, 0.5)
	assert.False(t, ok)
}

func TestConsecutiveLosses(t *testing.T) {
	g := newGovernor()
	cfg := g.Config()
	cfg.MaxConsecutiveLosses = 2
	g.SetConfig(cfg)

	var st RiskState
	g.Init(1000, &st)
	g.RecordTrade(-1, &st)
	assert.NoError(t, g.AllowEntry(&st))
	g.RecordTrade(-1, &st)
	assert.ErrorIs(t, g.AllowEntry(&st), ErrLossStreak)
	g.RecordTrade(3, &st)
	assert.NoError(t, g.AllowEntry(&st))
	assert.Equal(t, 3, st.Trades)
	assert.InDelta(t, 1.0, st.DailyPnL, 1e-9)
}

func TestEntryGuards(t *testing.T) {
	g := newGovernor()
	cfg := g.Config()
	cfg.MaxSpreadBps = 20
	g.SetConfig(cfg)
	var st RiskState
	g.Init(1000, &st)

	guards := g.EntryGuards()
	ok := EntryContext{Bid: 100, Ask: 100.1, Notional: 700, TakeProfitPct: 4.9, State: &st}
	assert.NoError(t, guards.PreEntry(ok))

	wide := ok
	wide.Ask = 101
	assert.True(t, errors.Is(guards.PreEntry(wide), ErrSpreadTooWide))

	thin := ok
	thin.TakeProfitPct = 0.1
	assert.True(t, errors.Is(guards.PreEntry(thin), ErrFeeEdge))

	noQuote := ok
	noQuote.Bid = 0
	assert.True(t, errors.Is(guards.PreEntry(noQuote), ErrNoQuote))

	st.Halted = true
	assert.True(t, errors.Is(guards.PreEntry(ok), ErrHalted))
}

type stubGuard struct {
	err error
}

func (s stubGuard) PreEntry(EntryContext) error {
	return s.err
}

func TestMultiGuard(t *testing.T) {
	g := MultiGuard{
		Guards: []Guard{
			stubGuard{},                      // pass
			nil,
			stubGuard{err: ErrSpreadTooWide}, // fail
		},
	}
	if err := g.PreEntry(EntryContext{}); err == nil {
		t.Fatalf("expected error")
	}
}
