package order

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPrepareAndTrack(t *testing.T) {
	m := NewManager()
	o, err := m.Prepare(Order{Symbol: "BTCUSDT", Side: SideBuy, Price: 100, Quantity: 1, Intent: IntentEntry})
	require.NoError(t, err)
	assert.Equal(t, TypeLimit, o.Type)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, strings.HasPrefix(o.ClientID, "pen-"))

	o.ID = "1001"
	m.Track(o)
	assert.Len(t, m.Active(), 1)

	require.NoError(t, m.Update("1001", StatusPartial, 0.4, 100))
	require.NoError(t, m.Update("1001", StatusFilled, 1, 100))
	got, ok := m.Get("1001")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.FilledQty)
	assert.Empty(t, m.Active())

	// 终态之后不能撤单
	assert.Error(t, m.Update("1001", StatusCanceled, 1, 0))
	assert.ErrorIs(t, m.Update("nope", StatusFilled, 0, 0), ErrUnknownOrder)
	assert.Equal(t, 1, m.Prune())
}

func TestManagerConstraint(t *testing.T) {
	m := NewManager()
	m.SetConstraints(SymbolConstraints{
		Symbol:   "ETHUSDC",
		TickSize: 0.01,
		StepSize: 0.001,
		MinQty:   0.001,
	})
	if _, err := m.Prepare(Order{Symbol: "ETHUSDC", Price: 100.01, Quantity: 0.002}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, err := m.Prepare(Order{Symbol: "ETHUSDC", Price: 100.015, Quantity: 0.002}); err == nil {
		t.Fatalf("expected ticksize error")
	}
	if _, err := m.Prepare(Order{Symbol: "ETHUSDC", Type: TypeMarket, Quantity: 0.002}); err != nil {
		t.Fatalf("market orders skip price checks: %v", err)
	}
}

func TestManagerFail(t *testing.T) {
	m := NewManager()
	m.Track(Order{ID: "x"})
	m.Fail("x", assert.AnError)
	got, _ := m.Get("x")
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, assert.AnError.Error(), got.LastError)
}

func TestNewClientIDUnique(t *testing.T) {
	a, b := NewClientID(IntentExit), NewClientID(IntentExit)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "pex-"))
	assert.LessOrEqual(t, len(a), 36)
}

func TestNewClientIDPrefix(t *testing.T) {
	tests := []struct {
		name   string
		intent Intent
		want   string
	}{
		{"开仓", IntentEntry, "pen-"},
		{"平仓", IntentExit, "pex-"},
		{"未标注", "", "pe-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewClientID(tt.intent)
			assert.True(t, strings.HasPrefix(id, tt.want), id)
			assert.LessOrEqual(t, len(id), 36)
		})
	}
	assert.NotEqual(t, NewClientID(IntentEntry)[:4], NewClientID(IntentExit)[:4])
}
