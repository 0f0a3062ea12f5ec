package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-engine/order"
)

func TestNewLadder(t *testing.T) {
	_, err := NewLadder([]float64{0.7, 0.75, 0.8})
	require.NoError(t, err)

	for name, fr := range map[string][]float64{
		"空阶梯":  nil,
		"非递增":  {0.7, 0.7},
		"递减":   {0.8, 0.75},
		"超过一":  {0.5, 1.2},
		"非正比例": {0, 0.5},
	} {
		_, err := NewLadder(fr)
		assert.Error(t, err, name)
	}
}

func TestNextStageTargetStaging(t *testing.T) {
	l := Ladder{0.70, 0.75, 0.80}

	delta, ok := NextStageTarget(l, 1000, 0)
	require.True(t, ok)
	assert.InDelta(t, 700, delta, 1e-9)

	// 第一级成交后只补到 750，而不是 800
	delta, ok = NextStageTarget(l, 1000, 700)
	require.True(t, ok)
	assert.InDelta(t, 50, delta, 1e-9)

	// 取整误差视为已到达
	delta, ok = NextStageTarget(l, 1000, 699.95)
	require.True(t, ok)
	assert.InDelta(t, 50.05, delta, 1e-9)

	delta, ok = NextStageTarget(l, 1000, 750)
	require.True(t, ok)
	assert.InDelta(t, 50, delta, 1e-9)

	_, ok = NextStageTarget(l, 1000, 800)
	assert.False(t, ok)
	_, ok = NextStageTarget(l, 1000, 950)
	assert.False(t, ok)
	_, ok = NextStageTarget(l, 0, 0)
	assert.False(t, ok)
	assert.InDelta(t, 800, l.Ceiling(1000), 1e-9)
}

func TestStageToleranceBoundary(t *testing.T) {
	l := Ladder{0.70, 0.75, 0.80}
	tests := []struct {
		name    string
		current float64
		want    float64
	}{
		{"容差内视为已到达", 699.5, 50.5},
		{"低于容差下沿补齐本级", 699.2, 0.8},
		{"取整后略低于目标", 699.98, 50.02},
		{"超过目标", 700.01, 49.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, ok := NextStageTarget(l, 1000, tt.current)
			require.True(t, ok)
			assert.InDelta(t, tt.want, delta, 1e-9)
		})
	}
}

func TestToQuantity(t *testing.T) {
	c := order.SymbolConstraints{StepSize: 0.001, MinQty: 0.001, MinNotional: 10}

	q, err := ToQuantity(700, 100, c)
	require.NoError(t, err)
	assert.Equal(t, 7.0, q)

	q, err = ToQuantity(333.33, 100, c)
	require.NoError(t, err)
	assert.Equal(t, 3.333, q)

	// 低于最小名义时抬升
	q, err = ToQuantity(5, 100, c)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, q*100, 10.0)

	_, err = ToQuantity(0.05, 100, c)
	assert.True(t, errors.Is(err, ErrSizing))
	_, err = ToQuantity(100, 0, c)
	assert.True(t, errors.Is(err, ErrSizing))
}
