package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Trigger
		wantErr bool
	}{
		{name: "做多", in: "long\n", want: Trigger{Long: true}},
		{name: "做空大写", in: "SHORT", want: Trigger{Short: true}},
		{name: "冲突", in: "both", want: Trigger{Long: true, Short: true}},
		{name: "空文件", in: "", want: Trigger{}},
		{name: "非法内容", in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTrigger(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerHelpers(t *testing.T) {
	assert.True(t, Trigger{}.None())
	assert.True(t, Trigger{Long: true, Short: true}.Ambiguous())
	assert.Equal(t, "short", Trigger{Short: true}.String())

	got, err := Static{Long: true}.Poll(context.Background(), MarketData{})
	require.NoError(t, err)
	assert.True(t, got.Long)

	f := Func(func(ctx context.Context, md MarketData) (Trigger, error) {
		return Trigger{Long: md.Mid() > 100}, nil
	})
	got, _ = f.Poll(context.Background(), MarketData{Bid: 100, Ask: 101})
	assert.True(t, got.Long)
}

func TestFileTriggerOneShot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signal")
	require.NoError(t, os.WriteFile(path, []byte("long"), 0o644))

	ft := NewFileTrigger(path, true, nil)
	require.NoError(t, ft.Load())

	got, err := ft.Poll(context.Background(), MarketData{})
	require.NoError(t, err)
	assert.Equal(t, Trigger{Long: true}, got)

	got, _ = ft.Poll(context.Background(), MarketData{})
	assert.True(t, got.None(), "信号只消费一次")
}

func TestFileTriggerMissingFile(t *testing.T) {
	ft := NewFileTrigger(filepath.Join(t.TempDir(), "absent"), false, nil)
	require.NoError(t, ft.Load())
	got, _ := ft.Poll(context.Background(), MarketData{})
	assert.True(t, got.None())
}

func TestFileTriggerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signal")
	ft := NewFileTrigger(path, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ft.Watch(ctx, ready) }()
	<-ready

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))
	assert.Eventually(t, func() bool {
		got, _ := ft.Poll(context.Background(), MarketData{})
		return got.Short
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
