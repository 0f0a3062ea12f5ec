package signals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ParseTrigger 解析 "long" / "short" / "both" / "none"（空内容视为 none）。
func ParseTrigger(s string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "flat":
		return Trigger{}, nil
	case "long", "buy":
		return Trigger{Long: true}, nil
	case "short", "sell":
		return Trigger{Short: true}, nil
	case "both":
		return Trigger{Long: true, Short: true}, nil
	}
	return Trigger{}, fmt.Errorf("unknown trigger %q", s)
}

// FileTrigger 外部进程写入信号文件，fsnotify 监听变化。
// OneShot 时信号被 Poll 读取一次后清除，避免同一信号重复开仓。
type FileTrigger struct {
	Path    string
	OneShot bool

	log     *zap.Logger
	mu      sync.Mutex
	current Trigger
	pending bool
}

func NewFileTrigger(path string, oneShot bool, log *zap.Logger) *FileTrigger {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileTrigger{Path: path, OneShot: oneShot, log: log}
}

// Load 立即读取信号文件；文件不存在视为无信号。
func (f *FileTrigger) Load() error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			f.set(Trigger{})
			return nil
		}
		return err
	}
	t, err := ParseTrigger(string(raw))
	if err != nil {
		return err
	}
	f.set(t)
	return nil
}

func (f *FileTrigger) set(t Trigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
	f.pending = !t.None()
}

// Poll 返回最新信号。
func (f *FileTrigger) Poll(ctx context.Context, md MarketData) (Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OneShot {
		if !f.pending {
			return Trigger{}, nil
		}
		f.pending = false
	}
	return f.current, nil
}

// Watch 监听信号文件所在目录，直到 ctx 结束。ready 非 nil 时在监听建立后关闭。
func (f *FileTrigger) Watch(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// 监听目录以兼容原子替换（rename）写入
	if err := w.Add(filepath.Dir(f.Path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.Path, err)
	}
	if err := f.Load(); err != nil {
		f.log.Warn("signal file unreadable", zap.String("path", f.Path), zap.Error(err))
	}
	if ready != nil {
		close(ready)
	}

	target := filepath.Clean(f.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := f.Load(); err != nil {
				f.log.Warn("signal file unreadable", zap.String("path", f.Path), zap.Error(err))
				continue
			}
			f.log.Info("signal file updated", zap.String("path", f.Path))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("signal watcher error", zap.Error(err))
		}
	}
}
