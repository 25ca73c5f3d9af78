package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"fnobot/logger"
)

// Watcher 配置文件监控器：文件变更后热加载风险预算
// 仅 risk_limits 段支持热更新，其余变更需重启生效
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	updateChan chan *Config
	mu         sync.Mutex
	isWatching bool
	lastReload time.Time
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		configPath: configPath,
		watcher:    fw,
		updateChan: make(chan *Config, 1),
	}, nil
}

// Updates 返回配置更新通道
func (w *Watcher) Updates() <-chan *Config {
	return w.updateChan
}

// Start 开始监控配置文件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控配置文件所在目录（编辑器原子写会替换文件本身）
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}
	w.isWatching = true

	go w.watchLoop(ctx)
	logger.Info("✅ 配置热加载已启动: %s", w.configPath)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	base := filepath.Base(w.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}

// reload 重新加载配置（带去抖，避免编辑器多次写入触发重复加载）
func (w *Watcher) reload() {
	w.mu.Lock()
	if time.Since(w.lastReload) < time.Second {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		// 新配置非法时保持现有配置运行
		logger.Warn("⚠️ 配置热加载失败，保持旧配置: %v", err)
		return
	}

	select {
	case w.updateChan <- cfg:
		logger.Info("🔄 配置已热加载: %s", w.configPath)
	default:
		logger.Warn("⚠️ 配置更新通道已满，丢弃本次热加载")
	}
}
