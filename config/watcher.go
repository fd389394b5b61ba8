package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc 配置文件变化后的回调，old 为上一次生效的配置
type ReloadFunc func(old, new *Config)

// Watcher 配置文件监控器
type Watcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	onReload    ReloadFunc
	mu          sync.Mutex
	current     *Config
	lastModTime time.Time
	errorChan   chan error
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string, current *Config, onReload ReloadFunc) (*Watcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件路径失败: %v", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %v", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &Watcher{
		configPath:  absPath,
		watcher:     fw,
		onReload:    onReload,
		current:     current,
		lastModTime: lastModTime,
		errorChan:   make(chan error, 10),
	}, nil
}

// Start 开始监控，监控目录以兼容编辑器的原子替换写入
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %v", err)
	}
	go w.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// Errors 重新加载错误
func (w *Watcher) Errors() <-chan error {
	return w.errorChan
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.configPath {
				continue
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) {
				// 等待写入完成
				time.Sleep(100 * time.Millisecond)
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.configPath)
	if err != nil {
		w.reportError(fmt.Errorf("获取文件信息失败: %v", err))
		return
	}
	if !info.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = info.ModTime()

	newConfig, err := LoadConfig(w.configPath)
	if err != nil {
		w.reportError(fmt.Errorf("重新加载配置失败: %v", err))
		return
	}

	old := w.current
	w.current = newConfig
	if w.onReload != nil {
		w.onReload(old, newConfig)
	}
}

func (w *Watcher) reportError(err error) {
	select {
	case w.errorChan <- err:
	default:
	}
}

// RequiresRestart 判断两份配置之间除日志级别外是否有需要重启才能生效的变化
func RequiresRestart(old, new *Config) bool {
	if old == nil || new == nil {
		return false
	}
	a, b := *old, *new
	a.System.LogLevel, b.System.LogLevel = "", ""
	return a != b
}
