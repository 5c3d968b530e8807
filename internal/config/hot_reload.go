package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	appconfig "openbook-mm/config"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/strategy"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// ParamsApplier 接收新的报价参数（engine.Manager）
type ParamsApplier interface {
	ApplyParams(name string, p strategy.Params) error
}

// Metrics 记录热更新结果
type Metrics interface {
	RecordConfigReload(result string)
}

// LoadFunc 读取并校验配置文件
type LoadFunc func(path string) (appconfig.AppConfig, error)

// HotReloader 配置热更新器：监听配置文件，重新加载后把各策略的报价参数下发给运行中的实例。
// 只下发可热更新的参数；账户、市场、周期等变更需要重启。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	load       LoadFunc
	applier    ParamsApplier
	metrics    Metrics
	logger     *logger.Logger

	mu         sync.Mutex
	lastReload time.Time
	stopChan   chan struct{}
	doneChan   chan struct{}
	started    bool
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, load LoadFunc, applier ParamsApplier) (*HotReloader, error) {
	if load == nil {
		load = appconfig.LoadWithEnvOverrides
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		load:       load,
		applier:    applier,
		logger:     logger.NewNop(),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

func (h *HotReloader) SetLogger(l *logger.Logger) {
	if l != nil {
		h.logger = l
	}
}

func (h *HotReloader) SetMetrics(m Metrics) { h.metrics = m }

// Start 启动热更新监听。监听所在目录，编辑器以重命名方式保存时也能收到事件。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	h.logger.Info("config hot reload enabled",
		zap.String("path", h.configPath),
		zap.Duration("cooldown", h.config.CooldownTime))
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.handleConfigChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 处理配置变化，冷却期内的事件忽略
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	if time.Since(h.lastReload) < h.config.CooldownTime {
		h.mu.Unlock()
		h.record("throttled")
		return
	}
	h.mu.Unlock()

	if err := h.Reload(); err != nil {
		h.logger.Error("config reload failed", zap.String("path", h.configPath), zap.Error(err))
	}
}

// Reload 立即重新加载并下发参数。加载或校验失败时不下发任何参数。
func (h *HotReloader) Reload() error {
	cfg, err := h.load(h.configPath)
	if err != nil {
		h.record("invalid")
		return fmt.Errorf("reload %s: %w", h.configPath, err)
	}

	var errs error
	applied := 0
	for _, s := range cfg.Strategies {
		if h.applier == nil {
			break
		}
		if err := h.applier.ApplyParams(s.Name, ParamsFromConfig(s.Params)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply %s: %w", s.Name, err))
			continue
		}
		applied++
	}

	h.mu.Lock()
	h.lastReload = time.Now()
	h.mu.Unlock()

	if errs != nil {
		h.record("partial")
		return errs
	}
	h.record("ok")
	h.logger.Info("config reloaded", zap.Int("strategies", applied))
	return nil
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

func (h *HotReloader) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordConfigReload(result)
	}
}

// ParamsFromConfig 配置到策略参数的转换
func ParamsFromConfig(p appconfig.ParamsConfig) strategy.Params {
	return strategy.Params{
		BidMultiplier: p.BidMultiplier,
		AskMultiplier: p.AskMultiplier,
		BidSize:       p.BidSize,
		AskSize:       p.AskSize,
		MinChange:     p.MinChange,
	}
}
