package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"openbook-mm/infrastructure/logger"
	"openbook-mm/strategy"
)

var (
	ErrDuplicateName   = errors.New("engine: duplicate strategy name")
	ErrUnknownStrategy = errors.New("engine: unknown strategy")
)

// EngineState 引擎状态
type EngineState int

const (
	StateIdle EngineState = iota
	StateRunning
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Manager 管理全部做市实例：注册、启动、停止、查询与参数下发。
// 各实例互不协调，各自在自己的 goroutine 中运行。
type Manager struct {
	logger *logger.Logger

	mu     sync.RWMutex
	state  EngineState
	ctx    context.Context
	order  []uuid.UUID
	byID   map[uuid.UUID]strategy.Strategy
	byName map[string]uuid.UUID
}

func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		logger: log,
		state:  StateIdle,
		byID:   make(map[uuid.UUID]strategy.Strategy),
		byName: make(map[string]uuid.UUID),
	}
}

// Add 注册策略。引擎运行中注册的策略立即启动。
func (m *Manager) Add(s strategy.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[s.Name()]; ok {
		return fmt.Errorf("%s: %w", s.Name(), ErrDuplicateName)
	}
	if m.state == StateRunning {
		if err := s.Start(m.ctx); err != nil {
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}
	m.order = append(m.order, s.ID())
	m.byID[s.ID()] = s
	m.byName[s.Name()] = s.ID()
	m.logger.Info("strategy registered",
		zap.String("name", s.Name()),
		zap.String("id", s.ID().String()))
	return nil
}

func (m *Manager) Get(id uuid.UUID) (strategy.Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	return s, ok
}

func (m *Manager) GetByName(name string) (strategy.Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.byID[id], true
}

// List 按注册顺序返回各实例状态
func (m *Manager) List() []strategy.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]strategy.Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id].Status())
	}
	return out
}

// ApplyParams 向指定实例下发参数，下一个 tick 生效
func (m *Manager) ApplyParams(name string, p strategy.Params) error {
	s, ok := m.GetByName(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownStrategy)
	}
	return s.ApplyParams(p)
}

func (m *Manager) State() EngineState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start 启动全部实例。任一失败时停止已启动的实例并返回错误。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning {
		return fmt.Errorf("engine already started (state: %s)", m.state)
	}
	m.logger.Info("engine starting", zap.Int("strategies", len(m.order)))

	started := make([]strategy.Strategy, 0, len(m.order))
	for _, id := range m.order {
		s := m.byID[id]
		if err := s.Start(ctx); err != nil {
			var errs error = fmt.Errorf("start %s: %w", s.Name(), err)
			for i := len(started) - 1; i >= 0; i-- {
				errs = multierr.Append(errs, started[i].Stop())
			}
			return errs
		}
		started = append(started, s)
	}
	m.ctx = ctx
	m.state = StateRunning
	m.logger.Info("engine started")
	return nil
}

// Stop 并行停止全部实例，等待进行中的 tick 完成，汇总错误
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopped
	all := make([]strategy.Strategy, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.byID[id])
	}
	m.mu.Unlock()

	m.logger.Info("engine stopping...")
	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs error
	)
	for _, s := range all {
		wg.Add(1)
		go func(s strategy.Strategy) {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				emu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", s.Name(), err))
				emu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	m.logger.Info("engine stopped")
	return errs
}
