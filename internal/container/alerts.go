package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"openbook-mm/infrastructure/alert"
	"openbook-mm/strategy"
)

// statusSource 由 engine.Manager 实现
type statusSource interface {
	List() []strategy.Status
}

// strategyWatch 定期检查策略状态并发出告警：
// tick 出错告 WARNING，恢复后解除限流；引擎运行中某个实例停止告 CRITICAL。
type strategyWatch struct {
	source   statusSource
	alerts   *alert.Manager
	interval time.Duration

	mu       sync.Mutex
	lastErrs map[string]int64
	cancel   context.CancelFunc
	done     chan struct{}
}

func newStrategyWatch(source statusSource, alerts *alert.Manager, interval time.Duration) *strategyWatch {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &strategyWatch{
		source:   source,
		alerts:   alerts,
		interval: interval,
		lastErrs: make(map[string]int64),
	}
}

func (w *strategyWatch) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
	return nil
}

func (w *strategyWatch) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}

func (w *strategyWatch) check() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, st := range w.source.List() {
		if !st.Running {
			_ = w.alerts.SendCritical(fmt.Sprintf("strategy %s not running", st.Name), map[string]interface{}{
				"strategy": st.Name,
				"state":    st.State.String(),
			})
			continue
		}
		msg := fmt.Sprintf("strategy %s tick failed", st.Name)
		last, seen := w.lastErrs[st.Name]
		switch {
		case st.TickErrors > last && st.LastTickErr != "":
			_ = w.alerts.SendWarning(msg, map[string]interface{}{
				"strategy":    st.Name,
				"error":       st.LastTickErr,
				"tick_errors": st.TickErrors,
			})
		case seen && st.LastTickErr == "":
			w.alerts.Clear(alert.LevelWarning, msg)
		}
		w.lastErrs[st.Name] = st.TickErrors
	}
}
