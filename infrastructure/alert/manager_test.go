package alert

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"openbook-mm/infrastructure/logger"
)

// mockChannel 记录收到的告警
type mockChannel struct {
	name   string
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *mockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func TestSendAlert(t *testing.T) {
	mock := &mockChannel{name: "mock"}
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	if err := mgr.SendWarning("strategy sol-usdc tick failed", map[string]interface{}{"error": "rpc"}); err != nil {
		t.Fatalf("SendWarning failed: %v", err)
	}
	if mock.count() != 1 {
		t.Fatalf("expected 1 alert, got %d", mock.count())
	}
	a := mock.alerts[0]
	if a.Level != LevelWarning {
		t.Errorf("level = %s, want WARNING", a.Level)
	}
	if a.Fields["error"] != "rpc" {
		t.Errorf("field error = %v, want rpc", a.Fields["error"])
	}
	if a.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if names := mgr.GetChannels(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("channels = %v", names)
	}
}

func TestThrottleAndClear(t *testing.T) {
	mock := &mockChannel{name: "mock"}
	mgr := NewManager([]Channel{mock}, time.Hour)

	for i := 0; i < 3; i++ {
		_ = mgr.SendError("submit failed", nil)
	}
	if mock.count() != 1 {
		t.Fatalf("throttled sends = %d, want 1", mock.count())
	}

	// 不同级别是不同的 key
	_ = mgr.SendCritical("submit failed", nil)
	if mock.count() != 2 {
		t.Fatalf("sends = %d, want 2", mock.count())
	}

	mgr.Clear(LevelError, "submit failed")
	_ = mgr.SendError("submit failed", nil)
	if mock.count() != 3 {
		t.Fatalf("sends after clear = %d, want 3", mock.count())
	}
}

func TestThrottlerInterval(t *testing.T) {
	th := NewThrottler(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	th.now = func() time.Time { return now }

	if !th.Allow("k") {
		t.Fatal("first call should pass")
	}
	if th.Allow("k") {
		t.Fatal("second call inside interval should be throttled")
	}
	now = now.Add(time.Minute)
	if !th.Allow("k") {
		t.Fatal("call after interval should pass")
	}
}

func TestAllChannelsFail(t *testing.T) {
	bad := &mockChannel{name: "bad", err: errors.New("down")}
	good := &mockChannel{name: "good"}

	mgr := NewManager([]Channel{bad}, 0)
	if err := mgr.SendError("x", nil); err == nil {
		t.Fatal("expected error when every channel fails")
	}

	mgr.AddChannel(good)
	if err := mgr.SendError("y", nil); err != nil {
		t.Fatalf("one healthy channel should be enough: %v", err)
	}
}

func TestLogChannelLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ch := NewLogChannel("log", logger.Wrap(zap.New(core)))

	_ = ch.Send(Alert{Level: LevelWarning, Message: "w", Fields: map[string]interface{}{"strategy": "a"}})
	_ = ch.Send(Alert{Level: LevelCritical, Message: "c"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["strategy"] != "a" {
		t.Errorf("unexpected warning entry: %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Errorf("critical should log at error, got %s", entries[1].Level)
	}
}
