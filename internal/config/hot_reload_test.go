package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "openbook-mm/config"
	"openbook-mm/strategy"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied map[string]strategy.Params
	failFor string
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{applied: make(map[string]strategy.Params)}
}

func (r *recordingApplier) ApplyParams(name string, p strategy.Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == r.failFor {
		return errors.New("unknown strategy")
	}
	r.applied[name] = p
	return nil
}

func (r *recordingApplier) get(name string) (strategy.Params, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.applied[name]
	return p, ok
}

type recordingMetrics struct {
	mu      sync.Mutex
	results []string
}

func (m *recordingMetrics) RecordConfigReload(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *recordingMetrics) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) == 0 {
		return ""
	}
	return m.results[len(m.results)-1]
}

const configTemplate = `
env: test
ledger:
  rpcEndpoint: http://127.0.0.1:8899
  dryRun: true
strategies:
  - name: sol-usdc
    market: 8BnEgHoWFysVcuFFX7QztDmzuH8r5ZFvyP3sYwn1XTh6
    openOrders: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
    baseWallet: 4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R
    quoteWallet: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
    params:
      bidMultiplier: %v
      askMultiplier: 1.002
      bidSize: 0.5
      askSize: 0.5
      minChange: 0.002
`

func writeConfig(t *testing.T, path string, bid float64) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(configTemplate, bid)), 0o644))
}

func TestReloadAppliesParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 0.998)

	applier := newRecordingApplier()
	metrics := &recordingMetrics{}
	r, err := NewHotReloader(path, DefaultHotReloadConfig(), appconfig.Load, applier)
	require.NoError(t, err)
	defer r.Stop()
	r.SetMetrics(metrics)

	require.NoError(t, r.Reload())
	p, ok := applier.get("sol-usdc")
	require.True(t, ok)
	assert.Equal(t, strategy.Params{
		BidMultiplier: 0.998,
		AskMultiplier: 1.002,
		BidSize:       0.5,
		AskSize:       0.5,
		MinChange:     0.002,
	}, p)
	assert.Equal(t, "ok", metrics.last())
	assert.False(t, r.GetLastReloadTime().IsZero())
}

func TestReloadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// bidMultiplier 超出 (0,1)
	writeConfig(t, path, 1.5)

	applier := newRecordingApplier()
	metrics := &recordingMetrics{}
	r, err := NewHotReloader(path, DefaultHotReloadConfig(), appconfig.Load, applier)
	require.NoError(t, err)
	defer r.Stop()
	r.SetMetrics(metrics)

	require.Error(t, r.Reload())
	_, ok := applier.get("sol-usdc")
	assert.False(t, ok)
	assert.Equal(t, "invalid", metrics.last())
	assert.True(t, r.GetLastReloadTime().IsZero())
}

func TestReloadReportsUnknownStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 0.998)

	applier := newRecordingApplier()
	applier.failFor = "sol-usdc"
	metrics := &recordingMetrics{}
	r, err := NewHotReloader(path, DefaultHotReloadConfig(), appconfig.Load, applier)
	require.NoError(t, err)
	defer r.Stop()
	r.SetMetrics(metrics)

	err = r.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sol-usdc")
	assert.Equal(t, "partial", metrics.last())
}

func TestWatchPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 0.998)

	applier := newRecordingApplier()
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: true}, appconfig.Load, applier)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	writeConfig(t, path, 0.995)
	require.Eventually(t, func() bool {
		p, ok := applier.get("sol-usdc")
		return ok && p.BidMultiplier == 0.995
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCooldownThrottles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 0.998)

	metrics := &recordingMetrics{}
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: true, CooldownTime: time.Hour}, appconfig.Load, newRecordingApplier())
	require.NoError(t, err)
	defer r.Stop()
	r.SetMetrics(metrics)

	r.handleConfigChange()
	assert.Equal(t, "ok", metrics.last())
	r.handleConfigChange()
	assert.Equal(t, "throttled", metrics.last())
}

func TestDisabledReloaderDoesNotWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 0.998)

	r, err := NewHotReloader(path, HotReloadConfig{}, appconfig.Load, newRecordingApplier())
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}
