package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MemoryProvider 内存版Provider，测试与回放使用
type MemoryProvider struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
	slot     uint64

	// 注入
	latency   time.Duration
	fetchErr  map[solana.PublicKey]error
	submitErr error
	gate      <-chan struct{}

	// 统计
	fetches   map[solana.PublicKey]int
	submitted []Bundle
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		accounts: make(map[solana.PublicKey]Account),
		fetchErr: make(map[solana.PublicKey]error),
		fetches:  make(map[solana.PublicKey]int),
	}
}

// SetAccount 写入账户数据，slot 自增
func (m *MemoryProvider) SetAccount(address solana.PublicKey, data []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot++
	m.accounts[address] = Account{Address: address, Data: append([]byte(nil), data...), Slot: m.slot}
	return m.slot
}

// SetAccountAtSlot 按指定slot写入，用于模拟落后的节点
func (m *MemoryProvider) SetAccountAtSlot(address solana.PublicKey, data []byte, slot uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[address] = Account{Address: address, Data: append([]byte(nil), data...), Slot: slot}
}

func (m *MemoryProvider) SetFetchError(address solana.PublicKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fetchErr, address)
		return
	}
	m.fetchErr[address] = err
}

func (m *MemoryProvider) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// SetLatency 每次调用的模拟延迟，受ctx取消约束
func (m *MemoryProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// SetGate 设置后FetchAccount会阻塞直到gate可读或被关闭
func (m *MemoryProvider) SetGate(gate <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

func (m *MemoryProvider) FetchAccount(ctx context.Context, address solana.PublicKey, _ rpc.CommitmentType) (*Account, error) {
	m.mu.Lock()
	m.fetches[address]++
	latency, gate := m.latency, m.gate
	m.mu.Unlock()

	if err := m.wait(ctx, latency, gate); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fetchErr[address]; err != nil {
		return nil, err
	}
	acc, ok := m.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	acc.Data = append([]byte(nil), acc.Data...)
	return &acc, nil
}

func (m *MemoryProvider) SubmitTransaction(ctx context.Context, bundle Bundle) (solana.Signature, error) {
	m.mu.RLock()
	latency := m.latency
	m.mu.RUnlock()
	if err := m.wait(ctx, latency, nil); err != nil {
		return solana.Signature{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return solana.Signature{}, m.submitErr
	}
	m.submitted = append(m.submitted, bundle)
	var sig solana.Signature
	sig[0] = byte(len(m.submitted))
	return sig, nil
}

func (m *MemoryProvider) wait(ctx context.Context, latency time.Duration, gate <-chan struct{}) error {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchCount 某账户被读取的次数
func (m *MemoryProvider) FetchCount(address solana.PublicKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches[address]
}

// TotalFetches 全部读取次数
func (m *MemoryProvider) TotalFetches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, n := range m.fetches {
		total += n
	}
	return total
}

// Submitted 返回已提交的bundle副本
func (m *MemoryProvider) Submitted() []Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Bundle(nil), m.submitted...)
}
