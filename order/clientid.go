package order

import (
	"crypto/md5"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// ClientIDGenerator 为单个策略实例生成 client order id。
// id = md5(base || counter) 的前 8 字节，保证非零；同一 base 与 offset 下序列可复现。
type ClientIDGenerator struct {
	mu   sync.Mutex
	base uuid.UUID
	next uint64
}

// NewClientIDGenerator 以实例 uuid 为 base 创建生成器，offset 为起始计数。
func NewClientIDGenerator(base uuid.UUID, offset uint64) *ClientIDGenerator {
	return &ClientIDGenerator{base: base, next: offset}
}

// Offset 返回下一次使用的计数
func (g *ClientIDGenerator) Offset() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// Next 返回下一个非零 id
func (g *ClientIDGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		id := g.derive(g.next)
		g.next++
		if id != 0 {
			return id
		}
	}
}

func (g *ClientIDGenerator) derive(n uint64) uint64 {
	var buf [16 + 8]byte
	copy(buf[:16], g.base[:])
	binary.BigEndian.PutUint64(buf[16:], n)
	sum := md5.Sum(buf[:])
	return binary.LittleEndian.Uint64(sum[:8])
}
