package oracle

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-mm/ledger"
)

func pythAccount(price int64, conf uint64, expo int32, status uint32) []byte {
	buf := make([]byte, pythMinSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], pythMagic)
	le.PutUint32(buf[4:], 2)
	le.PutUint32(buf[8:], pythAccountPrice)
	le.PutUint32(buf[pythExpoOffset:], uint32(expo))
	le.PutUint64(buf[pythAggPriceOffset:], uint64(price))
	le.PutUint64(buf[pythAggConfOffset:], conf)
	le.PutUint32(buf[pythStatusOffset:], status)
	return buf
}

func TestStatic(t *testing.T) {
	s := Static{"SOL": 25}
	p, err := s.PriceFor(context.Background(), "sol", 0)
	require.NoError(t, err)
	assert.Equal(t, 25.0, p)

	_, err = s.PriceFor(context.Background(), "BTC", 0)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestCachedExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCached(5 * time.Second)
	c.now = func() time.Time { return now }
	c.Set("SOL", 24.5)

	p, err := c.PriceFor(context.Background(), "SOL", 0.1)
	require.NoError(t, err)
	assert.Equal(t, 24.5, p)

	now = now.Add(6 * time.Second)
	_, err = c.PriceFor(context.Background(), "SOL", 0.1)
	assert.ErrorIs(t, err, ErrNoPrice)

	_, err = c.PriceFor(context.Background(), "ETH", 0.1)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestDecodePythPrice(t *testing.T) {
	b, err := DecodePythPrice(pythAccount(2_500_000_000, 1_000_000, -8, pythStatusTrading))
	require.NoError(t, err)
	assert.InDelta(t, 25.0, b.Price, 1e-9)
	assert.InDelta(t, 0.01, b.Conf, 1e-12)

	_, err = DecodePythPrice(pythAccount(2_500_000_000, 1, -8, 2))
	assert.ErrorIs(t, err, ErrNoPrice, "halted")

	_, err = DecodePythPrice(pythAccount(-5, 1, -8, pythStatusTrading))
	assert.ErrorIs(t, err, ErrNoPrice, "negative")

	_, err = DecodePythPrice(make([]byte, 10))
	assert.ErrorIs(t, err, ErrNoPrice)

	bad := pythAccount(1, 1, 0, pythStatusTrading)
	bad[0] = 0
	_, err = DecodePythPrice(bad)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestPythThroughProvider(t *testing.T) {
	p := ledger.NewMemoryProvider()
	feed := solana.NewWallet().PublicKey()
	p.SetAccount(feed, pythAccount(2_501_000_000, 500_000, -8, pythStatusTrading))
	o := NewPyth(p, map[string]solana.PublicKey{"sol/usd": feed})

	price, err := o.PriceFor(context.Background(), "SOL/USD", 0)
	require.NoError(t, err)
	assert.InDelta(t, 25.01, price, 1e-9)

	band, err := o.BandFor(context.Background(), "SOL/USD")
	require.NoError(t, err)
	assert.InDelta(t, 0.005, band.Conf, 1e-12)

	_, err = o.PriceFor(context.Background(), "BTC/USD", 0)
	assert.ErrorIs(t, err, ErrNoPrice)

	p.SetFetchError(feed, ledger.ErrAccountNotFound)
	_, err = o.PriceFor(context.Background(), "SOL/USD", 0)
	assert.ErrorIs(t, err, ErrNoPrice)
}
