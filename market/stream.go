package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
)

// StreamConfig 账户推送连接配置
type StreamConfig struct {
	Endpoint     string
	Commitment   rpc.CommitmentType
	MaxRetries   int
	RetryBackoff time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// StreamMetrics is satisfied by *monitor.Monitor.
type StreamMetrics interface {
	RecordWSConnection()
	RecordWSDisconnect()
	RecordStreamMessage()
}

// AccountStream 通过 accountSubscribe 订阅订单簿账户，解码后写入缓存，含自动重连。
type AccountStream struct {
	cfg     StreamConfig
	cache   *OrderBookCache
	metrics StreamMetrics
	logger  *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	watched map[solana.PublicKey]struct{}
	nextID  uint64
	pending map[uint64]solana.PublicKey // request id -> address
	subs    map[uint64]solana.PublicKey // subscription id -> address

	cancel       context.CancelFunc
	done         chan struct{}
	onFatalError func(error)
}

func NewAccountStream(cfg StreamConfig, cache *OrderBookCache, metrics StreamMetrics, log *logger.Logger) *AccountStream {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentProcessed
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &AccountStream{
		cfg:     cfg,
		cache:   cache,
		metrics: metrics,
		logger:  log.Component("account_stream"),
		watched: make(map[solana.PublicKey]struct{}),
		pending: make(map[uint64]solana.PublicKey),
		subs:    make(map[uint64]solana.PublicKey),
	}
}

// SetFatalErrorHandler 重连次数耗尽时回调
func (s *AccountStream) SetFatalErrorHandler(fn func(error)) {
	s.onFatalError = fn
}

// Start 启动后台连接
func (s *AccountStream) Start(ctx context.Context) error {
	if s.cfg.Endpoint == "" {
		return errors.New("account stream: endpoint required")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runWS(ctx)
	return nil
}

// Stop 断开连接并等待后台goroutine退出
func (s *AccountStream) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

// Watch 订阅账户；重复调用无副作用
func (s *AccountStream) Watch(address solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[address]; ok {
		return
	}
	s.watched[address] = struct{}{}
	if s.conn != nil {
		if err := s.subscribeLocked(address); err != nil {
			s.logger.Warn("subscribe failed", zap.Stringer("address", address), zap.Error(err))
		}
	}
}

// runWS 连接并自动重连
func (s *AccountStream) runWS(ctx context.Context) {
	defer close(s.done)
	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.Endpoint, nil)
		if err != nil {
			if retries >= s.cfg.MaxRetries {
				fatalErr := fmt.Errorf("account stream reconnection failed after %d retries: %w", s.cfg.MaxRetries, err)
				s.logger.Error("account stream gave up", zap.Error(fatalErr))
				if s.onFatalError != nil {
					s.onFatalError(fatalErr)
				}
				return
			}
			retries++
			backoff := time.Duration(retries) * s.cfg.RetryBackoff
			s.logger.Warn("ws dial failed", zap.Int("retry", retries), zap.Duration("backoff", backoff), zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		for addr := range s.watched {
			if err := s.subscribeLocked(addr); err != nil {
				s.logger.Warn("subscribe failed", zap.Stringer("address", addr), zap.Error(err))
			}
		}
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordWSConnection()
		}
		s.logger.Info("account stream connected", zap.String("endpoint", s.cfg.Endpoint))
		retries = 0

		pingDone := make(chan struct{})
		go s.pingLoop(conn, pingDone)
		s.readLoop(conn)
		close(pingDone)

		s.mu.Lock()
		s.conn = nil
		s.pending = make(map[uint64]solana.PublicKey)
		s.subs = make(map[uint64]solana.PublicKey)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordWSDisconnect()
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("account stream disconnected, reconnecting")
		if !sleepCtx(ctx, s.cfg.RetryBackoff) {
			return
		}
	}
}

func (s *AccountStream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("ws read err", zap.Error(err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(msg)
	}
}

func (s *AccountStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *uint64          `json:"id"`
	Result *json.RawMessage `json:"result"`
	Method string           `json:"method"`
	// 通知体沿用 solana-go ws 客户端的结果类型，data 由 rpc.DataBytesOrJSON 解码
	Params *struct {
		Subscription uint64           `json:"subscription"`
		Result       ws.AccountResult `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *AccountStream) subscribeLocked(address solana.PublicKey) error {
	s.nextID++
	id := s.nextID
	s.pending[id] = address
	return s.conn.WriteJSON(subscribeRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []interface{}{
			address.String(),
			map[string]string{"encoding": "base64", "commitment": string(s.cfg.Commitment)},
		},
	})
}

// handleMessage 处理订阅确认与账户通知
func (s *AccountStream) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("bad ws message", zap.Error(err))
		return
	}

	if msg.ID != nil {
		s.mu.Lock()
		addr, ok := s.pending[*msg.ID]
		delete(s.pending, *msg.ID)
		if ok && msg.Error == nil && msg.Result != nil {
			var subID uint64
			if err := json.Unmarshal(*msg.Result, &subID); err == nil {
				s.subs[subID] = addr
			}
		}
		s.mu.Unlock()
		if msg.Error != nil {
			s.logger.Warn("subscription rejected", zap.Stringer("address", addr), zap.String("error", msg.Error.Message))
		}
		return
	}

	if msg.Method != "accountNotification" || msg.Params == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordStreamMessage()
	}
	s.mu.Lock()
	addr, ok := s.subs[msg.Params.Subscription]
	s.mu.Unlock()
	if !ok {
		return
	}
	res := msg.Params.Result
	if res.Value.Data == nil {
		return
	}
	data := res.Value.Data.GetBinary()
	if len(data) == 0 {
		s.logger.Warn("account payload not binary", zap.Stringer("address", addr))
		return
	}
	book, err := dex.DecodeOrderBook(data, s.cache.Depth())
	if err != nil {
		s.logger.Warn("pushed book did not decode", zap.Stringer("address", addr), zap.Error(err))
		return
	}
	book.Address = addr
	book.Slot = res.Context.Slot
	s.cache.Put(book)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
