package container

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"openbook-mm/config"
	"openbook-mm/decimals"
	"openbook-mm/dex"
	"openbook-mm/infrastructure/alert"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/infrastructure/monitor"
	internalconfig "openbook-mm/internal/config"
	"openbook-mm/internal/engine"
	"openbook-mm/ledger"
	"openbook-mm/market"
	"openbook-mm/oracle"
	"openbook-mm/order"
	"openbook-mm/strategy"
)

// Options 命令行覆盖项
type Options struct {
	DryRun      bool
	MetricsAddr string
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string
	opts       Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 链上访问
	ledger   ledger.Provider
	owner    solana.PublicKey
	resolver *decimals.Resolver
	books    *market.OrderBookCache
	stream   *market.AccountStream
	loader   *market.Loader
	oracle   oracle.PriceOracle

	// 策略
	engine   *engine.Manager
	reloader *internalconfig.HotReloader

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg, configPath, opts), nil
}

// NewFromConfig 使用已加载的配置
func NewFromConfig(cfg config.AppConfig, configPath string, opts Options) *Container {
	if opts.DryRun {
		cfg.Ledger.DryRun = true
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		opts:       opts,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildLedger(); err != nil {
		return fmt.Errorf("build ledger failed: %w", err)
	}
	if err := c.buildMarketData(); err != nil {
		return fmt.Errorf("build market data failed: %w", err)
	}
	if err := c.buildOracle(); err != nil {
		return fmt.Errorf("build oracle failed: %w", err)
	}
	if err := c.buildStrategies(); err != nil {
		return fmt.Errorf("build strategies failed: %w", err)
	}
	if err := c.buildHotReload(); err != nil {
		return fmt.Errorf("build hot reload failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.Int("strategies", len(c.cfg.Strategies)),
		zap.Bool("dry_run", c.cfg.Ledger.DryRun))
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := logger.Config{
		Level:      c.cfg.Log.Level,
		Outputs:    c.cfg.Log.Outputs,
		OutputFile: c.cfg.Log.OutputFile,
		ErrorFile:  c.cfg.Log.ErrorFile,
		Format:     c.cfg.Log.Format,
	}

	var err error
	if c.logger == nil {
		c.logger, err = logger.New(logCfg)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}

	c.monitor = monitor.New(monitor.Config{
		Namespace: c.cfg.Metrics.Namespace,
		Subsystem: c.cfg.Metrics.Subsystem,
	})

	c.alerts = alert.NewManager(
		[]alert.Channel{alert.NewLogChannel("log", c.logger)},
		time.Duration(c.cfg.Alert.ThrottleMs)*time.Millisecond,
	)

	c.logger.Info("infrastructure built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildLedger() error {
	lc := c.cfg.Ledger
	var signers []solana.PrivateKey
	if lc.KeypairPath != "" {
		key, err := ledger.LoadSigner(lc.KeypairPath)
		if err != nil {
			return err
		}
		signers = append(signers, key)
		c.owner = key.PublicKey()
	} else {
		// 只允许 dryRun：没有真实签名者时用临时 owner 组装交易
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return fmt.Errorf("ephemeral owner: %w", err)
		}
		c.owner = key.PublicKey()
		c.logger.Warn("no keypair configured, using ephemeral owner for dry run",
			zap.Stringer("owner", c.owner))
	}

	rpcProvider, err := ledger.NewRPCProvider(ledger.RPCConfig{
		Endpoint:          lc.RPCEndpoint,
		RequestsPerSecond: lc.RequestsPerSecond,
		Burst:             lc.Burst,
		SkipPreflight:     lc.SkipPreflight,
		MaxRetries:        lc.MaxRetries,
		Confirm:           lc.Confirm,
		ConfirmInterval:   time.Duration(lc.ConfirmIntervalMs) * time.Millisecond,
		Commitment:        c.commitment(),
	}, signers, c.logger)
	if err != nil {
		return err
	}

	var p ledger.Provider = rpcProvider
	if lc.DryRun {
		p = ledger.NewDryRun(p, c.logger)
	}
	c.ledger = ledger.NewInstrumented(p, c.monitor)

	c.logger.Info("ledger built",
		zap.String("endpoint", lc.RPCEndpoint),
		zap.Stringer("owner", c.owner),
		zap.String("commitment", lc.Commitment))
	return nil
}

func (c *Container) buildMarketData() error {
	c.resolver = decimals.New(c.ledger,
		decimals.WithLookupInterval(time.Duration(c.cfg.Decimals.LookupIntervalMs)*time.Millisecond),
		decimals.WithLookupTimeout(c.cfg.Ledger.CallTimeout()),
		decimals.WithMetrics(c.monitor),
		decimals.WithLogger(c.logger),
	)
	for mint, d := range c.cfg.Decimals.Seed {
		key, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return fmt.Errorf("decimals seed %s: %w", mint, err)
		}
		c.resolver.Seed(key, d)
	}

	// depth 0 表示保留整侧订单簿，挂单识别需要看到全部订单
	depth := c.cfg.Cache.Depth
	if depth == 0 {
		depth = -1
	}
	c.books = market.NewOrderBookCache(c.ledger, market.CacheConfig{
		TTL:          time.Duration(c.cfg.Cache.TTLMs) * time.Millisecond,
		Depth:        depth,
		Commitment:   c.commitment(),
		FetchTimeout: c.cfg.Ledger.CallTimeout(),
	}, market.WithCacheMetrics(c.monitor), market.WithCacheLogger(c.logger))

	var loaderOpts []market.LoaderOption
	loaderOpts = append(loaderOpts, market.WithLoaderLogger(c.logger))
	if c.cfg.Cache.Stream {
		c.stream = market.NewAccountStream(market.StreamConfig{
			Endpoint:   c.cfg.Ledger.WSEndpoint,
			Commitment: c.commitment(),
		}, c.books, c.monitor, c.logger)
		loaderOpts = append(loaderOpts, market.WithWatcher(c.stream))
	}
	c.loader = market.NewLoader(c.ledger, c.books, c.resolver, loaderOpts...)
	return nil
}

func (c *Container) buildOracle() error {
	oc := c.cfg.Oracle
	switch strings.ToLower(oc.Kind) {
	case "static":
		c.oracle = oracle.Static(normalizeSymbols(oc.StaticPrices))
	case "pyth":
		feeds := make(map[string]solana.PublicKey, len(oc.PythFeeds))
		for sym, addr := range oc.PythFeeds {
			key, err := solana.PublicKeyFromBase58(addr)
			if err != nil {
				return fmt.Errorf("pyth feed %s: %w", sym, err)
			}
			feeds[sym] = key
		}
		c.oracle = oracle.NewPyth(c.ledger, feeds)
	default:
		return nil
	}
	c.logger.Info("oracle built", zap.String("kind", oc.Kind))
	return nil
}

func (c *Container) buildStrategies() error {
	c.engine = engine.NewManager(c.logger)
	factory := strategy.NewFactory(strategy.Deps{
		Loader:    c.loader,
		Submitter: c.ledger,
		Logger:    c.logger,
		Metrics:   c.monitor,
	}, c.oracle)

	programID := dex.DefaultProgramID
	if c.cfg.Dex.ProgramID != "" {
		programID = solana.MustPublicKeyFromBase58(c.cfg.Dex.ProgramID)
	}

	for _, sc := range c.cfg.Strategies {
		cfg, err := strategyConfig(sc, programID, c.owner, c.cfg.Ledger.CallTimeout())
		if err != nil {
			return err
		}
		mode, err := strategy.ParsePricingMode(sc.Pricing)
		if err != nil {
			return err
		}
		s, err := factory.Create(mode, cfg, strategy.OracleConfig{
			Symbol:   sc.Symbol,
			Notional: sc.Notional,
			UseBand:  sc.UseBand,
			Timeout:  c.cfg.Ledger.CallTimeout(),
		})
		if err != nil {
			return fmt.Errorf("strategy %s: %w", sc.Name, err)
		}
		if err := c.engine.Add(s); err != nil {
			return err
		}
		c.logger.Info("strategy registered",
			zap.String("strategy", sc.Name),
			zap.String("market", sc.Market),
			zap.String("pricing", string(mode)))
	}
	return nil
}

func (c *Container) buildHotReload() error {
	if !c.cfg.HotReload.Enabled || c.configPath == "" {
		return nil
	}
	r, err := internalconfig.NewHotReloader(c.configPath, internalconfig.HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Duration(c.cfg.HotReload.CooldownMs) * time.Millisecond,
	}, config.LoadWithEnvOverrides, c.engine)
	if err != nil {
		return err
	}
	r.SetLogger(c.logger.Component("hot_reload"))
	r.SetMetrics(c.monitor)
	c.reloader = r
	return nil
}

// strategyConfig 配置到策略实例的转换
func strategyConfig(sc config.StrategyConfig, programID, owner solana.PublicKey, callTimeout time.Duration) (strategy.Config, error) {
	keys := map[string]string{
		"market":      sc.Market,
		"openOrders":  sc.OpenOrders,
		"baseWallet":  sc.BaseWallet,
		"quoteWallet": sc.QuoteWallet,
	}
	parsed := make(map[string]solana.PublicKey, len(keys))
	for field, v := range keys {
		k, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return strategy.Config{}, fmt.Errorf("strategy %s %s: %w", sc.Name, field, err)
		}
		parsed[field] = k
	}
	var referrer solana.PublicKey
	if sc.Referrer != "" {
		k, err := solana.PublicKeyFromBase58(sc.Referrer)
		if err != nil {
			return strategy.Config{}, fmt.Errorf("strategy %s referrer: %w", sc.Name, err)
		}
		referrer = k
	}

	bundle := order.DefaultBundleConfig()
	bundle.ComputeUnitPrice = sc.Bundle.ComputeUnitPrice
	bundle.ComputeUnitLimit = sc.Bundle.ComputeUnitLimit
	bundle.ConsumeEventsLimit = sc.Bundle.ConsumeEventsLimit
	bundle.OrderLimit = sc.Bundle.OrderLimit
	bundle.MaxQuoteMarginLots = sc.Bundle.MaxQuoteMarginLots
	bundle.Memo = sc.Bundle.Memo

	return strategy.Config{
		Name:   sc.Name,
		Market: parsed["market"],
		Accounts: order.Accounts{
			ProgramID:   programID,
			OpenOrders:  parsed["openOrders"],
			Owner:       owner,
			BaseWallet:  parsed["baseWallet"],
			QuoteWallet: parsed["quoteWallet"],
			Referrer:    referrer,
		},
		Bundle:      bundle,
		Params:      internalconfig.ParamsFromConfig(sc.Params),
		Interval:    sc.Interval(),
		Warmup:      sc.Warmup(),
		CallTimeout: callTimeout,
	}, nil
}

func normalizeSymbols(prices map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(prices))
	for sym, p := range prices {
		out[strings.ToUpper(strings.TrimSpace(sym))] = p
	}
	return out
}

func (c *Container) commitment() rpc.CommitmentType {
	return rpc.CommitmentType(c.cfg.Ledger.Commitment)
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled && c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.stream != nil {
		c.lifecycle.Register(&funcComponent{
			name:  "account_stream",
			start: c.stream.Start,
			stop:  c.stream.Stop,
		})
	}
	c.lifecycle.Register(&funcComponent{
		name:  "engine",
		start: c.engine.Start,
		stop:  c.engine.Stop,
		health: func() error {
			if c.engine.State() != engine.StateRunning {
				return fmt.Errorf("engine %s", c.engine.State())
			}
			return nil
		},
	})
	watch := newStrategyWatch(c.engine, c.alerts, time.Duration(c.cfg.Alert.CheckIntervalMs)*time.Millisecond)
	c.lifecycle.Register(&funcComponent{
		name:  "strategy_watch",
		start: watch.Start,
		stop:  watch.Stop,
	})
	if c.reloader != nil {
		c.lifecycle.Register(&funcComponent{
			name:  "hot_reload",
			start: c.reloader.Start,
			stop:  c.reloader.Stop,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止。挂单保留在链上；client id 按实例生成，下次启动不会撤销本次挂的单。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		_ = c.alerts.SendError("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	for _, st := range c.engine.List() {
		c.logger.Info("strategy final status",
			zap.String("strategy", st.Name),
			zap.Int64("ticks", st.Ticks),
			zap.Int64("requotes", st.Requotes),
			zap.Float64("last_bid", st.LastBid),
			zap.Float64("last_ask", st.LastAsk))
	}

	if c.logger != nil {
		c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Reload 立即重新加载配置（SIGHUP）
func (c *Container) Reload() error {
	if c.reloader == nil {
		return fmt.Errorf("hot reload disabled")
	}
	return c.reloader.Reload()
}

func (c *Container) Engine() *engine.Manager { return c.engine }

func (c *Container) Logger() *logger.Logger { return c.logger }
