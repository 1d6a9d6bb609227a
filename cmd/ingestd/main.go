// Command ingestd is the market-data ingestion and consolidation service.
// Startup follows a bootstrap.Register/Run sequencing: each stage of the
// pipeline (infra, core, venue ingestion, aggregation, persistence, API,
// background) is one named, prioritised hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	binancefutures "github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"

	"github.com/aspenmd/ingestd/adminapi"
	"github.com/aspenmd/ingestd/aggregator"
	"github.com/aspenmd/ingestd/alert"
	"github.com/aspenmd/ingestd/auth"
	"github.com/aspenmd/ingestd/bootstrap"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/config"
	"github.com/aspenmd/ingestd/cvd"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/historydb"
	"github.com/aspenmd/ingestd/journal"
	"github.com/aspenmd/ingestd/logx"
	"github.com/aspenmd/ingestd/metrics"
	"github.com/aspenmd/ingestd/normalize"
	"github.com/aspenmd/ingestd/poller"
	"github.com/aspenmd/ingestd/quality"
	"github.com/aspenmd/ingestd/registry"
	"github.com/aspenmd/ingestd/replay"
	"github.com/aspenmd/ingestd/venue"
)

var defaultFuturesSymbols = []string{"BTCUSDT", "ETHUSDT"}
var defaultSpotSymbols = []string{"BTCUSDT", "ETHUSDT"}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	_ = godotenv.Load() // optional .env, same tolerant-missing-file behaviour as config.LoadConfig

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := bootstrap.NewContext(cfg)
	registerHooks()

	if err := bootstrap.Run(ctx); err != nil {
		logx.Component("main").Fatal().Err(err).Msg("bootstrap failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logx.Component("main").Info().Msg("shutdown signal received")
	shutdown(ctx)
}

func registerHooks() {
	bootstrap.Register("logging", bootstrap.PriorityInfrastructure, func(c *bootstrap.Context) error {
		level := "info"
		if c.Config.Log != nil && c.Config.Log.Level != "" {
			level = c.Config.Log.Level
		}
		logx.Configure(level, nil)
		return nil
	})

	bootstrap.Register("policy", bootstrap.PriorityInfrastructure, func(c *bootstrap.Context) error {
		c.Set("policy", config.LoadPolicy())
		return nil
	})

	bootstrap.Register("auth", bootstrap.PriorityInfrastructure, func(c *bootstrap.Context) error {
		auth.SetJWTSecret(c.Config.JWTSecret)
		adminapi.OperatorPasswordHash = c.Config.OperatorPasswordHash
		stop := make(chan struct{})
		c.Set("stop", stop)
		auth.StartBlacklistCleaner(time.Hour, stop)
		return nil
	})

	bootstrap.Register("core", bootstrap.PriorityCore, func(c *bootstrap.Context) error {
		c.Set("bus", eventbus.New())
		c.Set("registry", registry.New())
		c.Set("clock", clock.NewSystem())
		return nil
	})

	bootstrap.Register("metrics", bootstrap.PriorityCore, func(c *bootstrap.Context) error {
		metrics.Init()
		return nil
	})

	bootstrap.Register("normalize", bootstrap.PriorityCore, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		reg := c.MustGet("registry").(*registry.Registry)
		clk := c.MustGet("clock").(clock.Clock)
		bridge := normalize.NewBridge(bus, reg, clk)
		bridge.Start()
		return nil
	})

	bootstrap.Register("venues", bootstrap.PriorityIngestion, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)

		symbols := c.Config.Symbols.Futures
		if len(symbols) == 0 {
			symbols = defaultFuturesSymbols
		}

		reconnect := venue.ReconnectPolicy{BaseMs: policy.ReconnectBaseMs, MaxMs: policy.ReconnectMaxMs, Seed: policy.ReconnectJitterSeed}

		binanceClient := venue.NewBinanceClient(bus, clk, reconnect, "", "")
		okxClient := venue.NewOKXClient(bus, clk, policy, reconnect)
		bybitClient := venue.NewBybitClient(bus, clk, reconnect)
		hyperliquidClient := venue.NewHyperliquidClient(bus, clk, reconnect)

		connCtx := context.Background()
		for label, client := range map[string]venue.Client{
			"binance": binanceClient, "okx": okxClient, "bybit": bybitClient, "hyperliquid": hyperliquidClient,
		} {
			if err := client.Connect(connCtx); err != nil {
				logx.Component("main").Error().Err(err).Str("venue", label).Msg("initial connect failed")
				continue
			}
			for _, symbol := range symbols {
				subscribeAll(client, symbol, policy.OKXEnableKlines)
			}
		}

		c.Set("venue.binance", binanceClient)
		c.Set("venue.okx", okxClient)
		c.Set("venue.bybit", bybitClient)
		c.Set("venue.hyperliquid", hyperliquidClient)
		return nil
	})

	bootstrap.Register("pollers", bootstrap.PriorityIngestion, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)
		backoff := venue.PollBackoff{BaseMs: policy.ReconnectBaseMs, Seed: policy.ReconnectJitterSeed}

		symbols := c.Config.Symbols.Futures
		if len(symbols) == 0 {
			symbols = defaultFuturesSymbols
		}

		binanceOI := poller.NewBinanceOIPoller(binancefutures.NewClient("", ""), bus, clk)
		binanceRunner := &poller.Runner{Label: "binance_oi", Interval: 30 * time.Second, Backoff: backoff, Fn: binanceOI.Poll, Clock: clk}
		go binanceRunner.Run(context.Background(), symbols)

		bybitPoller := poller.NewBybitRESTPoller(bus, clk)
		bybitRunner := &poller.Runner{Label: "bybit_oi", Interval: 30 * time.Second, Backoff: backoff, Fn: bybitPoller.PollOI, Clock: clk}
		go bybitRunner.Run(context.Background(), symbols)

		return nil
	})

	bootstrap.Register("aggregation", bootstrap.PriorityAggregation, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		reg := c.MustGet("registry").(*registry.Registry)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)

		aggregator.NewCanonicalPriceAggregator(bus, clk, reg, policy).Start()
		aggregator.NewPriceIndexAggregator(bus, clk, reg, policy).Start()
		aggregator.NewFundingAggregator(bus, clk, reg, policy).Start()
		aggregator.NewOpenInterestAggregator(bus, clk, reg, policy).Start()
		aggregator.NewLiquidationAggregator(bus, clk, reg, policy).Start()
		aggregator.NewLiquidityAggregator(bus, clk, reg, policy).Start()
		aggregator.NewCvdSpotAggregator(bus, clk, reg, policy).Start()
		aggregator.NewCvdFuturesAggregator(bus, clk, reg, policy).Start()
		cvd.NewCalculator(bus, clk, policy).Start()
		return nil
	})

	bootstrap.Register("quality", bootstrap.PriorityAggregation, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)
		monitor := quality.New(bus, clk, policy)

		for _, label := range []string{"venue.binance", "venue.okx", "venue.bybit", "venue.hyperliquid"} {
			if v, ok := c.Get(label); ok {
				if live, ok := v.(interface{ IsAlive() bool }); ok {
					monitor.RegisterVenue(label[len("venue."):], live)
				}
			}
		}
		monitor.Start()
		c.Set("quality", monitor)
		return nil
	})

	bootstrap.Register("alert", bootstrap.PriorityAggregation, func(c *bootstrap.Context) error {
		sink, err := alert.NewSink(c.Config.Log.Telegram)
		if err != nil {
			return err
		}
		if sink != nil {
			bus := c.MustGet("bus").(*eventbus.Bus)
			sink.Start(bus)
		}
		return nil
	}).OnlyIf(func(c *bootstrap.Context) bool { return c.Config.Log != nil && c.Config.Log.Telegram != nil })

	bootstrap.Register("journal", bootstrap.PriorityPersistence, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)

		baseDir := c.Config.JournalBaseDir
		if baseDir == "" {
			baseDir = policy.JournalDir
		}
		j := journal.New(journal.Config{
			BaseDir:       baseDir,
			RunID:         runID(),
			FlushInterval: time.Duration(policy.JournalFlushIntervalMs) * time.Millisecond,
			MaxBatchSize:  policy.JournalMaxBatchSize,
		}, bus, clk)
		j.Start()
		c.Set("journal", j)
		return nil
	})

	bootstrap.Register("historydb", bootstrap.PriorityPersistence, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		clk := c.MustGet("clock").(clock.Clock)
		policy := c.MustGet("policy").(config.Policy)

		path := policy.HistoryDBPath
		if path == "" {
			path = "history.sqlite"
		}
		db, err := historydb.Open(path, clk)
		if err != nil {
			logx.Component("main").Error().Err(err).Msg("historydb open failed, audit history disabled")
			return nil
		}
		db.Subscribe(bus)
		c.Set("historydb", db)
		return nil
	})

	bootstrap.Register("admin_api", bootstrap.PriorityAPI, func(c *bootstrap.Context) error {
		bus := c.MustGet("bus").(*eventbus.Bus)
		reg := c.MustGet("registry").(*registry.Registry)
		clk := c.MustGet("clock").(clock.Clock)
		monitor, _ := c.Get("quality")
		mon, _ := monitor.(*quality.Monitor)

		baseDir := c.Config.JournalBaseDir
		if baseDir == "" {
			if p, ok := c.Get("policy"); ok {
				baseDir = p.(config.Policy).JournalDir
			}
		}

		var hist *historydb.DB
		if h, ok := c.Get("historydb"); ok {
			hist, _ = h.(*historydb.DB)
		}

		runner := replay.New(bus, clk, 500)
		server := &adminapi.Server{
			Bus: bus, Registry: reg, Monitor: mon, Replay: runner, Clock: clk, History: hist,
			JournalBaseDir: baseDir, OperatorOTPSecret: c.Config.OperatorOTPSecret,
		}
		router := server.NewRouter()
		port := adminapi.AdminPortOrDefault(c.Config.AdminPort)
		go func() {
			if err := router.Run(port); err != nil {
				logx.Component("main").Error().Err(err).Msg("admin API server stopped")
			}
		}()
		c.Set("admin_router", router)
		return nil
	})
}

func subscribeAll(client venue.Client, symbol string, klines bool) {
	if err := client.SubscribeTrades(symbol); err != nil {
		logx.Component("main").Warn().Err(err).Str("symbol", symbol).Msg("subscribe trades failed")
	}
	if err := client.SubscribeTicker(symbol); err != nil {
		logx.Component("main").Warn().Err(err).Str("symbol", symbol).Msg("subscribe ticker failed")
	}
	if err := client.SubscribeOrderbook(symbol); err != nil {
		logx.Component("main").Warn().Err(err).Str("symbol", symbol).Msg("subscribe orderbook failed")
	}
	if err := client.SubscribeLiquidations(symbol); err != nil {
		logx.Component("main").Warn().Err(err).Str("symbol", symbol).Msg("subscribe liquidations failed")
	}
	if klines {
		if err := client.SubscribeKlines(symbol, "1m"); err != nil {
			logx.Component("main").Warn().Err(err).Str("symbol", symbol).Msg("subscribe klines failed")
		}
	}
}

func runID() string {
	return fmt.Sprintf("run-%d", time.Now().UnixNano())
}

func shutdown(c *bootstrap.Context) {
	if j, ok := c.Get("journal"); ok {
		j.(*journal.Journal).Stop()
	}
	if q, ok := c.Get("quality"); ok {
		q.(*quality.Monitor).Stop()
	}
	if h, ok := c.Get("historydb"); ok {
		_ = h.(*historydb.DB).Close()
	}
	if stop, ok := c.Get("stop"); ok {
		close(stop.(chan struct{}))
	}
}
