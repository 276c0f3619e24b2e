package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyarb/internal/arbitrage"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/discovery"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/executor"
	"github.com/alanyoungcy/polyarb/internal/feed"
	"github.com/alanyoungcy/polyarb/internal/market"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"github.com/alanyoungcy/polyarb/internal/position"
	"github.com/alanyoungcy/polyarb/internal/risk"
)

const (
	// tradingLockKey keeps a second instance from trading the same wallet.
	tradingLockKey = "trading"
	// EventChannel is the pub/sub channel operational events are published on.
	EventChannel = "polyarb:events"

	eventTimeout = 5 * time.Second
)

// DiscoverMode runs discovery once, logs the pairs and returns.
func (a *App) DiscoverMode(ctx context.Context, deps *Dependencies) error {
	res, err := a.discoverer(deps).Discover(ctx)
	if err != nil {
		return fmt.Errorf("app: discover: %w", err)
	}
	for _, p := range res.Pairs {
		a.logger.Info("market pair",
			slog.String("pair_id", p.PairID),
			slog.String("league", p.League),
			slog.String("description", p.Description),
			slog.String("yes_token", p.YesToken),
			slog.String("no_token", p.NoToken),
			slog.Bool("neg_risk", p.NegRisk),
		)
	}
	a.logger.Info("discovery complete",
		slog.Int("pairs", len(res.Pairs)),
		slog.Int("found", res.Found),
		slog.Int("missing", res.Missing),
		slog.Int("errors", len(res.Errors)),
		slog.Bool("from_cache", res.FromCache),
	)
	return nil
}

// ArbitrageMode discovers markets, then runs the feed, detector and
// execution engine until ctx is cancelled.
//
// Shutdown is staged: the producers stop first, in-flight executions are
// waited for, then the position writer drains the fill channel, and the
// archive flushes last.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	res, err := a.discoverer(deps).Discover(ctx)
	if err != nil {
		return fmt.Errorf("app: discover: %w", err)
	}
	if len(res.Pairs) == 0 {
		a.logger.Warn("no market pairs found, nothing to trade")
		return nil
	}

	reg := buildRegistry(cfg.Discovery.Capacity, res.Pairs, a.logger)
	threshold := arbitrage.ThresholdCents(cfg.Arbitrage.Threshold)

	events := newEventRecorder(deps.Audit, deps.Bus, a.logger)
	defer events.Wait()
	defer deps.Notifier.Wait()

	breaker := risk.New(breakerConfig(cfg.CircuitBreaker),
		risk.WithLogger(a.logger),
		risk.WithOnTrip(func(st risk.Status) {
			title, msg := notify.BreakerTrip(st)
			deps.Notifier.Go(notify.EventBreakerTrip, title, msg)
			events.Record("breaker.trip", map[string]any{
				"reason":         string(st.TripReason),
				"detail":         st.TripDetail,
				"daily_loss":     st.DailyLossCents,
				"total_position": st.TotalPosition,
				"cooldown_until": st.CooldownUntil,
			})
		}),
	)

	gw, err := a.gateway(ctx, res.Pairs)
	if err != nil {
		return err
	}
	policy, err := unwindPolicy(cfg.Unwind)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	fills := position.NewChannel(cfg.Positions.FillBuffer, a.logger)
	tracker := position.NewTracker(nil)
	wcfg := position.WriterConfig{
		Tracker:      tracker,
		Fills:        deps.Fills,
		Bus:          deps.Bus,
		Snapshots:    deps.Snapshots,
		SaveInterval: cfg.Positions.SaveInterval.Duration,
		Logger:       a.logger,
	}
	if deps.Archiver != nil {
		wcfg.Archive = deps.Archiver
	}
	writer := position.NewWriter(wcfg)
	if err := writer.Restore(ctx); err != nil {
		a.logger.Warn("could not restore positions, starting empty", slog.String("error", err.Error()))
	}

	engine := executor.New(reg, gw, breaker, fills, executor.Config{
		ThresholdCents: threshold,
		MaxContracts:   cfg.Arbitrage.MaxContracts,
		Unwind:         policy,
	},
		executor.WithLogger(a.logger),
		executor.WithResultHook(func(r executor.Result) {
			if r.Status != executor.StatusExecuted {
				return
			}
			desc := r.PairID
			if m := reg.Get(r.MarketID); m != nil && m.Description != "" {
				desc = m.Description
			}
			title, msg := notify.ArbExecuted(desc, r)
			deps.Notifier.Go(notify.EventArbExecuted, title, msg)
		}),
		executor.WithUnwindFailureHook(func(pairID string, side domain.Side, remaining int, err error) {
			title, msg := notify.UnwindFailed(pairID, side, remaining, err)
			deps.Notifier.Go(notify.EventUnwindFailed, title, msg)
			detail := map[string]any{"pair_id": pairID, "side": side.String(), "remaining": remaining}
			if err != nil {
				detail["error"] = err.Error()
			}
			events.Record("unwind.failed", detail)
		}),
	)

	sink := arbitrage.NewChannelSink(cfg.Arbitrage.QueueSize)
	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Registry:       reg,
		ThresholdCents: threshold,
		Sink:           sink,
		Logger:         a.logger,
	})

	ws := polymarket.NewWSClient(cfg.Polymarket.WsHost, a.logger)
	ws.SetPingPeriod(cfg.Polymarket.PingInterval.Duration)
	prices := feed.NewPolymarket(ws, reg, detector, cfg.Polymarket.ReconnectDelay.Duration, a.logger)
	heartbeat := arbitrage.NewHeartbeat(reg, threshold, cfg.Arbitrage.HeartbeatInterval.Duration, a.logger)

	a.logger.Info("arbitrage mode started",
		slog.Int("markets", reg.Len()),
		slog.Int("threshold_cents", int(threshold)),
		slog.Bool("dry_run", !cfg.Live()),
		slog.Bool("circuit_breaker", cfg.CircuitBreaker.Enabled),
	)
	deps.Notifier.Go(notify.EventStartup, "polyarb started",
		fmt.Sprintf("Markets: %d\nThreshold: %d¢\nDry run: %t", reg.Len(), threshold, !cfg.Live()))

	// Consumers outlive the producers so late fills are still recorded.
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	var writerDone, archiveDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		_ = writer.Run(sinkCtx, fills.C())
	}()
	archiveCtx, stopArchive := context.WithCancel(context.WithoutCancel(ctx))
	defer stopArchive()
	if deps.Archiver != nil {
		archiveDone.Add(1)
		go func() {
			defer archiveDone.Done()
			_ = deps.Archiver.Run(archiveCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if deps.Locks != nil {
		g.Go(func() error {
			if err := deps.Locks.Hold(gctx, tradingLockKey, cfg.Redis.LockTTL.Duration); err != nil {
				return fmt.Errorf("app: trading lock: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return prices.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx, sink.C()) })
	g.Go(func() error { return heartbeat.Run(gctx) })
	if cfg.Arbitrage.TestArb {
		g.Go(func() error {
			return injectTestArb(gctx, reg, sink, cfg.Arbitrage.TestArbDelay.Duration, a.logger)
		})
	}
	runErr := g.Wait()

	engine.Wait()
	stopSinks()
	writerDone.Wait()
	stopArchive()
	archiveDone.Wait()

	st := engine.Stats()
	sum := tracker.Summary()
	a.logger.Info("arbitrage mode stopped",
		slog.Uint64("processed", st.Processed),
		slog.Uint64("executed", st.Executed),
		slog.Uint64("mismatched", st.Mismatched),
		slog.Uint64("rejected", st.Rejected),
		slog.Uint64("skipped", st.Skipped),
		slog.Int64("profit_cents", st.ProfitCents),
		slog.Uint64("signals", detector.Signals()),
		slog.Uint64("queue_drops", sink.Dropped()),
		slog.Uint64("fill_drops", fills.Dropped()),
		slog.Int("open_positions", sum.OpenPositions),
		slog.Int64("daily_pnl_cents", sum.DailyRealizedPnLCents),
	)
	deps.Notifier.Go(notify.EventShutdown, "polyarb stopped",
		fmt.Sprintf("Executed: %d\nProfit: $%.2f\nOpen positions: %d",
			st.Executed, float64(st.ProfitCents)/100, sum.OpenPositions))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return ctx.Err()
}

func (a *App) discoverer(deps *Dependencies) *discovery.Discoverer {
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	return discovery.New(gamma, deps.DiscoveryCache, discovery.Config{
		Slugs:       a.cfg.Discovery.MarketSlugs,
		Leagues:     a.cfg.Discovery.EnabledLeagues,
		Concurrency: a.cfg.Discovery.Concurrency,
		CacheTTL:    a.cfg.Discovery.CacheTTL.Duration,
		Force:       a.cfg.Discovery.Force,
		SearchPages: a.cfg.Discovery.SearchPages,
	}, a.logger)
}

// gateway returns the simulated gateway in dry run, otherwise an
// authenticated CLOB gateway.
func (a *App) gateway(ctx context.Context, pairs []domain.MarketPair) (executor.Gateway, error) {
	if !a.cfg.Live() {
		a.logger.Warn("dry run: orders are simulated, nothing is sent to the exchange")
		return executor.NewDryRunGateway(a.cfg.Arbitrage.DryRunLatency.Duration), nil
	}

	signer, err := crypto.LoadSigner(crypto.KeySource{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	}, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: load wallet: %w", err)
	}

	clob := polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer)
	auth, err := clob.DeriveAPIKey(ctx, a.cfg.Polymarket.APIKeyNonce)
	if err != nil {
		return nil, fmt.Errorf("app: derive api key: %w", err)
	}
	clob.SetCredentials(auth)
	a.logger.Info("clob credentials derived", slog.String("address", signer.Address().Hex()))

	return polymarket.NewClobGateway(clob, polymarket.GatewayConfig{
		Funder:        a.cfg.Wallet.Funder,
		SignatureType: a.cfg.Polymarket.SignatureType,
		NegRisk:       polymarket.NegRiskTokens(pairs),
	}, a.logger), nil
}

// buildRegistry registers every pair that fits and seals the registry.
// Pairs that cannot be registered are logged and skipped.
func buildRegistry(capacity int, pairs []domain.MarketPair, logger *slog.Logger) *market.Registry {
	reg := market.NewRegistry(capacity)
	for _, p := range pairs {
		if _, err := reg.Register(p); err != nil {
			logger.Warn("market not registered",
				slog.String("pair_id", p.PairID),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, market.ErrFull) {
				break
			}
		}
	}
	reg.Seal()
	return reg
}

func breakerConfig(c config.CircuitBreakerConfig) risk.Config {
	return risk.Config{
		MaxPositionPerMarket: c.MaxPositionPerMarket,
		MaxTotalPosition:     c.MaxTotalPosition,
		MaxDailyLossCents:    int64(math.Round(c.MaxDailyLoss * 100)),
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		Cooldown:             c.Cooldown.Duration,
		Enabled:              c.Enabled,
	}
}

func unwindPolicy(c config.UnwindConfig) (executor.UnwindPolicy, error) {
	mode, err := executor.ParseUnwindMode(c.Mode)
	if err != nil {
		return executor.UnwindPolicy{}, err
	}
	slip := c.LimitSlippageCents
	if slip < 0 {
		slip = 0
	}
	if slip > math.MaxUint16 {
		slip = math.MaxUint16
	}
	return executor.UnwindPolicy{
		Mode:               mode,
		LimitSlippageCents: uint16(slip),
		MaxAttempts:        c.MaxAttempts,
		RetryDelay:         c.RetryDelay.Duration,
	}, nil
}

// injectTestArb waits delay, then prices the first market at 48¢/50¢ with
// 1000 cents a side and queues a request for it, exercising the full
// execution path without a real opportunity.
func injectTestArb(ctx context.Context, reg *market.Registry, sink arbitrage.Sink, delay time.Duration, logger *slog.Logger) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}

	m := reg.Get(0)
	if m == nil {
		logger.Warn("test arb skipped, no markets")
		return nil
	}
	// The only book write outside the feed goroutine. The CAS updates keep
	// it safe, and a live feed frame for this market simply overwrites it.
	m.Book.UpdateYes(48, 1000)
	m.Book.UpdateNo(50, 1000)
	req := arbitrage.NewRequest(m.ID, m.Book.Load(), time.Now())
	if !sink.Offer(req) {
		logger.Warn("test arb dropped, execution queue full")
		return nil
	}
	logger.Warn("injected test arb",
		slog.String("pair_id", m.PairID),
		slog.Int("yes_price", int(req.YesPrice)),
		slog.Int("no_price", int(req.NoPrice)),
	)
	return nil
}

// eventRecorder writes operational events to the audit log and publishes
// them on the bus, off the caller's goroutine.
type eventRecorder struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
	wg     sync.WaitGroup
}

func newEventRecorder(audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *eventRecorder {
	return &eventRecorder{audit: audit, bus: bus, logger: logger}
}

// Record stores event in the background. Failures are logged.
func (e *eventRecorder) Record(event string, detail map[string]any) {
	if e.audit == nil && e.bus == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()

		if e.audit != nil {
			if err := e.audit.Log(ctx, event, detail); err != nil {
				e.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
			}
		}
		if e.bus != nil {
			payload, err := json.Marshal(map[string]any{"event": event, "detail": detail, "at": time.Now().UTC()})
			if err == nil {
				err = e.bus.Publish(ctx, EventChannel, payload)
			}
			if err != nil {
				e.logger.Warn("event publish failed", slog.String("event", event), slog.String("error", err.Error()))
			}
		}
	}()
}

// Wait blocks until every recorded event has been handled.
func (e *eventRecorder) Wait() {
	e.wg.Wait()
}
