// Package ingest implements the Ingestion Controller (§4.8): a
// venue-agnostic, hybrid stream-plus-poll fan-in that feeds every observed
// trade through dedup, the 14-detector battery, and the alert consolidator
// in a single serialized pipeline step.
//
// Grounded on internal/app/runner.go's runWSReconnector/runMarketRefresher
// background-goroutine-with-ticker duo and trade_monitor.go's
// runWebSocket/runPolling dual-mode Run method, generalized from one
// hardcoded Polymarket client to any number of venue.Adapter instances
// fanned into one trade channel (§5: single worker goroutine, no
// per-trade concurrency). Periodic maintenance uses robfig/cron/v3 in
// place of the teacher's raw time.Ticker (§4.8).
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/clients/venue"
	"whalewatch/internal/cluster"
	"whalewatch/internal/consolidator"
	"whalewatch/internal/detectors"
	"whalewatch/internal/marketstore"
	"whalewatch/internal/support"
	"whalewatch/internal/trade"
	"whalewatch/internal/walletstore"
)

// Config bundles the controller's own tunables (§4.8, §5, §7).
type Config struct {
	PollInterval time.Duration
	// PollOverlap is subtracted from the last poll's completion time to
	// form the next poll's since cursor, absorbing clock skew and
	// near-boundary trades a venue reports with slight delay.
	PollOverlap time.Duration

	MaxMarketsPerPoll int

	// DedupCapacity/DedupTrimTo bound the trade-id dedup set: once it
	// exceeds DedupCapacity entries, the dedup-trim maintenance job drops
	// the oldest entries down to DedupTrimTo (§9: "unbounded append,
	// capped, trimmed to most-recent half").
	DedupCapacity int
	DedupTrimTo   int

	// ClusterCoordWindow bounds the short-window same-market,
	// similar-amount peer count feeding CLUSTER_ACTIVITY (detector #11);
	// independent of cluster.Config.CoordWindow, which drives the
	// long-window decayed graph (§9: "keep both").
	ClusterCoordWindow time.Duration

	ExcludeSports bool

	StreamReconnectBaseDelay time.Duration
	StreamReconnectMaxDelay  time.Duration

	WalletCleanupCron  string
	EntityRebuildCron  string
	DedupTrimCron      string

	TradeChannelBuffer int
}

// DefaultConfig returns the canonical operating defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:             30 * time.Second,
		PollOverlap:              5 * time.Second,
		MaxMarketsPerPoll:        200,
		DedupCapacity:            100_000,
		DedupTrimTo:              50_000,
		ClusterCoordWindow:       300 * time.Second,
		ExcludeSports:            true,
		StreamReconnectBaseDelay: 2 * time.Second,
		StreamReconnectMaxDelay:  60 * time.Second,
		WalletCleanupCron:        "@every 1h",
		EntityRebuildCron:        "@every 1m",
		DedupTrimCron:            "@every 10m",
		TradeChannelBuffer:       4096,
	}
}

// Stats is a point-in-time snapshot of the controller's operating counters,
// generalizing the teacher's ServiceStats dashboard to this module's scope.
type Stats struct {
	LastCheckTime   time.Time
	StreamConnected bool
	TradesObserved  int64
	AlertsEmitted   int64
	DedupDropped    int64
	DedupSetSize    int
}

// clusterTradeRecord is one (wallet, amount, time) observation used purely
// for the short-window CLUSTER_ACTIVITY peer count, distinct from
// cluster.Engine's long-window decayed graph (§9 design note: keep both).
// Grounded on trade_monitor.go's checkRapidTrading/recentTrades
// ring-buffer-by-slice-trim idiom, generalized from per-wallet to
// per-market.
type clusterTradeRecord struct {
	wallet    string
	amountUSD float64
	at        time.Time
	anonymous bool
}

// Controller is the Ingestion Controller.
type Controller struct {
	logger *zap.Logger
	cfg    Config
	detCfg detectors.Config
	conCfg consolidator.Config

	adapters []venue.Adapter

	wallets   *walletstore.Store
	markets   *marketstore.Cache
	questions notifier.MarketQuestionsProvider
	stats     *marketstore.StatsStore
	cluster   *cluster.Engine

	sink  notifier.AlertSink
	store notifier.AlertStore

	tradeCh chan trade.Trade

	dedupMu    sync.Mutex
	dedupSeen  map[string]struct{}
	dedupOrder []string

	clusterMu      sync.Mutex
	recentByMarket map[string][]clusterTradeRecord

	statsMu      sync.RWMutex
	runtimeStats Stats

	cron *cron.Cron
}

// New builds an Ingestion Controller wired to already-constructed stateful
// engines. A nil logger falls back to zap.NewNop() (teacher convention).
func New(
	logger *zap.Logger,
	cfg Config,
	detCfg detectors.Config,
	conCfg consolidator.Config,
	adapters []venue.Adapter,
	wallets *walletstore.Store,
	markets *marketstore.Cache,
	stats *marketstore.StatsStore,
	clusterEngine *cluster.Engine,
	sink notifier.AlertSink,
	store notifier.AlertStore,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TradeChannelBuffer <= 0 {
		cfg.TradeChannelBuffer = 4096
	}
	return &Controller{
		logger:         logger,
		cfg:            cfg,
		detCfg:         detCfg,
		conCfg:         conCfg,
		adapters:       adapters,
		wallets:        wallets,
		markets:        markets,
		questions:      markets,
		stats:          stats,
		cluster:        clusterEngine,
		sink:           sink,
		store:          store,
		tradeCh:        make(chan trade.Trade, cfg.TradeChannelBuffer),
		dedupSeen:      make(map[string]struct{}),
		recentByMarket: make(map[string][]clusterTradeRecord),
	}
}

// Stats returns a snapshot of the controller's operating counters.
func (c *Controller) Stats() Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	snap := c.runtimeStats
	c.dedupMu.Lock()
	snap.DedupSetSize = len(c.dedupOrder)
	c.dedupMu.Unlock()
	return snap
}

// Run starts the stream readers, the polling fallback, the maintenance
// scheduler, and the single evaluation worker, blocking until ctx is
// canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.cfg.WalletCleanupCron, func() { c.runWalletCleanup() }); err != nil {
		c.logger.Warn("schedule wallet cleanup failed", zap.Error(err))
	}
	if _, err := c.cron.AddFunc(c.cfg.EntityRebuildCron, func() { c.runEntityRebuild() }); err != nil {
		c.logger.Warn("schedule entity rebuild failed", zap.Error(err))
	}
	if _, err := c.cron.AddFunc(c.cfg.DedupTrimCron, func() { c.trimDedup() }); err != nil {
		c.logger.Warn("schedule dedup trim failed", zap.Error(err))
	}
	c.cron.Start()
	defer c.cron.Stop()

	var wg sync.WaitGroup

	for _, adapter := range c.adapters {
		if streamer, ok := adapter.(venue.Streamer); ok {
			wg.Add(1)
			go c.runStream(ctx, adapter, streamer, &wg)
		}
	}

	wg.Add(1)
	go c.runPoll(ctx, &wg)

	wg.Add(1)
	go c.runWorker(ctx, &wg)

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (c *Controller) runStream(ctx context.Context, adapter venue.Adapter, streamer venue.Streamer, wg *sync.WaitGroup) {
	defer wg.Done()

	delay := c.cfg.StreamReconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tradesCh, errCh := streamer.StreamTrades(ctx, c.knownMarketIDs())
		c.setStreamConnected(true)
		c.logger.Info("stream connected", zap.String("venue", adapter.Name()))

	readLoop:
		for {
			select {
			case <-ctx.Done():
				c.setStreamConnected(false)
				return
			case t, ok := <-tradesCh:
				if !ok {
					break readLoop
				}
				c.submit(ctx, t)
			case err, ok := <-errCh:
				if !ok {
					continue
				}
				c.logger.Warn("stream error", zap.String("venue", adapter.Name()), zap.Error(err))
			}
		}

		c.setStreamConnected(false)
		c.logger.Warn("stream disconnected, reconnecting", zap.String("venue", adapter.Name()), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.StreamReconnectMaxDelay {
			delay = c.cfg.StreamReconnectMaxDelay
		}
	}
}

func (c *Controller) runPoll(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	lastCheck := time.Now()
	c.setLastCheckTime(lastCheck)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx, lastCheck)
			lastCheck = time.Now()
			c.setLastCheckTime(lastCheck)
		}
	}
}

// poll is the fallback/secondary fetch path: bulk-refresh market metadata
// opportunistically, then pull trades since the last check minus the
// overlap window.
func (c *Controller) poll(ctx context.Context, lastCheck time.Time) {
	since := lastCheck.Add(-c.cfg.PollOverlap)

	for _, adapter := range c.adapters {
		var marketsList []trade.Market
		err := venue.Retry(ctx, venue.DefaultRetryConfig(), func(ctx context.Context) error {
			var err error
			marketsList, err = adapter.ListActiveMarkets(ctx, c.cfg.MaxMarketsPerPoll)
			return err
		})
		if err != nil {
			c.logger.Warn("list active markets failed", zap.String("venue", adapter.Name()), zap.Error(err))
			continue
		}
		c.markets.RefreshBatch(marketsList)

		ids := make([]string, len(marketsList))
		for i, m := range marketsList {
			ids[i] = m.ID
		}

		var trades []trade.Trade
		err = venue.Retry(ctx, venue.DefaultRetryConfig(), func(ctx context.Context) error {
			var err error
			trades, err = adapter.RecentTrades(ctx, ids, since)
			return err
		})
		if err != nil {
			c.logger.Warn("recent trades failed", zap.String("venue", adapter.Name()), zap.Error(err))
			continue
		}
		for _, t := range trades {
			c.submit(ctx, t)
		}
	}
}

func (c *Controller) knownMarketIDs() []string {
	return c.markets.IDs()
}

// submit hands a freshly-observed trade to the single evaluation worker,
// blocking rather than dropping so stream and poll sources never silently
// lose trades under backpressure.
func (c *Controller) submit(ctx context.Context, t trade.Trade) {
	select {
	case <-ctx.Done():
	case c.tradeCh <- t:
	}
}

func (c *Controller) runWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.tradeCh:
			c.evaluate(ctx, t)
		}
	}
}

// evaluate is the per-trade pipeline step (§4, §5): dedup, pre-observe
// snapshot, battery, consolidation, dispatch, then state mutation. All
// reads feeding the battery and position_action happen before any store is
// updated with this trade (§4.3's load-bearing ordering rule, generalized
// across the whole Context per DESIGN.md).
func (c *Controller) evaluate(ctx context.Context, t trade.Trade) {
	c.bumpTradesObserved()

	if !c.dedupAdd(t.ID) {
		c.bumpDedupDropped()
		return
	}
	c.logger.Debug("evaluating trade", zap.String("id", support.ShortID(t.ID)), zap.String("venue", t.Venue))

	market := c.markets.Get(t.MarketID)
	category := trade.CategoryOther
	isSports, isHF := false, false
	if market != nil {
		category = market.Category
		isSports = market.IsSports
		isHF = market.IsHighFrequency
	}
	var marketQuestion *string
	if q, ok := c.questions.MarketQuestion(t.MarketID); ok {
		marketQuestion = &q
	}

	walletBefore := c.wallets.Get(t.TraderID)
	var walletSnapshot trade.WalletProfile
	if walletBefore != nil {
		walletSnapshot = *walletBefore
	} else {
		walletSnapshot = *trade.NewWalletProfile(t.TraderID)
	}

	positionAction := c.wallets.PositionAction(t.TraderID, t.MarketID, t.Outcome, t.Side)
	hourlyVol := c.stats.HourlyVolume(t.MarketID, t.Timestamp)

	suppressed := isHF || (isSports && c.cfg.ExcludeSports)

	var alert *trade.Alert
	if !suppressed {
		alert = c.runBattery(t, &walletSnapshot, market, category, isSports, positionAction, marketQuestion)
	}

	if alert != nil {
		c.bumpAlertsEmitted()
		if c.sink != nil {
			if err := c.sink.Send(ctx, *alert); err != nil {
				c.logger.Warn("alert dispatch failed", zap.String("alert_id", alert.ID), zap.Error(err))
			}
		}
		if c.store != nil {
			if err := c.store.Store(ctx, *alert); err != nil {
				c.logger.Warn("alert store failed", zap.String("alert_id", alert.ID), zap.Error(err))
			}
		}
	}

	c.wallets.Observe(t, isSports)
	c.stats.Record(t.MarketID, t.AmountUSD, t.Timestamp)
	if !t.Anonymous {
		c.cluster.Observe(t.TraderID, t.MarketID, t.Timestamp, hourlyVol)
	}
	c.recordClusterTrade(t.MarketID, t.TraderID, t.AmountUSD, t.Timestamp, t.Anonymous)
}

// runBattery runs the detector battery and the consolidator for one trade.
// It recovers from any panic either step raises, wraps it in
// detectors.ErrDetectorInternal, and logs it rather than letting it escape:
// runWorker is the single goroutine serializing every trade (§5), so an
// unrecovered panic here would kill it permanently while the stream/poll
// producers kept queuing into tradeCh, silently halting all alerting for
// the rest of the process lifetime (§7). The caller still marks the trade
// processed regardless of outcome.
func (c *Controller) runBattery(
	t trade.Trade,
	walletSnapshot *trade.WalletProfile,
	market *trade.Market,
	category trade.Category,
	isSports bool,
	positionAction trade.PositionAction,
	marketQuestion *string,
) (alert *trade.Alert) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", detectors.ErrDetectorInternal, r)
			c.logger.Error("detector battery panicked, trade marked processed",
				zap.String("trade_id", support.ShortID(t.ID)),
				zap.String("market_id", t.MarketID),
				zap.Error(err))
			alert = nil
		}
	}()

	mean, std, n := c.stats.Stats(t.MarketID)
	zscore, hasZ := c.stats.ZScore(t.MarketID, t.AmountUSD)
	impact := c.stats.ImpactRatio(t.MarketID, t.AmountUSD, t.Timestamp)
	percentile, hasPct := c.stats.Percentile(t.MarketID, t.AmountUSD)

	clusterPeers := 0
	entityMembers := 0
	if !t.Anonymous {
		clusterPeers = c.clusterPeerCount(t.MarketID, t.TraderID, t.AmountUSD, t.Timestamp)
		entityMembers = c.entityMemberCount(t.TraderID)
	}

	dctx := detectors.Context{
		Trade:             t,
		Wallet:            walletSnapshot,
		Market:            market,
		MarketMean:        mean,
		MarketStd:         std,
		MarketN:           n,
		ZScore:            zscore,
		HasZScore:         hasZ,
		ImpactRatio:       impact,
		ClusterPeerCount:  clusterPeers,
		EntityMemberCount: entityMembers,
	}
	triggers := detectors.Run(dctx, c.detCfg)

	var zPtr *float64
	if hasZ {
		zPtr = &zscore
	}
	var pctPtr *float64
	if hasPct {
		pctPtr = &percentile
	}

	return consolidator.Consolidate(c.conCfg, t, *walletSnapshot, category, isSports, positionAction, triggers, pctPtr, marketQuestion, zPtr)
}

// clusterPeerCount implements detector #11's short-window signal: distinct
// other non-anonymous wallets that traded the same market within
// ClusterCoordWindow at an amount within [0.5x, 2x] of this trade. Read
// before recordClusterTrade appends the current trade, so it never counts
// itself.
func (c *Controller) clusterPeerCount(marketID, wallet string, amountUSD float64, now time.Time) int {
	c.clusterMu.Lock()
	defer c.clusterMu.Unlock()

	cutoff := now.Add(-c.cfg.ClusterCoordWindow)
	lo, hi := 0.5*amountUSD, 2.0*amountUSD

	seen := make(map[string]struct{})
	for _, rec := range c.recentByMarket[marketID] {
		if rec.anonymous || rec.wallet == wallet {
			continue
		}
		if rec.at.Before(cutoff) {
			continue
		}
		if rec.amountUSD < lo || rec.amountUSD > hi {
			continue
		}
		seen[rec.wallet] = struct{}{}
	}
	return len(seen)
}

func (c *Controller) recordClusterTrade(marketID, wallet string, amountUSD float64, at time.Time, anonymous bool) {
	c.clusterMu.Lock()
	defer c.clusterMu.Unlock()

	cutoff := at.Add(-c.cfg.ClusterCoordWindow)
	recs := c.recentByMarket[marketID]
	i := 0
	for i < len(recs) && recs[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		recs = recs[i:]
	}
	recs = append(recs, clusterTradeRecord{wallet: wallet, amountUSD: amountUSD, at: at, anonymous: anonymous})
	c.recentByMarket[marketID] = recs
}

// entityMemberCount implements detector #13's long-window signal: the size
// of the materialized entity (from the last RebuildEntities pass) the
// wallet belongs to, or 0 if it is not part of one.
func (c *Controller) entityMemberCount(wallet string) int {
	entityID := c.cluster.EntityOf(wallet)
	if entityID == "" {
		return 0
	}
	for _, e := range c.cluster.Entities() {
		if e.EntityID == entityID {
			return len(e.Wallets)
		}
	}
	return 0
}

// dedupAdd registers a trade id, returning true if it was newly seen. This
// is trade-level memory, not venue-level: a trade observed via both the
// stream and the poll fallback evaluates exactly once (testable property
// #1).
func (c *Controller) dedupAdd(id string) bool {
	c.dedupMu.Lock()
	defer c.dedupMu.Unlock()

	if _, ok := c.dedupSeen[id]; ok {
		return false
	}
	c.dedupSeen[id] = struct{}{}
	c.dedupOrder = append(c.dedupOrder, id)
	return true
}

// trimDedup drops the oldest entries once the dedup set exceeds
// DedupCapacity, keeping the most recent DedupTrimTo (§9). Driven by the
// dedup-trim cron job rather than inline on every insert, matching the
// teacher's PruneSeenTrades periodic-clear approach in trade_monitor.go.
func (c *Controller) trimDedup() {
	c.dedupMu.Lock()
	defer c.dedupMu.Unlock()

	if len(c.dedupOrder) <= c.cfg.DedupCapacity {
		return
	}

	keepFrom := len(c.dedupOrder) - c.cfg.DedupTrimTo
	dropped := c.dedupOrder[:keepFrom]
	for _, id := range dropped {
		delete(c.dedupSeen, id)
	}
	c.dedupOrder = c.dedupOrder[keepFrom:]
	c.logger.Info("dedup set trimmed", zap.Int("dropped", len(dropped)), zap.Int("remaining", len(c.dedupOrder)))
}

func (c *Controller) runWalletCleanup() {
	n := c.wallets.Cleanup(time.Now())
	if n > 0 {
		c.logger.Info("wallet cleanup removed inactive wallets", zap.Int("count", n))
	}
}

func (c *Controller) runEntityRebuild() {
	entities := c.cluster.RebuildEntities(time.Now())
	c.logger.Info("entity rebuild complete", zap.Int("entity_count", len(entities)))
}

func (c *Controller) setStreamConnected(v bool) {
	c.statsMu.Lock()
	c.runtimeStats.StreamConnected = v
	c.statsMu.Unlock()
}

func (c *Controller) setLastCheckTime(t time.Time) {
	c.statsMu.Lock()
	c.runtimeStats.LastCheckTime = t
	c.statsMu.Unlock()
}

func (c *Controller) bumpTradesObserved() {
	c.statsMu.Lock()
	c.runtimeStats.TradesObserved++
	c.statsMu.Unlock()
}

func (c *Controller) bumpDedupDropped() {
	c.statsMu.Lock()
	c.runtimeStats.DedupDropped++
	c.statsMu.Unlock()
}

func (c *Controller) bumpAlertsEmitted() {
	c.statsMu.Lock()
	c.runtimeStats.AlertsEmitted++
	c.statsMu.Unlock()
}
