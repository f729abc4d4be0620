// Package walletstore implements the Wallet Profile Store (spec §4.3): a
// write-through, in-memory accumulator of per-wallet rolling state, derived
// booleans, and per-(market,outcome) position accounting.
//
// This generalizes the teacher's API-backed, TTL-cached WalletTracker
// (internal/app/wallet_tracker.go in the reference repo) into a store whose
// only input is the observed trade stream itself — there is no remote
// win/loss API in this domain, so profiles are built purely from Observe.
package walletstore

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"whalewatch/internal/trade"
)

// Config bundles the thresholds the store needs to maintain derived state.
type Config struct {
	VIP                    trade.VIPThresholds
	LargeTradeThresholdUSD float64 // vip_large_trade_threshold (§4.3)
	MaxInactiveDays        int     // default 30 (§4.8)
	MinWalletsBeforeCleanup int    // default 10_000 (§4.8)
}

// DefaultConfig returns the canonical defaults named in spec §4.
func DefaultConfig() Config {
	return Config{
		VIP: trade.VIPThresholds{
			MinVolume:      250_000,
			MinWinRate:     0.75,
			MinLargeTrades: 10,
		},
		LargeTradeThresholdUSD:  25_000,
		MaxInactiveDays:         30,
		MinWalletsBeforeCleanup: 10_000,
	}
}

// Store is the Wallet Profile Store. Safe for concurrent use.
type Store struct {
	logger *zap.Logger
	cfg    Config

	mu       sync.RWMutex
	profiles map[string]*trade.WalletProfile
}

// New creates a Wallet Profile Store.
func New(logger *zap.Logger, cfg Config) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:   logger,
		cfg:      cfg,
		profiles: make(map[string]*trade.WalletProfile),
	}
}

// Get returns the profile for address, or nil if the wallet has never been
// observed.
func (s *Store) Get(address string) *trade.WalletProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[address]
}

// Count returns the number of tracked wallets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

func positionFor(w *trade.WalletProfile, marketID, outcome string) *trade.PositionState {
	byOutcome, ok := w.Positions[marketID]
	if !ok {
		return nil
	}
	return byOutcome[outcome]
}

// PositionAction returns OPENING/ADDING/CLOSING/REVERSING for a trade about
// to be observed, computed from the position state BEFORE the trade is
// applied (§4.3 — this ordering is load-bearing). Callers MUST invoke this
// before Observe.
//
// Rule (Open Question resolution, see DESIGN.md): a position with no prior
// net shares is OPENING regardless of side. A position with positive net
// shares is ADDING on a buy and CLOSING on a sell (testable property #2,
// independent of trade amount). A position with negative net shares ("short
// accounting state", no settlement meaning on these venues) is ADDING on a
// sell (growing the short) and REVERSING on a buy (covering the short
// reverses the stance back toward/through flat).
func (s *Store) PositionAction(address, marketID, outcome string, side trade.Side) trade.PositionAction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := s.profiles[address]
	var net float64
	if w != nil {
		if pos := positionFor(w, marketID, outcome); pos != nil {
			net = pos.NetShares()
		}
	}

	switch {
	case net == 0:
		return trade.PositionOpening
	case net > 0:
		if side == trade.SideBuy {
			return trade.PositionAdding
		}
		return trade.PositionClosing
	default: // net < 0
		if side == trade.SideSell {
			return trade.PositionAdding
		}
		return trade.PositionReversing
	}
}

// Observe upserts the profile for t.TraderID: creates it if absent,
// increments aggregates, appends the trade timestamp to the ring buffer,
// updates the (market,outcome) position, and increments LargeTradesCount
// when the trade clears the VIP large-trade threshold. isSportsMarket comes
// from the caller's prior Market Metadata Cache lookup (§4.2); walletstore
// has no market data of its own, so it cannot classify t.MarketID itself.
func (s *Store) Observe(t trade.Trade, isSportsMarket bool) *trade.WalletProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.profiles[t.TraderID]
	if !ok {
		w = trade.NewWalletProfile(t.TraderID)
		w.FirstSeen = t.Timestamp
		s.profiles[t.TraderID] = w
	}

	w.TotalTrades++
	w.TotalVolumeUSD += t.AmountUSD
	if !isSportsMarket {
		w.NonSportsVolumeUSD += t.AmountUSD
	}
	if t.Side == trade.SideBuy {
		w.BuyVolumeUSD += t.AmountUSD
		w.TotalBuys++
	} else {
		w.SellVolumeUSD += t.AmountUSD
		w.TotalSells++
	}
	if t.AmountUSD >= s.cfg.LargeTradeThresholdUSD {
		w.LargeTradesCount++
	}

	// last_seen tracks the max observed timestamp; incoming timestamps are
	// not assumed monotonic (§5).
	if t.Timestamp.After(w.LastSeen) {
		w.LastSeen = t.Timestamp
	}
	if w.FirstSeen.IsZero() || t.Timestamp.Before(w.FirstSeen) {
		w.FirstSeen = t.Timestamp
	}
	w.PushTimestamp(t.Timestamp)
	w.MarketsTraded[t.MarketID] = struct{}{}

	byOutcome, ok := w.Positions[t.MarketID]
	if !ok {
		byOutcome = make(map[string]*trade.PositionState)
		w.Positions[t.MarketID] = byOutcome
	}
	pos, ok := byOutcome[t.Outcome]
	if !ok {
		pos = &trade.PositionState{}
		byOutcome[t.Outcome] = pos
	}
	if t.Side == trade.SideBuy {
		pos.BuyShares += t.Size
		pos.BuyUSD += t.AmountUSD
	} else {
		pos.SellShares += t.Size
		pos.SellUSD += t.AmountUSD
	}

	return w
}

// RecordResolution updates a wallet's win/loss counters for a resolved
// position. This is a hook for an out-of-scope resolution feed (markets
// settle independently of the trade stream); it keeps IsSmartMoney/win-rate
// derived state current when such a feed is wired by the caller.
func (s *Store) RecordResolution(address string, won bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.profiles[address]
	if !ok {
		return
	}
	if won {
		w.WinningTrades++
	} else {
		w.LosingTrades++
	}
}

// TopByVolume returns up to n wallets ordered by descending total volume.
// When nonSportsOnly is true, ranks by NonSportsVolumeUSD instead.
func (s *Store) TopByVolume(n int, nonSportsOnly bool) []*trade.WalletProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*trade.WalletProfile, 0, len(s.profiles))
	for _, w := range s.profiles {
		all = append(all, w)
	}

	volOf := func(w *trade.WalletProfile) float64 {
		if nonSportsOnly {
			return w.NonSportsVolumeUSD
		}
		return w.TotalVolumeUSD
	}
	sort.Slice(all, func(i, j int) bool { return volOf(all[i]) > volOf(all[j]) })

	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// Cleanup removes profiles whose LastSeen is older than maxInactiveDays,
// but only once the store holds more than minWalletsBeforeCleanup entries
// (§4.3, §4.8). Returns the number of profiles removed.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.profiles) <= s.cfg.MinWalletsBeforeCleanup {
		return 0
	}

	cutoff := now.AddDate(0, 0, -s.cfg.MaxInactiveDays)
	removed := 0
	for addr, w := range s.profiles {
		if w.LastSeen.Before(cutoff) {
			delete(s.profiles, addr)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("wallet store cleanup",
			zap.Int("removed", removed),
			zap.Int("remaining", len(s.profiles)),
		)
	}
	return removed
}

// Accumulation summarizes a wallet's recent position-building in a single
// market, read from existing position state (no new write-path state —
// see SPEC_FULL.md §9 "Position tracker accumulation view").
type Accumulation struct {
	Wallet    string
	MarketID  string
	NetShares float64
	NetUSD    float64
}

// TopAccumulators returns the wallets with the largest net position in
// marketID, ranked by absolute net USD exposure.
func (s *Store) TopAccumulators(marketID string, limit int) []Accumulation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Accumulation
	for addr, w := range s.profiles {
		byOutcome, ok := w.Positions[marketID]
		if !ok {
			continue
		}
		var netShares, netUSD float64
		for _, pos := range byOutcome {
			netShares += pos.NetShares()
			netUSD += pos.BuyUSD - pos.SellUSD
		}
		if netShares == 0 && netUSD == 0 {
			continue
		}
		out = append(out, Accumulation{Wallet: addr, MarketID: marketID, NetShares: netShares, NetUSD: netUSD})
	}

	sort.Slice(out, func(i, j int) bool {
		return absf(out[i].NetUSD) > absf(out[j].NetUSD)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Snapshot is a serializable export of the whole store, analogous to the
// teacher's CacheSnapshot in wallet_tracker.go.
type Snapshot struct {
	Version   int                          `json:"version"`
	Timestamp time.Time                    `json:"timestamp"`
	Wallets   map[string]trade.WalletProfile `json:"wallets"`
}

// Export returns a point-in-time snapshot of all profiles.
func (s *Store) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make(map[string]trade.WalletProfile, len(s.profiles))
	for addr, w := range s.profiles {
		wallets[addr] = *w
	}
	return &Snapshot{Version: 1, Timestamp: time.Now(), Wallets: wallets}
}

// ExportJSON marshals Export() to JSON.
func (s *Store) ExportJSON() ([]byte, error) {
	return json.Marshal(s.Export())
}

// Restore merges a snapshot into the store. Entries newer (by LastSeen)
// than an existing profile take precedence; unknown wallets are imported
// directly.
func (s *Store) Restore(snap *Snapshot) int {
	if snap == nil || len(snap.Wallets) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imported := 0
	for addr, w := range snap.Wallets {
		wCopy := w
		existing, ok := s.profiles[addr]
		if !ok || wCopy.LastSeen.After(existing.LastSeen) {
			s.profiles[addr] = &wCopy
			imported++
		}
	}
	s.logger.Info("wallet store restored",
		zap.Int("imported", imported),
		zap.Int("total", len(s.profiles)),
	)
	return imported
}

// NormalizeAddress lower-cases a wallet address, matching the venue
// adapter's "lower-casing trader addresses" normalization rule (§4.1), kept
// here so stores and detectors agree on one canonical form regardless of
// where a caller obtained the address string.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
