// Package notifier defines the outbound surface a consolidated alert
// crosses once emitted: dispatch to a channel, durable storage, and the
// market-question lookup the consolidator needs to populate
// Alert.MarketQuestion. Concrete Discord/Telegram/email sinks and a
// database-backed store are out of scope (§1, §6) — this package is
// interface-only plus one no-op/log implementation so the ingestion
// controller is runnable end-to-end without a real downstream, the same
// role zap.NewNop() plays for loggers throughout this module.
//
// Grounded on the teacher's Notifier/MultiNotifier shape in
// clients/notifier/notifier.go: a narrow interface plus a composing
// multi-implementation, generalized here from TradeAlert-specific logging
// to trade.Alert.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"whalewatch/internal/trade"
)

// ErrSinkFailure wraps a dispatch failure from an AlertSink (§7).
var ErrSinkFailure = errors.New("notifier: sink failure")

// ErrStoreFailure wraps a persistence failure from an AlertStore (§7).
var ErrStoreFailure = errors.New("notifier: store failure")

// AlertSink receives consolidated alerts for downstream delivery (Discord,
// Telegram, email, webhook — all out of scope bodies; only the seam is
// defined here).
type AlertSink interface {
	Send(ctx context.Context, alert trade.Alert) error
}

// AlertStore persists consolidated alerts for later retrieval (digest
// compilation, audit). Out of scope as a concrete durable store (§1); the
// interface lets ingest.Controller depend on a seam rather than a database
// driver. digest.Aggregate does not use it: it takes a []trade.Alert.
type AlertStore interface {
	Store(ctx context.Context, alert trade.Alert) error
	Recent(ctx context.Context, limit int) ([]trade.Alert, error)
}

// MarketQuestionsProvider resolves a market's display question for
// Alert.MarketQuestion. Backed by marketstore.Cache in practice; kept as an
// interface so the consolidator's caller isn't forced to import
// marketstore directly.
type MarketQuestionsProvider interface {
	MarketQuestion(marketID string) (string, bool)
}

// MultiSink broadcasts an alert to every registered AlertSink, matching the
// teacher's MultiNotifier fan-out and nil-filtering behavior.
type MultiSink struct {
	sinks []AlertSink
}

// NewMultiSink builds a MultiSink, dropping any nil entries.
func NewMultiSink(sinks ...AlertSink) *MultiSink {
	active := make([]AlertSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &MultiSink{sinks: active}
}

// Send dispatches to every registered sink, collecting failures rather
// than aborting on the first one (§7 batch-tolerant policy).
func (m *MultiSink) Send(ctx context.Context, alert trade.Alert) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d sinks failed: %v", ErrSinkFailure, len(errs), len(m.sinks), errors.Join(errs...))
}

// Count returns the number of active sinks.
func (m *MultiSink) Count() int { return len(m.sinks) }

// LogSink is a no-op/log-only AlertSink: it writes a structured log line
// per alert and otherwise does nothing, so the controller can run and be
// tested end-to-end without any real downstream wired in.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink. A nil logger falls back to zap.NewNop().
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, alert trade.Alert) error {
	types := make([]string, len(alert.AlertTypes))
	for i, t := range alert.AlertTypes {
		types[i] = string(t)
	}
	s.logger.Info("alert",
		zap.String("id", alert.ID),
		zap.Strings("types", types),
		zap.String("severity", string(alert.Severity)),
		zap.Int("severity_score", alert.SeverityScore),
		zap.String("wallet", alert.Trade.TraderID),
		zap.String("market", alert.Trade.MarketID),
		zap.Float64("amount_usd", alert.Trade.AmountUSD),
	)
	return nil
}

// MemoryStore is an in-process, bounded ring-buffer AlertStore, useful as
// the default AlertStore for tests and for digest.Aggregate over a short
// retention window without standing up a real database.
type MemoryStore struct {
	mu    sync.RWMutex
	cap   int
	items []trade.Alert
}

// NewMemoryStore builds a MemoryStore retaining at most capacity alerts,
// evicting oldest-first once full (same ring-buffer-by-slice-trim idiom as
// walletstore's timestamp ring).
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &MemoryStore{cap: capacity}
}

func (s *MemoryStore) Store(ctx context.Context, alert trade.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, alert)
	if len(s.items) > s.cap {
		s.items = s.items[len(s.items)-s.cap:]
	}
	return nil
}

// Recent returns up to limit most-recently-stored alerts, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]trade.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.items) {
		limit = len(s.items)
	}
	out := make([]trade.Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.items[len(s.items)-1-i]
	}
	return out, nil
}

// All returns every stored alert, oldest first, for digest aggregation.
func (s *MemoryStore) All() []trade.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trade.Alert, len(s.items))
	copy(out, s.items)
	return out
}
