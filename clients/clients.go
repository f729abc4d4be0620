// Package clients bundles the concrete venue adapters and the alert sink
// this module ships with, the way the teacher's clients.Clients bundled its
// Discord/Telegram/Polymarket/Gist clients behind one constructor consumed
// by main.go. Notification-channel adapters beyond the log sink are out of
// scope (§1); this bundle wires only what the Ingestion Controller needs to
// run end-to-end.
package clients

import (
	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/clients/venue"
	"whalewatch/clients/venue/kalshi"
	"whalewatch/clients/venue/polymarket"
	"whalewatch/config"
)

// Clients holds every out-of-process collaborator the runner wires into the
// Ingestion Controller.
type Clients struct {
	Logger *zap.Logger

	Polymarket *polymarket.Client
	Kalshi     *kalshi.Client

	// Adapters lists every configured venue.Adapter in the fixed order the
	// controller fans trades in from (§4.8).
	Adapters []venue.Adapter

	Sink  notifier.AlertSink
	Store notifier.AlertStore
}

// New builds the venue adapters and the default log-only/in-memory alert
// surface from cfg. Concrete Discord/Telegram/email/push sinks are out of
// scope (§1) — callers needing real delivery supply their own
// notifier.AlertSink and assign it over Clients.Sink before starting the
// controller.
func New(logger *zap.Logger, cfg *config.Config) *Clients {
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := polymarket.NewClient(logger, polymarket.Options{
		GammaBaseURL: cfg.Polymarket.GammaBaseURL,
		DataBaseURL:  cfg.Polymarket.DataBaseURL,
	})
	ka := kalshi.NewClient(logger, kalshi.Options{
		BaseURL: cfg.Kalshi.BaseURL,
	})

	return &Clients{
		Logger:     logger,
		Polymarket: pm,
		Kalshi:     ka,
		Adapters:   []venue.Adapter{pm, ka},
		Sink:       notifier.NewLogSink(logger),
		Store:      notifier.NewMemoryStore(10_000),
	}
}
