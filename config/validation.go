package config

import (
	"fmt"

	"whalewatch/internal/cluster"
	"whalewatch/internal/consolidator"
	"whalewatch/internal/detectors"
	"whalewatch/internal/ingest"
	"whalewatch/internal/walletstore"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values, matching the teacher's
// per-block validate* decomposition (config/validation.go) adapted to this
// module's component Configs.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateDetectors(&c.Detectors)...)
	errors = append(errors, validateConsolidator(&c.Consolidator)...)
	errors = append(errors, validateCluster(&c.Cluster)...)
	errors = append(errors, validateWallets(&c.Wallets)...)
	errors = append(errors, validateIngest(&c.Ingest)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateDetectors(d *detectors.Config) []ValidationError {
	var errs []ValidationError
	if d.WhaleThresholdUSD <= 0 {
		errs = append(errs, ValidationError{Field: "detectors.whale_threshold_usd", Message: "must be positive"})
	}
	if d.StdMultiplier <= 0 {
		errs = append(errs, ValidationError{Field: "detectors.std_multiplier", Message: "must be positive"})
	}
	if d.MinTradesForStats < 2 {
		errs = append(errs, ValidationError{Field: "detectors.min_trades_for_stats", Message: "must be at least 2 (sample stddev needs n>=2)"})
	}
	if d.ExtremeConfidenceLow < 0 || d.ExtremeConfidenceLow > 1 {
		errs = append(errs, ValidationError{Field: "detectors.extreme_confidence_low", Message: "must be within [0,1]"})
	}
	if d.ExtremeConfidenceHigh < 0 || d.ExtremeConfidenceHigh > 1 {
		errs = append(errs, ValidationError{Field: "detectors.extreme_confidence_high", Message: "must be within [0,1]"})
	}
	if d.VIP.MinWinRate < 0 || d.VIP.MinWinRate > 1 {
		errs = append(errs, ValidationError{Field: "detectors.vip.min_win_rate", Message: "must be within [0,1]"})
	}
	return errs
}

func validateConsolidator(c *consolidator.Config) []ValidationError {
	var errs []ValidationError
	if c.MinTriggersRequired < 1 {
		errs = append(errs, ValidationError{Field: "consolidator.min_triggers_required", Message: "must be at least 1"})
	}
	if c.MinAlertThresholdUSD < 0 {
		errs = append(errs, ValidationError{Field: "consolidator.min_alert_threshold_usd", Message: "must be non-negative"})
	}
	if c.CryptoMinThresholdUSD < 0 {
		errs = append(errs, ValidationError{Field: "consolidator.crypto_min_threshold_usd", Message: "must be non-negative"})
	}
	return errs
}

func validateCluster(c *cluster.Config) []ValidationError {
	var errs []ValidationError
	if c.EntityEdgeThreshold <= 0 {
		errs = append(errs, ValidationError{Field: "cluster.entity_edge_threshold", Message: "must be positive"})
	}
	if c.EdgeHalflife <= 0 {
		errs = append(errs, ValidationError{Field: "cluster.edge_halflife_seconds", Message: "must be positive"})
	}
	if c.OverlapJaccardThreshold < 0 || c.OverlapJaccardThreshold > 1 {
		errs = append(errs, ValidationError{Field: "cluster.overlap_jaccard_threshold", Message: "must be within [0,1]"})
	}
	return errs
}

func validateWallets(w *walletstore.Config) []ValidationError {
	var errs []ValidationError
	if w.MaxInactiveDays <= 0 {
		errs = append(errs, ValidationError{Field: "wallets.max_inactive_days", Message: "must be positive"})
	}
	if w.MinWalletsBeforeCleanup < 0 {
		errs = append(errs, ValidationError{Field: "wallets.min_wallets_before_cleanup", Message: "must be non-negative"})
	}
	return errs
}

func validateIngest(i *ingest.Config) []ValidationError {
	var errs []ValidationError
	if i.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "ingest.poll_interval", Message: "must be positive"})
	}
	if i.DedupTrimTo > i.DedupCapacity {
		errs = append(errs, ValidationError{Field: "ingest.dedup_trim_to", Message: "must not exceed dedup_capacity"})
	}
	return errs
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
