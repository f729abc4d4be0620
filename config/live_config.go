// Hot-reload wrapper around Config (§6, §9): detector thresholds, the
// consolidator's trigger-count gate, and the cluster engine's edge
// parameters are all tunable without a process restart, the same
// swap-under-a-lock pattern the teacher used for its Discord/Telegram
// settings store, generalized here to whalewatch's own Config tree.
package config

import (
	"sync"
	"time"
)

// ConfigObserver is notified whenever LiveConfig.Update installs a new,
// already-validated Config — e.g. a running ingest.Controller that wants to
// pick up a revised WhaleThresholdUSD on its next evaluate() call without
// being reconstructed.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// LiveConfig is a thread-safe, hot-swappable holder of the core's Config
// tree: a pointer swap under a RWMutex, not a field-by-field merge, so a
// reader always sees either the whole old Config or the whole new one.
type LiveConfig struct {
	mu        sync.RWMutex
	config    *Config
	observers []ConfigObserver
	obsMu     sync.RWMutex

	// lastUpdated records when the last successful Update landed, surfaced
	// for operational visibility (e.g. "has this deployment's threshold
	// change actually taken effect").
	lastUpdated time.Time
}

// NewLiveConfig wraps initial (or config.Defaults() if nil) for hot-reload.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		observers:   make([]ConfigObserver, 0),
		lastUpdated: time.Now(),
	}
}

// Get returns a deep copy of the current config, safe to call from the
// stream/poll/worker goroutines concurrently with an in-flight Update.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// GetDirect returns the current config without cloning. Cheaper than Get,
// but the caller must treat the result as read-only — e.g. a detector
// battery run that reads Config.Detectors once per trade and never holds
// the pointer past that call.
func (lc *LiveConfig) GetDirect() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config
}

// Update validates newConfig (Config.Validate) and, if valid, swaps it in
// atomically and notifies observers. A rejected update leaves the
// previously running thresholds untouched rather than partially applying
// the revision.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Notified outside the lock: an observer that calls back into LiveConfig
	// (e.g. Get) must not deadlock against Update's own lock.
	lc.notifyObservers(cloned)

	return nil
}

// UpdatePartial applies updateFn to a clone of the current config (e.g.
// bumping just Detectors.WhaleThresholdUSD) and runs it through the same
// validate-then-swap path as Update.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	lc.mu.Lock()
	newConfig := lc.config.Clone()
	lc.mu.Unlock()

	updateFn(newConfig)

	return lc.Update(newConfig)
}

// AddObserver registers obs to be notified on every successful Update.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// RemoveObserver undoes a prior AddObserver.
func (lc *LiveConfig) RemoveObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	for i, o := range lc.observers {
		if o == obs {
			lc.observers = append(lc.observers[:i], lc.observers[i+1:]...)
			return
		}
	}
}

// notifyObservers notifies all registered observers of a config change.
func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		// Clone for each observer to prevent mutations
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last swapped in.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError wraps the Config.Validate failures that blocked an
// Update (e.g. a negative WhaleThresholdUSD or an out-of-range
// ContrarianProbability — see validation.go).
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
