// Package registry implements the algorithm registry (C3): discovery,
// lookup, and per-instance refresh-interval computation.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
)

// Registry holds the set of known algorithms, keyed by indicator type.
// auto_discover is idempotent within a process: a second call is a
// no-op, guarded by discoveryAttempted, mirroring
// algorithm_registry.py's _discovery_attempted flag.
type Registry struct {
	mu                 sync.RWMutex
	algorithms         map[string]algorithm.Algorithm
	discoveryAttempted bool
}

// New returns an empty registry; call AutoDiscover to populate it.
func New() *Registry {
	return &Registry{algorithms: make(map[string]algorithm.Algorithm)}
}

// builtins returns every algorithm shipped with this package. Adding a
// new algorithm means adding it here (the Go equivalent of the Python
// glob-based module scan, since Go has no runtime package scanning).
func builtins() []algorithm.Algorithm {
	return []algorithm.Algorithm{
		algorithm.NewTWPA(),
		algorithm.NewTWPARatio(),
		algorithm.NewPumpMagnitudePct(),
		algorithm.NewPriceVelocity(),
		algorithm.NewVolumeSurgeRatio(),
		algorithm.NewVelocityCascade(),
		algorithm.NewLiquidityDrainIndex(),
		algorithm.NewMomentumReversalIndex(),
		algorithm.NewBidAskImbalance(),
		algorithm.NewDumpExhaustionScore(),
		algorithm.NewSupportLevelProximity(),
		algorithm.NewVelocityStabilizationIndex(),
		algorithm.NewSMA(),
		algorithm.NewEMA(),
		algorithm.NewRSI(),
	}
}

// AutoDiscover registers every builtin algorithm by its IndicatorType.
// Duplicate registration logs a warning and overwrites the previous
// binding. Idempotent: a second call returns the existing count without
// re-registering.
func (r *Registry) AutoDiscover() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.discoveryAttempted {
		log.Debug().
			Int("count", len(r.algorithms)).
			Msg("indicator_algorithm_registry.discovery_skipped_already_attempted")
		return len(r.algorithms)
	}

	log.Info().Msg("indicator_algorithm_registry.discovery_started")
	for _, a := range builtins() {
		r.register(a)
	}
	r.discoveryAttempted = true

	log.Info().
		Int("count", len(r.algorithms)).
		Msg("indicator_algorithm_registry.discovery_completed")
	return len(r.algorithms)
}

// register is the unlocked internal register used both by AutoDiscover
// and by Register (for test injection of fakes).
func (r *Registry) register(a algorithm.Algorithm) {
	indicatorType := a.IndicatorType()
	if _, exists := r.algorithms[indicatorType]; exists {
		log.Warn().
			Str("indicator_type", indicatorType).
			Msg("indicator_algorithm_registry.duplicate_registration_overwritten")
	}
	r.algorithms[indicatorType] = a
}

// Register adds or overwrites a single algorithm binding, independent of
// AutoDiscover's idempotency guard. Used by tests to inject fakes.
func (r *Registry) Register(a algorithm.Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(a)
}

// Get returns the algorithm bound to type, or nil if unknown.
func (r *Registry) Get(indicatorType string) algorithm.Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.algorithms[indicatorType]
}

// ListByCategory returns every algorithm in the given category.
func (r *Registry) ListByCategory(category string) []algorithm.Algorithm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []algorithm.Algorithm
	for _, a := range r.algorithms {
		if a.Category() == category {
			out = append(out, a)
		}
	}
	return out
}

// IndicatorTypes returns every registered indicator type.
func (r *Registry) IndicatorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.algorithms))
	for id := range r.algorithms {
		out = append(out, id)
	}
	return out
}

// Categories returns the distinct set of categories currently registered.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.algorithms {
		if !seen[a.Category()] {
			seen[a.Category()] = true
			out = append(out, a.Category())
		}
	}
	return out
}

// ComputeRefreshInterval resolves the refresh interval for indicatorType
// given params, or nil if the type is unknown.
func (r *Registry) ComputeRefreshInterval(indicatorType string, params algorithm.Parameters) *float64 {
	a := r.Get(indicatorType)
	if a == nil {
		return nil
	}
	v := algorithm.CalculateRefreshInterval(a, params)
	return &v
}
