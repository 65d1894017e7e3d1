// Package algorithm defines the indicator algorithm contract (C2) and the
// pure calculation functions that implement it. Algorithms never hold an
// engine handle: they consume pre-assembled windows and return a value.
package algorithm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marketpulse/indicatorengine/internal/window"
)

// ParamType enumerates the typed parameter kinds a VariantParameter may
// declare.
type ParamType string

const (
	ParamInt     ParamType = "int"
	ParamFloat   ParamType = "float"
	ParamBool    ParamType = "boolean"
	ParamString  ParamType = "string"
	ParamJSON    ParamType = "json"
)

// VariantParameter is an algorithm-declared parameter definition used by
// the variant repository (C4) to validate and coerce persisted values.
type VariantParameter struct {
	Name          string
	Type          ParamType
	Default       any
	Min           *float64
	Max           *float64
	AllowedValues []any
	Required      bool
	Description   string
}

// Recognized refresh-interval override keys, tried in this order. See
// base_algorithm.py's get_refresh_override and SPEC_FULL.md §4.
var refreshOverrideKeys = []string{
	"refresh_interval_seconds",
	"refresh_interval_override",
	"r",
}

// Parameters wraps a resolved parameter map with typed accessors and the
// refresh-interval-override lookup. RefreshIntervalOverride mirrors the
// Python dataclass field of the same name and takes precedence over any
// parameter-map key.
type Parameters struct {
	Values                  map[string]any
	RefreshIntervalOverride *float64
}

// NewParameters wraps a plain map.
func NewParameters(values map[string]any) Parameters {
	if values == nil {
		values = map[string]any{}
	}
	return Parameters{Values: values}
}

// Get returns the raw value for key, or def if absent.
func (p Parameters) Get(key string, def any) any {
	if v, ok := p.Values[key]; ok {
		return v
	}
	return def
}

// GetFloat returns a float64 parameter, coercing ints/strings, or def.
func (p Parameters) GetFloat(key string, def float64) float64 {
	v, ok := p.Values[key]
	if !ok || v == nil {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return f
}

// GetInt returns an int parameter, coercing floats/strings, or def.
func (p Parameters) GetInt(key string, def int) int {
	f := p.GetFloat(key, float64(def))
	return int(f)
}

// GetString returns a string parameter or def.
func (p Parameters) GetString(key string, def string) string {
	v, ok := p.Values[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetBool returns a bool parameter, accepting the usual truthy/falsy
// string/number aliases, or def.
func (p Parameters) GetBool(key string, def bool) bool {
	v, ok := p.Values[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	case float64, int:
		f, _ := toFloat(v)
		return f != 0
	}
	return def
}

// GetRefreshOverride resolves the refresh-interval override following the
// documented precedence: the dataclass-style field first, then the
// recognized parameter-map keys in order. Returns (0, false) if none set.
func (p Parameters) GetRefreshOverride() (float64, bool) {
	if p.RefreshIntervalOverride != nil {
		return *p.RefreshIntervalOverride, true
	}
	for _, key := range refreshOverrideKeys {
		if v, ok := p.Values[key]; ok && v != nil {
			if f, ok := toFloat(v); ok && f != 0 {
				return f, true
			}
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Algorithm is the pure, engine-free contract every indicator implements.
type Algorithm interface {
	IndicatorType() string
	Name() string
	Description() string
	Category() string
	Parameters() []VariantParameter
	// WindowSpecs returns the window(s) this algorithm needs, given its
	// resolved parameters.
	WindowSpecs(params Parameters) []window.Spec
	IsTimeDriven() bool
	DefaultRefreshInterval() float64
	MinRefreshInterval() float64
	MaxRefreshInterval() float64
	// CalculateFromWindows is PURE: no engine handle, no I/O. windows are
	// ordered identically to WindowSpecs' return.
	CalculateFromWindows(windows []window.Window, params Parameters) *float64
}

// OrderBookAlgorithm is implemented by algorithms whose windows carry
// orderbook snapshots (bid/ask price+qty) rather than scalar values.
// Engines type-assert Algorithm to OrderBookAlgorithm to pick the right
// assembly/dispatch path.
type OrderBookAlgorithm interface {
	Algorithm
	CalculateFromOrderBookWindows(windows []window.OrderBookWindow, params Parameters) *float64
}

// CompositeAlgorithm is implemented by algorithms that combine price,
// volume and orderbook windows in a single calculation (e.g.
// DUMP_EXHAUSTION_SCORE). The engine assembles each kind separately using
// the Specs getters, then calls CalculateComposite.
type CompositeAlgorithm interface {
	Algorithm
	PriceSpecs(params Parameters) []window.Spec
	VolumeSpecs(params Parameters) []window.Spec
	OrderBookSpecs(params Parameters) []window.Spec
	CalculateComposite(price []window.Window, volume []window.Window, ob []window.OrderBookWindow, params Parameters) *float64
}

// CalculateRefreshInterval applies clamp(override, min, max) when an
// override key is present, else the algorithm's default.
func CalculateRefreshInterval(a Algorithm, params Parameters) float64 {
	if override, ok := params.GetRefreshOverride(); ok {
		return clamp(override, a.MinRefreshInterval(), a.MaxRefreshInterval())
	}
	return a.DefaultRefreshInterval()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// base provides the common default refresh-interval bounds and a default
// (non-time-driven) scheduling classification; concrete algorithms embed
// it and override what they need.
type base struct{}

func (base) DefaultRefreshInterval() float64 { return 1.0 }
func (base) MinRefreshInterval() float64     { return 0.5 }
func (base) MaxRefreshInterval() float64     { return 3600.0 }
func (base) IsTimeDriven() bool              { return false }
