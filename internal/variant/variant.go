// Package variant implements the variant repository (C4): CRUD over
// persisted indicator-variant rows, with parameter validation/coercion
// delegated to the algorithm registry (C3).
package variant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/errs"
	"github.com/marketpulse/indicatorengine/internal/registry"
)

// Variant is the persisted indicator-variant row (§3 IndicatorVariant).
type Variant struct {
	ID                string
	Name              string
	BaseIndicatorType string
	VariantType       string
	Description       string
	Parameters        map[string]any
	IsSystem          bool
	CreatedBy         string
	UserID            string
	Scope             string
	IsDeleted         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
	SchemaVersion     int
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Name              string
	BaseIndicatorType string
	VariantType       string
	Description       string
	Parameters        map[string]any
	CreatedBy         string
	UserID            string
	Scope             string
	IsSystem          bool
}

// UpdateInput is the payload for Update; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Parameters  map[string]any
	Scope       *string
}

// ListFilters narrows List's result set.
type ListFilters struct {
	VariantType       string
	BaseIndicatorType string
	Scope             string
	UserID            string
	IncludeGlobal     bool
}

// Validator resolves algorithms and validates/coerces parameters against
// their declarations. *registry.Registry satisfies this.
type Validator interface {
	Get(indicatorType string) algorithm.Algorithm
}

var _ Validator = (*registry.Registry)(nil)

// ValidateAndCoerce resolves baseIndicatorType (uppercased) in the
// registry, validates every provided parameter against its definition,
// coerces types, and fills defaults for missing required parameters that
// declare one. Returns the coerced parameter map or an error wrapping
// errs.ErrUnknownAlgorithm / errs.ErrInvalidParameter.
func ValidateAndCoerce(v Validator, baseIndicatorType string, params map[string]any) (map[string]any, error) {
	indicatorType := strings.ToUpper(baseIndicatorType)
	alg := v.Get(indicatorType)
	if alg == nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnknownAlgorithm, indicatorType)
	}

	defs := alg.Parameters()
	out := make(map[string]any, len(params))
	declared := make(map[string]algorithm.VariantParameter, len(defs))
	for _, d := range defs {
		declared[d.Name] = d
	}

	for name, raw := range params {
		def, ok := declared[name]
		if !ok {
			// Unknown keys are passed through (algorithms may accept
			// auxiliary keys like refresh_interval_override), matching
			// the original's permissive param dict.
			out[name] = raw
			continue
		}
		coerced, err := coerce(def, raw)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}

	for _, d := range defs {
		if _, present := out[d.Name]; present {
			continue
		}
		if d.Required {
			if d.Default == nil {
				return nil, fmt.Errorf("%w: %s is required", errs.ErrInvalidParameter, d.Name)
			}
			out[d.Name] = d.Default
		} else if d.Default != nil {
			out[d.Name] = d.Default
		}
	}

	return out, nil
}

func coerce(def algorithm.VariantParameter, raw any) (any, error) {
	switch def.Type {
	case algorithm.ParamInt:
		f, ok := numeric(raw)
		if !ok || f != float64(int64(f)) {
			return nil, fmt.Errorf("%w: %s must be an integer", errs.ErrInvalidParameter, def.Name)
		}
		if err := checkRange(def, f); err != nil {
			return nil, err
		}
		return int64(f), nil
	case algorithm.ParamFloat:
		f, ok := numeric(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be numeric", errs.ErrInvalidParameter, def.Name)
		}
		if err := checkRange(def, f); err != nil {
			return nil, err
		}
		return f, nil
	case algorithm.ParamBool:
		b, ok := boolean(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be boolean", errs.ErrInvalidParameter, def.Name)
		}
		return b, nil
	case algorithm.ParamString:
		s := fmt.Sprintf("%v", raw)
		if err := checkAllowed(def, s); err != nil {
			return nil, err
		}
		return s, nil
	case algorithm.ParamJSON:
		return raw, nil
	default:
		return raw, nil
	}
}

func numeric(raw any) (float64, bool) {
	switch t := raw.(type) {
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

func boolean(raw any) (bool, bool) {
	switch t := raw.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		}
	case float64, int, int64:
		f, _ := numeric(raw)
		return f != 0, true
	}
	return false, false
}

func checkRange(def algorithm.VariantParameter, f float64) error {
	if def.Min != nil && f < *def.Min {
		return fmt.Errorf("%w: %s below minimum %v", errs.ErrInvalidParameter, def.Name, *def.Min)
	}
	if def.Max != nil && f > *def.Max {
		return fmt.Errorf("%w: %s above maximum %v", errs.ErrInvalidParameter, def.Name, *def.Max)
	}
	if len(def.AllowedValues) > 0 {
		return checkAllowed(def, f)
	}
	return nil
}

func checkAllowed(def algorithm.VariantParameter, v any) error {
	if len(def.AllowedValues) == 0 {
		return nil
	}
	for _, allowed := range def.AllowedValues {
		if fmt.Sprintf("%v", allowed) == fmt.Sprintf("%v", v) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in allowed values", errs.ErrInvalidParameter, def.Name)
}

// NewID generates a fresh variant identifier.
func NewID() string { return uuid.New().String() }
