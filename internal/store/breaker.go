package store

import (
	"time"

	gobreaker "github.com/sony/gobreaker"
)

// breaker wraps a named gobreaker.CircuitBreaker, adapted from the
// teacher's infra/breakers/breakers.go, one instance per store operation
// so a failing operation (e.g. a degraded replica) doesn't drag down
// unrelated ones.
type breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

func newBreaker(name string) *breaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(st), name: name}
}

func (b *breaker) execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}
