// Package resilience wraps cold-path data fetches (cache misses that must
// go out to a TickSource/CandleSource/ArchiveFetcher) in a circuit
// breaker, so a persistently failing collaborator is shed quickly instead
// of stalling DataLoader's parallel day-fetch workers one by one.
package resilience

import (
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config defines a circuit breaker's trip/reset behavior.
type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	MaxFailures   uint32
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns sensible defaults for a named breaker.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		MaxFailures: 5,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[resilience:%s] state changed: %s -> %s", name, from, to)
		},
	}
}

// Breaker wraps gobreaker's generic CircuitBreaker[T] so callers get their
// concrete result type back from Execute without any/interface{} boxing.
type Breaker[T any] struct {
	cb   *gobreaker.CircuitBreaker[T]
	name string
}

// New creates a Breaker[T] from cfg.
func New[T any](cfg Config) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= cfg.MaxFailures || failureRatio >= 0.6)
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings), name: cfg.Name}
}

// Execute runs fn with circuit-breaker protection.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

// State returns the breaker's current state.
func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker's name.
func (b *Breaker[T]) Name() string {
	return b.name
}
