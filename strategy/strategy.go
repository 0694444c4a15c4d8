// Package strategy defines the callback contract the replay loop invokes
// polymorphically, plus a thread-safe registry of configured strategy
// instances.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"jax-backtest-kernel/broker"
	"jax-backtest-kernel/candle"
	"jax-backtest-kernel/domain"
	"jax-backtest-kernel/timeframe"
)

// Strategy is a callback object the controller dispatches into. Signal
// emission must be pure with respect to broker state: the engine, not the
// strategy, performs the resulting order.
type Strategy interface {
	// ID is the strategy's identifier, used in position comments and risk
	// keys.
	ID() string
	// RequiredTimeframes returns the set of timeframes whose newly-closed
	// candles should trigger OnTick. A nil/empty return means the
	// strategy is tick-only and is invoked unconditionally.
	RequiredTimeframes() []timeframe.Timeframe
	// OnTick is called when required timeframes produce a new candle (or
	// every tick, for a tick-only strategy). A nil return means no
	// signal.
	OnTick(ctx *Context) *domain.TradeSignal
}

// Metadata describes a registered strategy for presentation/audit
// purposes; the core only calls into Strategy itself.
type Metadata struct {
	Name        string
	Description string
	Version     string
}

// Context is the read-only handle strategies use to query broker state. It
// also holds a per-invocation candle-lookup cache so repeated
// (timeframe, count) queries within one OnTick call don't hit the
// CandleBuilder snapshot cache more than once.
type Context struct {
	Symbol  string
	Broker  broker.Broker
	builder *candle.Builder
	cache   map[candleCacheKey]*candle.Series
}

type candleCacheKey struct {
	tf    timeframe.Timeframe
	count int
}

// NewContext constructs a Context for one strategy dispatch.
func NewContext(symbol string, b broker.Broker, builder *candle.Builder) *Context {
	return &Context{Symbol: symbol, Broker: b, builder: builder, cache: make(map[candleCacheKey]*candle.Series)}
}

// Candles returns the last count completed candles for tf, from the
// per-invocation cache if this exact (tf, count) was already requested.
func (c *Context) Candles(tf timeframe.Timeframe, count int) (*candle.Series, error) {
	key := candleCacheKey{tf: tf, count: count}
	if s, ok := c.cache[key]; ok {
		return s, nil
	}
	s, err := c.builder.Snapshot(tf, count)
	if err != nil {
		return nil, err
	}
	c.cache[key] = s
	return s, nil
}

// CurrentPrice returns the current best price for the context's symbol on
// side.
func (c *Context) CurrentPrice(side domain.Side) (float64, bool) {
	return c.Broker.CurrentPrice(c.Symbol, side)
}

// OpenPositions returns the context symbol's open positions, optionally
// filtered by magic number (0 = no filter).
func (c *Context) OpenPositions(magic int64) []domain.Position {
	return c.Broker.OpenPositions(c.Symbol, magic)
}

// Registry is the directory of strategy instances configured for a run.
// The controller resolves assignment IDs through it once at wiring time;
// the hot loop afterwards holds direct Strategy references, never the
// registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	strategy Strategy
	meta     Metadata
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register adds s under its own ID together with its metadata. Nil
// strategies, empty IDs, and duplicate registrations are rejected.
func (r *Registry) Register(s Strategy, meta Metadata) error {
	if s == nil {
		return fmt.Errorf("strategy: cannot register nil strategy")
	}
	id := s.ID()
	if id == "" {
		return fmt.Errorf("strategy: ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("strategy: %s already registered", id)
	}
	r.entries[id] = registryEntry{strategy: s, meta: meta}
	return nil
}

// Get returns the strategy registered under id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("strategy: %s not found", id)
	}
	return e.strategy, nil
}

// IDs returns the registered strategy IDs in sorted order, for
// deterministic startup logging and config validation messages.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns the metadata recorded for id, reporting whether the
// strategy is registered at all.
func (r *Registry) Describe(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.meta, ok
}
