// Package broker implements the simulated broker: position lifecycle,
// intra-tick SL/TP detection, margin/profit accounting, and order
// rejection rules. It is the sole owner of positions and the balance
// scalar; nothing outside this package mutates them.
package broker

import (
	"log"
	"sync"
	"time"

	"jax-backtest-kernel/domain"
)

// SpreadPolicy controls how the broker derives Buy/Sell prices from a tick
// when a strategy or config asks for a fixed spread instead of the tick's
// own bid/ask.
type SpreadPolicy struct {
	FixedPoints float64 // if > 0, overrides the tick's bid/ask spread
	FromTick    bool    // use the tick's own bid/ask verbatim
}

// SlippagePolicy models fill slippage as base_points + k*volume_factor,
// expressed in price points.
type SlippagePolicy struct {
	Enabled      bool
	BasePoints   float64
	VolumeFactor float64
}

func (p SlippagePolicy) points(volume float64) float64 {
	if !p.Enabled {
		return 0
	}
	return p.BasePoints + p.VolumeFactor*volume
}

// Broker is the read-only view strategies and trade managers are handed;
// SimulatedBroker implements it. Kept small and interface-based per the
// single-Broker-abstraction design: a live broker could implement the same
// contract.
type Broker interface {
	CurrentPrice(symbol string, side domain.Side) (float64, bool)
	CurrentTime() time.Time
	OpenPositions(symbol string, magic int64) []domain.Position
	Equity() float64
	PositionView(ticket uint64) (domain.Position, bool)
}

// SimulatedBroker owns positions, balance, and equity for one backtest run.
type SimulatedBroker struct {
	mu sync.Mutex

	balance        float64
	initialBalance float64
	leverage       float64

	positions         map[uint64]*domain.Position
	positionsBySymbol map[string]map[uint64]struct{}
	closedTrades      []domain.ClosedTrade
	nextTicket        uint64

	currentTime         time.Time
	currentTickBySymbol map[string]domain.Tick
	currentTickSymbol   string

	symbolInfo map[string]domain.SymbolInfo

	spread   SpreadPolicy
	slippage SlippagePolicy

	logger *log.Logger
}

// Config bundles the construction-time parameters of a SimulatedBroker.
type Config struct {
	InitialBalance float64
	Leverage       float64
	Spread         SpreadPolicy
	Slippage       SlippagePolicy
	SymbolInfo     map[string]domain.SymbolInfo
	Logger         *log.Logger
}

// New constructs a SimulatedBroker ready to replay ticks.
func New(cfg Config) *SimulatedBroker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SimulatedBroker{
		balance:             cfg.InitialBalance,
		initialBalance:      cfg.InitialBalance,
		leverage:            cfg.Leverage,
		positions:           make(map[uint64]*domain.Position),
		positionsBySymbol:   make(map[string]map[uint64]struct{}),
		currentTickBySymbol: make(map[string]domain.Tick),
		symbolInfo:          cfg.SymbolInfo,
		spread:              cfg.Spread,
		slippage:            cfg.Slippage,
		logger:              logger,
	}
}
