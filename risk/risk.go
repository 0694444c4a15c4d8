// Package risk implements position-limit enforcement keyed by
// (symbol, side, strategy_id, range_id), per-trade lot sizing by percent
// risk, and a portfolio-wide risk cap.
package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"jax-backtest-kernel/domain"
)

// Policy is the immutable, loaded risk policy. Created once at startup and
// passed read-only through the system.
type Policy struct {
	MaxPositions        int     `json:"max_positions"`
	MaxPerTradeRiskPct  float64 `json:"max_per_trade_risk_pct"`
	MaxPortfolioRiskPct float64 `json:"max_portfolio_risk_pct"`

	// LoadedFrom is the file path the policy was read from (empty for
	// defaults).
	LoadedFrom string    `json:"-"`
	LoadedAt   time.Time `json:"-"`
	// Version is a hash of the serialised JSON, used for audit trail.
	Version string `json:"-"`
}

// LoadPolicy reads a JSON file and returns a validated Policy. Returns
// DefaultPolicy if path is empty or the file does not exist.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("risk: read policy file %q: %w", path, err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("risk: parse policy file %q: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("risk: invalid policy in %q: %w", path, err)
	}

	p.LoadedFrom = path
	p.LoadedAt = time.Now().UTC()
	p.Version = policyVersion(data)
	return &p, nil
}

// DefaultPolicy returns a conservative policy used when no file exists.
func DefaultPolicy() *Policy {
	p := &Policy{
		MaxPositions:        10,
		MaxPerTradeRiskPct:  0.02,
		MaxPortfolioRiskPct: 0.15,
		LoadedAt:            time.Now().UTC(),
	}
	b, _ := json.Marshal(p)
	p.Version = policyVersion(b)
	return p
}

func (p *Policy) validate() error {
	var errs []string
	if p.MaxPositions <= 0 {
		errs = append(errs, "max_positions must be > 0")
	}
	if p.MaxPerTradeRiskPct <= 0 || p.MaxPerTradeRiskPct > 1 {
		errs = append(errs, fmt.Sprintf("max_per_trade_risk_pct must be in (0,1], got %.4f", p.MaxPerTradeRiskPct))
	}
	if p.MaxPortfolioRiskPct <= 0 || p.MaxPortfolioRiskPct > 1 {
		errs = append(errs, fmt.Sprintf("max_portfolio_risk_pct must be in (0,1], got %.4f", p.MaxPortfolioRiskPct))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// policyVersion returns a short deterministic identifier for the policy
// JSON. Not a security hash, only an audit label.
func policyVersion(data []byte) string {
	h := uint64(14695981039346656037)
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return fmt.Sprintf("v%x", h&0xffffffffffff)
}

// ViolationCode is a machine-readable identifier for a specific breach.
type ViolationCode string

const (
	ViolationPositionLimit ViolationCode = "POSITION_LIMIT"
	ViolationTooManyOpen   ViolationCode = "TOO_MANY_OPEN_POSITIONS"
	ViolationPortfolioRisk ViolationCode = "PORTFOLIO_RISK_EXCEEDED"
)

// Violation describes a single policy breach.
type Violation struct {
	Code     ViolationCode
	Message  string
	Limit    float64
	Observed float64
}

func (v Violation) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (limit=%.4f, observed=%.4f)",
		v.Code, v.Message, v.Limit, v.Observed)
}

// Violations is a slice of Violation that also satisfies the error
// interface.
type Violations []Violation

func (vs Violations) Error() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, " | ")
}

// IsEmpty returns true when there are no violations.
func (vs Violations) IsEmpty() bool { return len(vs) == 0 }

// OpenPositionSummary is the minimal view of an open position the Manager
// needs for position-limit and portfolio-risk checks, decoupling this
// package from broker.
type OpenPositionSummary struct {
	Symbol     string
	Side       domain.Side
	StrategyID string
	RangeID    string
	EntryPrice float64
	SLPrice    float64
	VolumeLots float64
	Point      float64
	PointValue float64
}

// Manager applies a Policy to incoming signals and the current portfolio.
type Manager struct {
	policy *Policy
}

// NewManager creates a Manager backed by the given Policy.
func NewManager(policy *Policy) *Manager {
	return &Manager{policy: policy}
}

// Policy returns the manager's policy (for logging/audit).
func (m *Manager) Policy() *Policy { return m.policy }

// CanOpen checks whether a new signal for (symbol, side, strategyID,
// rangeID) may be opened against the current open positions and equity.
// confirmationsComplete indicates the incoming signal reports every
// confirmation its strategy defines; a fully confirmed signal is allowed
// to duplicate an existing (symbol, strategy, range) position.
func (m *Manager) CanOpen(
	symbol string,
	side domain.Side,
	strategyID, rangeID string,
	confirmationsComplete bool,
	open []OpenPositionSummary,
	equity float64,
) (bool, string) {
	if len(open) >= m.policy.MaxPositions {
		return false, Violation{
			Code:     ViolationTooManyOpen,
			Message:  fmt.Sprintf("open positions %d has reached maximum %d", len(open), m.policy.MaxPositions),
			Limit:    float64(m.policy.MaxPositions),
			Observed: float64(len(open)),
		}.Error()
	}

	if !confirmationsComplete {
		for _, p := range open {
			if p.Symbol == symbol && p.Side == side && p.StrategyID == strategyID && p.RangeID == rangeID {
				return false, Violation{
					Code:    ViolationPositionLimit,
					Message: fmt.Sprintf("position limit reached for %s/%s/%s/%s", symbol, side, strategyID, rangeID),
				}.Error()
			}
		}
	}

	if equity > 0 {
		portfolioRisk := 0.0
		for _, p := range open {
			if p.Point <= 0 || p.SLPrice <= 0 {
				continue
			}
			portfolioRisk += math.Abs(p.EntryPrice-p.SLPrice) / p.Point * p.PointValue * p.VolumeLots / equity
		}
		if portfolioRisk >= m.policy.MaxPortfolioRiskPct {
			return false, Violation{
				Code:     ViolationPortfolioRisk,
				Message:  fmt.Sprintf("portfolio risk %.4f has reached cap %.4f", portfolioRisk, m.policy.MaxPortfolioRiskPct),
				Limit:    m.policy.MaxPortfolioRiskPct,
				Observed: portfolioRisk,
			}.Error()
		}
	}

	return true, ""
}

// SizeLot computes the lot size for a risk_pct-sized trade: risk amount
// (equity * risk_pct) converted to lots via the instrument's tick
// size/value, clamped to [volume_min, volume_max] and rounded down to
// volume_step. Returns 0 if entry == sl (undefined risk distance) or the
// clamped size rounds down to zero.
func SizeLot(equity, entry, sl, riskPct float64, info domain.SymbolInfo) float64 {
	if entry == sl || info.TickSize <= 0 || info.TickValue <= 0 {
		return 0
	}
	riskAmount := equity * riskPct
	lots := riskAmount * info.TickSize / (math.Abs(entry-sl) * info.TickValue)

	if lots > info.VolumeMax {
		lots = info.VolumeMax
	}
	if info.VolumeStep > 0 {
		// The small tolerance keeps float noise in the division from
		// dropping an exact multiple of the step by one step.
		lots = math.Floor(lots/info.VolumeStep+1e-9) * info.VolumeStep
	}
	if lots < info.VolumeMin {
		return 0
	}
	return lots
}
