package observability

import "github.com/google/uuid"

// NewRunID mints a unique identifier for one backtest run.
func NewRunID() string {
	return "run_" + uuid.NewString()
}

// NewFlowID mints a unique identifier for one logical sub-flow within a
// run (e.g. a single symbol's data-loading phase).
func NewFlowID() string {
	return "flow_" + uuid.NewString()
}
