package observability

import (
	"context"
	"testing"
)

func TestWithRunInfoRoundTrip(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "run_1", Symbol: "EURUSD", StrategyID: "trend"})
	got := RunInfoFromContext(ctx)
	if got.RunID != "run_1" || got.Symbol != "EURUSD" || got.StrategyID != "trend" {
		t.Fatalf("unexpected RunInfo: %+v", got)
	}
}

func TestWithRunInfoPartial(t *testing.T) {
	ctx := WithRunInfo(context.Background(), RunInfo{RunID: "run_2"})
	got := RunInfoFromContext(ctx)
	if got.RunID != "run_2" {
		t.Fatalf("expected run id to survive, got %+v", got)
	}
	if got.Symbol != "" || got.StrategyID != "" {
		t.Fatalf("expected empty fields to stay empty, got %+v", got)
	}
}

func TestRunInfoFromContextEmpty(t *testing.T) {
	got := RunInfoFromContext(context.Background())
	if got != (RunInfo{}) {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestWithSymbol(t *testing.T) {
	ctx := WithSymbol(context.Background(), "GBPUSD")
	if got := RunInfoFromContext(ctx).Symbol; got != "GBPUSD" {
		t.Fatalf("expected GBPUSD, got %q", got)
	}
	// Empty symbol must not overwrite an existing one.
	ctx = WithSymbol(ctx, "")
	if got := RunInfoFromContext(ctx).Symbol; got != "GBPUSD" {
		t.Fatalf("expected symbol to remain GBPUSD, got %q", got)
	}
}
