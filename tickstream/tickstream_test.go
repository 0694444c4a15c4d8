package tickstream

import (
	"testing"
	"time"

	"jax-backtest-kernel/cacheindex"
	"jax-backtest-kernel/datacache"
	"jax-backtest-kernel/domain"
)

func setupCache(t *testing.T) *datacache.Cache {
	t.Helper()
	dir := t.TempDir()
	idx, err := cacheindex.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return datacache.New(datacache.Config{Root: dir, Index: idx})
}

func TestStream_ChronologicalMergeAcrossSymbols(t *testing.T) {
	cache := setupCache(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	eur := []datacache.Row{
		{Time: day, Bid: 1.10, Ask: 1.1002},
		{Time: day.Add(2 * time.Second), Bid: 1.1001, Ask: 1.1003},
	}
	gbp := []datacache.Row{
		{Time: day.Add(time.Second), Bid: 1.27, Ask: 1.2702},
	}
	info := domain.SymbolInfo{}
	if err := cache.SaveDay("EURUSD", day, "ticks", eur, info, datacache.SourceLiveFeed); err != nil {
		t.Fatal(err)
	}
	if err := cache.SaveDay("GBPUSD", day, "ticks", gbp, info, datacache.SourceLiveFeed); err != nil {
		t.Fatal(err)
	}

	loader := New(Config{Cache: cache, DatasetKey: "ticks", Symbols: []string{"EURUSD", "GBPUSD"}})

	bySymbol := map[string][]DayFile{
		"EURUSD": {{Symbol: "EURUSD", Day: day}},
		"GBPUSD": {{Symbol: "GBPUSD", Day: day}},
	}

	var got []domain.GlobalTick
	err := loader.Stream(bySymbol, func(gt domain.GlobalTick) error {
		got = append(got, gt)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 merged ticks, got %d", len(got))
	}
	wantOrder := []string{"EURUSD", "GBPUSD", "EURUSD"}
	for i, sym := range wantOrder {
		if got[i].Symbol != sym {
			t.Errorf("tick %d: got symbol %s, want %s", i, got[i].Symbol, sym)
		}
	}
}

func TestStream_TieBreakBySymbolInsertionOrder(t *testing.T) {
	cache := setupCache(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	eur := []datacache.Row{{Time: day, Bid: 1.10, Ask: 1.1002}}
	gbp := []datacache.Row{{Time: day, Bid: 1.27, Ask: 1.2702}} // identical timestamp

	info := domain.SymbolInfo{}
	cache.SaveDay("EURUSD", day, "ticks", eur, info, datacache.SourceLiveFeed)
	cache.SaveDay("GBPUSD", day, "ticks", gbp, info, datacache.SourceLiveFeed)

	loader := New(Config{Cache: cache, DatasetKey: "ticks", Symbols: []string{"EURUSD", "GBPUSD"}})
	bySymbol := map[string][]DayFile{
		"EURUSD": {{Symbol: "EURUSD", Day: day}},
		"GBPUSD": {{Symbol: "GBPUSD", Day: day}},
	}

	for i := 0; i < 20; i++ {
		var got []domain.GlobalTick
		err := loader.Stream(bySymbol, func(gt domain.GlobalTick) error {
			got = append(got, gt)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got[0].Symbol != "EURUSD" {
			t.Fatalf("run %d: expected EURUSD first on tie, got %s", i, got[0].Symbol)
		}
	}
}

func TestStream_FiltersZeroBidAskTicks(t *testing.T) {
	cache := setupCache(t)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := []datacache.Row{
		{Time: day, Bid: 0, Ask: 0},
		{Time: day.Add(time.Second), Bid: 1.1, Ask: 1.1002},
	}
	info := domain.SymbolInfo{}
	cache.SaveDay("EURUSD", day, "ticks", rows, info, datacache.SourceLiveFeed)

	loader := New(Config{Cache: cache, DatasetKey: "ticks", Symbols: []string{"EURUSD"}})
	bySymbol := map[string][]DayFile{"EURUSD": {{Symbol: "EURUSD", Day: day}}}

	var got []domain.GlobalTick
	loader.Stream(bySymbol, func(gt domain.GlobalTick) error {
		got = append(got, gt)
		return nil
	})
	if len(got) != 1 {
		t.Fatalf("expected the bid==ask==0 tick to be filtered, got %d ticks", len(got))
	}
}
