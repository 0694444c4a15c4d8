package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"jax-backtest-kernel/domain"
)

func TestWriteTradeAndEquityRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	trade := domain.ClosedTrade{
		Ticket:        1,
		Symbol:        "EURUSD",
		Side:          domain.Buy,
		VolumeLots:    0.5,
		OpenPrice:     1.1000,
		OpenTime:      time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		ClosePrice:    1.1050,
		CloseTime:     time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC),
		CloseReason:   domain.CloseTP,
		StrategyID:    "fakeout",
		RangeID:       "r1",
		Confirmations: []string{"volume", "breakout"},
		Profit:        25,
	}
	if err := w.WriteTrade(trade); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEquityPoint(EquityPoint{Time: trade.CloseTime, Balance: 10025, Equity: 10025}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tf, err := os.Open(dir + "/trades.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer tf.Close()
	scanner := bufio.NewScanner(tf)
	if !scanner.Scan() {
		t.Fatal("expected one trade line")
	}
	var rec TradeRecord
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Ticket != 1 || rec.Symbol != "EURUSD" || rec.Confirmations != "volume,breakout" {
		t.Errorf("unexpected record: %+v", rec)
	}

	ef, err := os.Open(dir + "/equity_curve.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	scanner = bufio.NewScanner(ef)
	if !scanner.Scan() {
		t.Fatal("expected one equity line")
	}
	var pt EquityPoint
	if err := json.Unmarshal(scanner.Bytes(), &pt); err != nil {
		t.Fatal(err)
	}
	if pt.Balance != 10025 {
		t.Errorf("got balance %v, want 10025", pt.Balance)
	}
}
