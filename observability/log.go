package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// entry is one structured log line: timestamp, level, event name, trace
// ids, free-form fields.
type entry struct {
	Time       time.Time      `json:"ts"`
	Level      string         `json:"level"`
	Event      string         `json:"event"`
	RunID      string         `json:"run_id,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// AsyncLogger drains structured log entries through a bounded channel on
// a single background goroutine, so the hot replay loop never blocks on
// stdout I/O. The loop runs at tick rate; synchronous writes there would
// dominate the run.
type AsyncLogger struct {
	out     *log.Logger
	ch      chan entry
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsyncLogger starts the background drain goroutine, writing JSON
// lines to stdout. bufSize bounds the channel; entries submitted while
// the channel is full are dropped rather than blocking the caller, and
// Dropped reports how many were lost.
func NewAsyncLogger(bufSize int) *AsyncLogger {
	if bufSize <= 0 {
		bufSize = 4096
	}
	l := &AsyncLogger{
		out:  log.New(os.Stdout, "", 0),
		ch:   make(chan entry, bufSize),
		done: make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *AsyncLogger) drain() {
	defer close(l.done)
	for e := range l.ch {
		buf, err := json.Marshal(e)
		if err != nil {
			l.out.Printf(`{"level":"error","event":"log_marshal_failed","err":%q}`, err.Error())
			continue
		}
		l.out.Println(string(buf))
	}
}

// LogEvent submits a structured log entry. Non-blocking: if the channel
// is full the entry is dropped and accounted for, never stalling the
// replay loop.
func (l *AsyncLogger) LogEvent(ctx context.Context, level, event string, fields map[string]any) {
	info := RunInfoFromContext(ctx)
	e := entry{
		Time:       time.Now(),
		Level:      level,
		Event:      event,
		RunID:      info.RunID,
		Symbol:     info.Symbol,
		StrategyID: info.StrategyID,
		Fields:     fields,
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many log entries have been discarded so far due to
// a full buffer.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close stops accepting new entries and blocks until the drain goroutine
// has flushed everything already queued.
func (l *AsyncLogger) Close() {
	close(l.ch)
	<-l.done
}
