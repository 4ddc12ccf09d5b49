// Package logger implements a non-blocking, batched usage logger.
//
// Log entries are written to an internal buffered channel and flushed in
// batches by a background goroutine — so logging never blocks the request hot
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedLogs.
//
// Two sinks: slog (always) and ClickHouse (optional, for analytics). A
// failed ClickHouse flush is logged and the batch is dropped; usage logging
// is best-effort by design.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

const insertQuery = `INSERT INTO uir_requests
	(request_id, operation, providers, status, result_count, latency_ms, cache_hit, created_at)`

// RequestLog is one completed retrieval request.
type RequestLog struct {
	RequestID   string
	Operation   string // search | vector_search | hybrid_search | retrieve
	Providers   []string
	Status      string
	ResultCount uint32
	LatencyMs   uint32
	CacheHit    bool
	CreatedAt   time.Time
}

type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	conn    driver.Conn
}

// New creates a Logger with the slog sink only.
func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	return newLogger(ctx, slogger, nil)
}

// NewWithClickHouse creates a Logger that also flushes batches to a
// ClickHouse table. addr is host:port.
func NewWithClickHouse(ctx context.Context, slogger *slog.Logger, addr string) (*Logger, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return newLogger(ctx, slogger, conn)
}

func newLogger(ctx context.Context, slogger *slog.Logger, conn driver.Conn) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		conn:    conn,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues one entry; never blocks.
func (l *Logger) Log(entry RequestLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]RequestLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "request",
				slog.String("request_id", e.RequestID),
				slog.String("operation", e.Operation),
				slog.String("providers", strings.Join(e.Providers, ",")),
				slog.String("status", e.Status),
				slog.Uint64("result_count", uint64(e.ResultCount)),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Bool("cache_hit", e.CacheHit),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		if l.conn != nil {
			if err := l.insert(ctx, batch); err != nil {
				l.log.WarnContext(ctx, "usage_flush_failed", slog.String("error", err.Error()))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func (l *Logger) insert(ctx context.Context, entries []RequestLog) error {
	b, err := l.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := b.Append(
			e.RequestID,
			e.Operation,
			e.Providers,
			e.Status,
			e.ResultCount,
			e.LatencyMs,
			e.CacheHit,
			normalizeTime(e.CreatedAt),
		); err != nil {
			return err
		}
	}
	return b.Send()
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
