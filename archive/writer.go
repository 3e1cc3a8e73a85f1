package archive

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Row is one relayed telemetry frame.
type Row struct {
	ReceivedAt time.Time
	Type       string
	Payload    []byte
}

type Store interface {
	InsertBatch(ctx context.Context, rows []Row) error
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
	FlushTimeout  time.Duration // bound on the final flush during shutdown
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		FlushTimeout:  5 * time.Second,
	}
}

type Metrics struct {
	Queued   int64 `json:"queued"`
	Inserted int64 `json:"inserted"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"` // rows the store refused
	Errors   int64 `json:"errors"`
	Flushes  int64 `json:"flushes"`
}

// Writer batches telemetry rows and flushes them to a Store on size or
// interval. Archive never blocks; rows are dropped when the queue is full.
type Writer struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time
	queue  chan Row

	queued   atomic.Int64
	inserted atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	errors   atomic.Int64
	flushes  atomic.Int64
}

func NewWriter(cfg Config, store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	return &Writer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
		queue:  make(chan Row, cfg.BufferSize),
	}
}

// Archive queues a telemetry frame. It reports false if the frame was dropped.
func (w *Writer) Archive(kind string, payload []byte) bool {
	row := Row{ReceivedAt: w.now(), Type: kind, Payload: payload}
	select {
	case w.queue <- row:
		w.queued.Add(1)
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what remains.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("telemetry archive started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)

	batch := make([]Row, 0, w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			batch = w.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
			w.flush(flushCtx, batch)
			cancel()
			w.logger.Info("telemetry archive stopped")
			return nil
		case row := <-w.queue:
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(ctx, batch)
				batch = make([]Row, 0, w.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]Row, 0, w.cfg.BatchSize)
			}
		}
	}
}

func (w *Writer) drain(batch []Row) []Row {
	for {
		select {
		case row := <-w.queue:
			batch = append(batch, row)
		default:
			return batch
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []Row) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	if err := w.store.InsertBatch(ctx, batch); err != nil {
		if len(batch) > 1 && isDataError(err) {
			w.errors.Add(1)
			w.logger.Warn("batch insert rejected, retrying rows individually", "error", err, "count", len(batch))
			w.insertEach(ctx, batch)
			return
		}
		w.failed.Add(int64(len(batch)))
		w.errors.Add(1)
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}

	w.inserted.Add(int64(len(batch)))
	w.flushes.Add(1)
	w.logger.Debug("flushed telemetry",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// insertEach stores rows one at a time so a single row the database refuses
// does not take the rest of its batch with it.
func (w *Writer) insertEach(ctx context.Context, batch []Row) {
	for _, row := range batch {
		if err := w.store.InsertBatch(ctx, []Row{row}); err != nil {
			w.failed.Add(1)
			w.logger.Error("telemetry row rejected", "type", row.Type, "error", err)
			continue
		}
		w.inserted.Add(1)
	}
	w.flushes.Add(1)
}

// isDataError reports whether err is a Postgres data exception (SQLSTATE
// class 22), which is specific to a row's contents rather than the connection.
func isDataError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22")
}

func (w *Writer) Stats() Metrics {
	return Metrics{
		Queued:   w.queued.Load(),
		Inserted: w.inserted.Load(),
		Dropped:  w.dropped.Load(),
		Failed:   w.failed.Load(),
		Errors:   w.errors.Load(),
		Flushes:  w.flushes.Load(),
	}
}
