package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-relay/config"
)

func TestBuildConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DBConfig
		want string
	}{
		{
			name: "basic",
			cfg:  config.DBConfig{Host: "localhost", Port: 5432, Name: "telemetry", User: "relay", Password: "pw", SSLMode: "disable"},
			want: "postgres://relay:pw@localhost:5432/telemetry?sslmode=disable",
		},
		{
			name: "special characters escaped",
			cfg:  config.DBConfig{Host: "db", Port: 5433, Name: "t", User: "relay", Password: "p@ss/w:rd"},
			want: "postgres://relay:p%40ss%2Fw%3Ard@db:5433/t?sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildConnString(tt.cfg))
		})
	}
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]Row
	calls   int
	err     error
	reject  string // batches with a payload containing this fail as a whole
}

func (f *fakeStore) InsertBatch(ctx context.Context, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, r := range rows {
		if f.reject != "" && strings.Contains(string(r.Payload), f.reject) {
			return fmt.Errorf("insert telemetry: %w", &pgconn.PgError{
				Code:    "22P05",
				Message: "unsupported Unicode escape sequence",
			})
		}
	}
	f.batches = append(f.batches, append([]Row(nil), rows...))
	return nil
}

func (f *fakeStore) rows() []Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Row
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.True(t, w.Archive("motor", []byte(`{"type":"motor"}`)))
	require.True(t, w.Archive("arm", []byte(`{"type":"arm"}`)))

	require.Eventually(t, func() bool { return store.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	rows := store.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "motor", rows[0].Type)
	assert.Equal(t, `{"type":"arm"}`, string(rows[1].Payload))

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(2), w.Stats().Inserted)
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferSize: 10}, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Archive("steering", []byte(`{"type":"steering"}`))

	require.Eventually(t, func() bool { return len(store.rows()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriter_FinalFlushOnStop(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, store, quietLogger())

	for i := 0; i < 3; i++ {
		w.Archive("motor", []byte(`{}`))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))

	assert.Len(t, store.rows(), 3)
}

func TestWriter_DropsWhenFull(t *testing.T) {
	w := NewWriter(Config{BatchSize: 10, BufferSize: 1}, &fakeStore{}, quietLogger())

	assert.True(t, w.Archive("motor", []byte(`{}`)))
	assert.False(t, w.Archive("motor", []byte(`{}`)))

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Queued)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestWriter_CountsStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour, BufferSize: 4}, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Archive("motor", []byte(`{}`))

	require.Eventually(t, func() bool { return w.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), w.Stats().Inserted)
	assert.Equal(t, int64(1), w.Stats().Failed)
}

func TestWriter_RetriesRowsAfterDataError(t *testing.T) {
	store := &fakeStore{reject: `\u0000`}
	w := NewWriter(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 4}, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Archive("motor", []byte(`{"type":"motor","rpm":1}`))
	w.Archive("motor", []byte(`{"type":"motor","label":"a\u0000b"}`))
	w.Archive("arm", []byte(`{"type":"arm"}`))

	require.Eventually(t, func() bool { return w.Stats().Inserted == 2 }, time.Second, 5*time.Millisecond)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, 4, store.callCount())

	rows := store.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "motor", rows[0].Type)
	assert.Equal(t, "arm", rows[1].Type)
}

func TestWriter_ConnectionErrorIsNotRetried(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 4}, store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Archive("motor", []byte(`{}`))
	w.Archive("arm", []byte(`{}`))

	require.Eventually(t, func() bool { return w.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.callCount())
}
