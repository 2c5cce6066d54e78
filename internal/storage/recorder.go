package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/databike/replay/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/databike/replay/internal/storage"

// DefaultFlushSize is the number of buffered states written per batch.
const DefaultFlushSize = 500

// Recorder is a playback visualizer that copies every delivered state into
// a Backend. States are buffered and written in batches of flushSize, and
// whenever playback pauses.
type Recorder struct {
	mu        sync.Mutex
	logger    *slog.Logger
	backend   Backend
	flushSize int
	buf       []core.BikeState

	recorded metric.Int64Counter
	failures metric.Int64Counter
}

// NewRecorder creates a Recorder writing to backend.
func NewRecorder(logger *slog.Logger, backend Backend, flushSize int) (*Recorder, error) {
	if backend == nil {
		return nil, fmt.Errorf("nil storage backend")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}

	m := otel.Meter(instrumentationName)
	recorded, err := m.Int64Counter(
		"replay.storage.recorded_states",
		metric.WithDescription("Total bike states written to storage"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recorded counter: %w", err)
	}
	failures, err := m.Int64Counter(
		"replay.storage.write_failures",
		metric.WithDescription("Total failed storage batch writes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	return &Recorder{
		logger:    logger,
		backend:   backend,
		flushSize: flushSize,
		buf:       make([]core.BikeState, 0, flushSize),
		recorded:  recorded,
		failures:  failures,
	}, nil
}

// UpdateBikeState buffers a copy of state.
func (r *Recorder) UpdateBikeState(state *core.BikeState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, *state)
	if len(r.buf) >= r.flushSize {
		r.flushLocked()
	}
}

// UpdatePlaybackState flushes on pause.
func (r *Recorder) UpdatePlaybackState(playing bool) {
	if playing {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Flush writes all buffered states.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

// Buffered returns the number of states not yet written.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func (r *Recorder) flushLocked() error {
	if len(r.buf) == 0 {
		return nil
	}
	ctx := context.Background()
	n := len(r.buf)
	if err := r.backend.RecordStates(r.buf); err != nil {
		r.failures.Add(ctx, 1)
		r.logger.Error("failed to record states", "count", n, "error", err)
		// keep the batch so a later flush can retry
		return err
	}
	r.recorded.Add(ctx, int64(n))
	r.logger.Debug("recorded states", "count", n)
	r.buf = r.buf[:0]
	return nil
}
