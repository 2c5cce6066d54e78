// Package session loads a recorded timeline and assembles the playback
// pipeline around it: reader, interpolated timeline, sample scheduler and
// controller, plus any recording sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/databike/replay/internal/geo"
	"github.com/databike/replay/internal/influx"
	"github.com/databike/replay/internal/logging"
	"github.com/databike/replay/internal/parser"
	"github.com/databike/replay/internal/playback"
	"github.com/databike/replay/internal/sample"
	"github.com/databike/replay/internal/storage"
	"github.com/databike/replay/internal/timeline"
	"github.com/databike/replay/pkg/core"
	"github.com/google/uuid"
)

// ErrLoadFailed wraps every error that keeps a timeline from being played.
var ErrLoadFailed = errors.New("failed to load timeline")

// Options configure Open. Zero values select the package defaults.
type Options struct {
	Logger   *slog.Logger
	BikeDefs parser.BikeDefSource
	Reader   parser.ReaderConfig
	Sample   sample.Config
	Playback playback.Config
	// Speed is the initial replay speed multiplier; zero means 1.
	Speed float64
}

// Session is one loaded timeline ready for playback.
type Session struct {
	Raw        *core.RawTimeline
	Timeline   *timeline.Interpolated
	Scheduler  *sample.Scheduler
	Controller *playback.Controller

	info       core.Session
	logger     *slog.Logger
	recordings []recording
}

type recording struct {
	recorder *storage.Recorder
	backend  storage.Backend
}

// Open reads the timeline at path and builds a paused controller for it.
func Open(ctx context.Context, path string, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	base := opts.Logger
	if base == nil {
		base = slog.New(slog.DiscardHandler)
	}

	id := uuid.NewString()
	var name string
	logger := logging.WithSessionContext(base, func() []slog.Attr {
		attrs := []slog.Attr{slog.String("session", id)}
		if name != "" {
			attrs = append(attrs, slog.String("timeline", name))
		}
		return attrs
	})

	reader := parser.NewTimelineReader(logger.With("component", "reader"), opts.BikeDefs, opts.Reader)
	raw, bike, err := reader.ReadTimelineFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}
	name = raw.Name
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}

	tl, err := timeline.Build(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}

	sched, err := sample.New(logger.With("component", "sampler"), tl, opts.Sample)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	ctrl := playback.New(logger.With("component", "playback"), sched, opts.Playback)
	if opts.Speed != 0 && opts.Speed != 1 {
		if err := ctrl.SetSpeed(opts.Speed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	s := &Session{
		Raw:        raw,
		Timeline:   tl,
		Scheduler:  sched,
		Controller: ctrl,
		logger:     logger,
		info: core.Session{
			ID:            id,
			TimelineName:  name,
			SourcePath:    abs,
			StartedAt:     time.Now().UTC(),
			TimelineStart: tl.StartTime,
			Length:        tl.Length,
			Speed:         ctrl.Speed(),
			Bike:          bike,
		},
	}
	logger.Info("session opened", "length", tl.Length, "samples", raw.Len(), "bike", bike.Name)
	return s, nil
}

// Info describes the session for recording sinks.
func (s *Session) Info() core.Session {
	info := s.info
	info.Speed = s.Controller.Speed()
	return info
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Trail samples the whole timeline at samplesPerSecond.
func (s *Session) Trail(samplesPerSecond int) ([]core.Vec3, error) {
	return s.Controller.TrailSamples(samplesPerSecond)
}

// TrailWKT returns the trail as a WKT LineString Z in scene units.
func (s *Session) TrailWKT(samplesPerSecond int) (string, error) {
	trail, err := s.Trail(samplesPerSecond)
	if err != nil {
		return "", err
	}
	ls, err := geo.TrailLineString(trail)
	if err != nil {
		return "", err
	}
	return ls.AsText(), nil
}

// TrackWKT returns the recorded GPS fixes projected to EPSG:3857.
func (s *Session) TrackWKT() (string, error) {
	ls, err := geo.WebMercatorTrack(s.Raw)
	if err != nil {
		return "", err
	}
	return ls.AsText(), nil
}

// Record starts a recording on an initialized backend and subscribes a
// recorder to the controller. A positive trailSamplesPerSecond stores the
// trail with the session.
func (s *Session) Record(b storage.Backend, flushSize, trailSamplesPerSecond int) (*storage.Recorder, error) {
	var trail []core.Vec3
	if trailSamplesPerSecond > 0 {
		var err error
		if trail, err = s.Trail(trailSamplesPerSecond); err != nil {
			return nil, fmt.Errorf("sampling trail: %w", err)
		}
	}
	if err := b.StartSession(s.Info(), trail); err != nil {
		return nil, err
	}
	rec, err := storage.NewRecorder(s.logger.With("component", "recorder"), b, flushSize)
	if err != nil {
		return nil, err
	}
	s.Controller.Subscribe(rec)
	s.recordings = append(s.recordings, recording{recorder: rec, backend: b})
	return rec, nil
}

// Stream writes the raw timeline to m and subscribes it to the controller.
func (s *Session) Stream(m *influx.Manager) error {
	m.StartSession(s.Info())
	if err := m.WriteTimeline(s.info.ID, s.Raw); err != nil {
		return err
	}
	s.Controller.Subscribe(m)
	return nil
}

// Finish flushes every recorder and ends its backend session. Backends are
// not closed.
func (s *Session) Finish() error {
	var errs []error
	for _, r := range s.recordings {
		if err := r.recorder.Flush(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.backend.EndSession(); err != nil {
			errs = append(errs, err)
		}
	}
	s.recordings = nil
	s.logger.Info("session finished", "time", s.Controller.CurrentTime())
	return errors.Join(errs...)
}
