// Package gormstorage records sessions and samples into a SQL database
// through GORM. It works with any dialector the database package opens.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/databike/replay/internal/geo"
	"github.com/databike/replay/internal/model"
	"github.com/databike/replay/internal/model/convert"
	"github.com/databike/replay/pkg/core"
	"gorm.io/gorm"
)

var ErrNoSession = errors.New("no recording session started")

// DefaultInsertBatch is the number of sample rows per INSERT.
const DefaultInsertBatch = 1000

// Backend implements storage.Backend on a *gorm.DB.
type Backend struct {
	db     *gorm.DB
	logger *slog.Logger

	sessionID   string
	sampleCount int
	lastWrite   time.Duration
}

// New creates a backend on an open database.
func New(db *gorm.DB, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{db: db, logger: logger}
}

// Init migrates the recording schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return errors.New("gorm backend has no database")
	}
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartSession inserts the session row. The trail is stored as WKT when
// it has at least two points.
func (b *Backend) StartSession(s core.Session, trail []core.Vec3) error {
	var wkt string
	if len(trail) >= 2 {
		ls, err := geo.TrailLineString(trail)
		if err != nil {
			return fmt.Errorf("building trail: %w", err)
		}
		wkt = ls.AsText()
	}

	row, err := convert.CoreToSession(s, wkt)
	if err != nil {
		return err
	}
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session %s: %w", s.ID, err)
	}

	b.sessionID = s.ID
	b.sampleCount = 0
	b.logger.Info("recording session started", "session", s.ID, "timeline", s.TimelineName)
	return nil
}

// RecordStates inserts one row per state.
func (b *Backend) RecordStates(states []core.BikeState) error {
	if b.sessionID == "" {
		return ErrNoSession
	}
	if len(states) == 0 {
		return nil
	}

	rows := make([]model.ReplaySample, len(states))
	for i, st := range states {
		rows[i] = convert.CoreToSample(b.sessionID, st)
	}

	start := time.Now()
	if err := b.db.CreateInBatches(rows, DefaultInsertBatch).Error; err != nil {
		return fmt.Errorf("failed to insert %d samples: %w", len(rows), err)
	}
	b.lastWrite = time.Since(start)
	b.sampleCount += len(rows)
	return nil
}

// EndSession stamps the session row with its end time and sample count.
func (b *Backend) EndSession() error {
	if b.sessionID == "" {
		return ErrNoSession
	}
	now := time.Now().UTC()
	err := b.db.Model(&model.ReplaySession{ID: b.sessionID}).Updates(map[string]any{
		"sample_count": b.sampleCount,
		"ended_at":     now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", b.sessionID, err)
	}
	b.logger.Info("recording session ended", "session", b.sessionID, "samples", b.sampleCount)
	b.sessionID = ""
	return nil
}

// GetLastDBWriteDuration returns how long the last sample insert took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return b.lastWrite
}

// LoadSession reads a session and its samples ordered by time.
func (b *Backend) LoadSession(id string) (core.Session, []core.BikeState, error) {
	var row model.ReplaySession
	if err := b.db.Where("id = ?", id).First(&row).Error; err != nil {
		return core.Session{}, nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	s, err := convert.SessionToCore(row)
	if err != nil {
		return core.Session{}, nil, err
	}

	var samples []model.ReplaySample
	if err := b.db.Where("session_id = ?", id).Order("time ASC").Find(&samples).Error; err != nil {
		return core.Session{}, nil, fmt.Errorf("failed to load samples of %s: %w", id, err)
	}
	return s, convert.SamplesToCore(samples), nil
}

// TrailWKT returns the stored trail of a session.
func (b *Backend) TrailWKT(id string) (string, error) {
	var row model.ReplaySession
	if err := b.db.Select("trail_wkt").Where("id = ?", id).First(&row).Error; err != nil {
		return "", err
	}
	return row.TrailWKT, nil
}
