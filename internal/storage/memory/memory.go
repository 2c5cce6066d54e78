// Package memory keeps a recording in memory and exports it as JSON when
// the session ends.
package memory

import (
	"errors"
	"sync"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/pkg/core"
)

var ErrNoSession = errors.New("no recording session started")

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg config.MemoryConfig

	session *core.Session
	trail   []core.Vec3
	states  []core.BikeState

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Init() error {
	return nil
}

func (b *Backend) Close() error {
	return nil
}

// StartSession resets all collections and begins recording s.
func (b *Backend) StartSession(s core.Session, trail []core.Vec3) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = &s
	b.trail = append([]core.Vec3(nil), trail...)
	b.states = nil
	return nil
}

// RecordStates appends copies of states.
func (b *Backend) RecordStates(states []core.BikeState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	b.states = append(b.states, states...)
	return nil
}

// EndSession writes the export file.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return ErrNoSession
	}
	return b.exportJSON()
}

// GetExportedFilePath returns the path of the last export, empty before
// the first EndSession.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// States returns a copy of the recorded states.
func (b *Backend) States() []core.BikeState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.BikeState(nil), b.states...)
}
