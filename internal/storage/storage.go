// Package storage records delivered playback samples into a backend.
package storage

import "github.com/databike/replay/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// StartSession begins a new recording. trail holds the scene
	// positions of the whole timeline and may be empty.
	StartSession(s core.Session, trail []core.Vec3) error
	// RecordStates stores copies of delivered states in delivery order.
	RecordStates(states []core.BikeState) error
	// EndSession finalizes the current recording.
	EndSession() error
}

// Exportable is implemented by backends that produce a file per session.
type Exportable interface {
	GetExportedFilePath() string
}
