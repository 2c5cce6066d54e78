package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/databike/replay/internal/playback"
	"github.com/databike/replay/internal/storage"
	"github.com/databike/replay/pkg/core"
)

// DefaultInterval is the status file refresh period.
const DefaultInterval = time.Second

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Controller *playback.Controller
	Session    core.Session
	// Recorder is optional.
	Recorder   *storage.Recorder
	Logger     *slog.Logger
	StatusPath string
	Interval   time.Duration
}

// PlaybackStatus is written to the status file on every refresh.
type PlaybackStatus struct {
	Time        time.Time `json:"time"`
	SessionID   string    `json:"sessionId"`
	Timeline    string    `json:"timeline"`
	CurrentTime float64   `json:"currentTime"`
	Length      float64   `json:"length"`
	Speed       float64   `json:"speed"`
	Playing     bool      `json:"playing"`
	Buffered    int       `json:"buffered"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetPlaybackStatus samples the controller and recorder.
func (s *Service) GetPlaybackStatus() PlaybackStatus {
	c := s.deps.Controller
	st := PlaybackStatus{
		Time:        time.Now().UTC(),
		SessionID:   s.deps.Session.ID,
		Timeline:    s.deps.Session.TimelineName,
		CurrentTime: c.CurrentTime(),
		Length:      c.Length(),
		Speed:       c.Speed(),
		Playing:     c.IsPlaying(),
	}
	if s.deps.Recorder != nil {
		st.Buffered = s.deps.Recorder.Buffered()
	}
	return st
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	statusFile, err := os.Create(s.deps.StatusPath)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer statusFile.Close()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.deps.StatusPath)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				s.write(statusFile)
				return
			case <-ticker.C:
				s.write(statusFile)
			}
		}
	}()
	return nil
}

func (s *Service) write(f *os.File) {
	data, err := json.MarshalIndent(s.GetPlaybackStatus(), "", "  ")
	if err != nil {
		s.deps.Logger.Error("Error encoding status", "error", err)
		return
	}
	if err := f.Truncate(0); err != nil {
		s.deps.Logger.Error("Error truncating status file", "error", err)
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		s.deps.Logger.Error("Error rewinding status file", "error", err)
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		s.deps.Logger.Error("Error writing status file", "error", err)
	}
}

// Stop stops the status monitor after a final refresh.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
