// Package playback drives a sample scheduler on a fixed tick and fans the
// produced states out to visualizers.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/databike/replay/internal/sample"
	"github.com/databike/replay/pkg/core"
)

// DefaultTickInterval matches the default 20ms base step at speed 1.
const DefaultTickInterval = 20 * time.Millisecond

// Visualizer consumes playback output. Both methods are called
// synchronously while the controller holds its lock, so implementations
// must not call back into the Controller. The state pointer is only valid
// for the duration of the call.
type Visualizer interface {
	UpdateBikeState(state *core.BikeState)
	UpdatePlaybackState(playing bool)
}

// Config tunes a Controller.
type Config struct {
	TickInterval time.Duration
	// StopAtEnd makes Run return once the end of the timeline pauses
	// playback.
	StopAtEnd bool
	Debug     bool
}

// Controller serializes user commands and the tick driver around one
// Scheduler.
type Controller struct {
	mu sync.Mutex

	logger      *slog.Logger
	sched       *sample.Scheduler
	cfg         Config
	playing     bool
	ended       bool
	visualizers []Visualizer

	// time of the last sample pushed, for RefreshCurrent
	lastTime float64
	hasLast  bool
}

// New returns a paused controller.
func New(logger *slog.Logger, sched *sample.Scheduler, cfg Config) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Controller{
		logger: logger,
		sched:  sched,
		cfg:    cfg,
	}
}

// Subscribe registers v for state and playback notifications.
func (c *Controller) Subscribe(v Visualizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visualizers = append(c.visualizers, v)
}

// Play starts playback.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPlaying(true)
}

// Pause stops playback. The precomputed samples are kept.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPlaying(false)
}

// Toggle flips between playing and paused.
func (c *Controller) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPlaying(!c.playing)
}

// IsPlaying reports whether ticks currently produce samples.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Length returns the timeline length in seconds.
func (c *Controller) Length() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Length()
}

// CurrentTime returns the time of the next sample to be produced.
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.CurrentTime()
}

// Speed returns the replay speed multiplier.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.ReplaySpeed()
}

// Seek pauses playback, moves to t seconds and immediately pushes the
// sample at t to every visualizer. Out of range times leave everything
// unchanged and return sample.ErrOutOfRange.
func (c *Controller) Seek(t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sched.SetCurrentTime(t); err != nil {
		return err
	}
	c.ended = false
	c.setPlaying(false)
	return ignoreEnd(c.pushNext())
}

// SetSpeed changes the replay speed multiplier.
func (c *Controller) SetSpeed(mult float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sched.SetReplaySpeed(mult); err != nil {
		return err
	}
	c.logger.Info("replay speed changed", "speed", mult, "stepSize", c.sched.CurrentStepSize())
	return nil
}

// SetPedalOffset applies a new pedal offset to all samples not yet
// delivered.
func (c *Controller) SetPedalOffset(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.SetPedalOffset(offset)
	c.sched.InvalidateSamples()
}

// InvalidateSamples discards the precomputed window.
func (c *Controller) InvalidateSamples() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.InvalidateSamples()
}

// RefreshCurrent re-delivers the most recently pushed sample, recomputed,
// without advancing playback. Before the first sample it delivers t=0.
func (c *Controller) RefreshCurrent() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := 0.0
	if c.hasLast {
		t = c.lastTime
	}
	if err := c.sched.SetCurrentTime(t); err != nil {
		return err
	}
	return ignoreEnd(c.pushNext())
}

// TrailSamples returns positions over the whole timeline, samplesPerSecond
// per second.
func (c *Controller) TrailSamples(samplesPerSecond int) ([]core.Vec3, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.GetTrailSamples(samplesPerSecond)
}

// Tick produces one sample if playing. Reaching the end of the timeline
// pauses playback. It reports whether a sample was pushed.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing {
		return false
	}
	if err := c.pushNext(); err != nil {
		if !errors.Is(err, sample.ErrEndOfTimeline) {
			c.logger.Error("sample retrieval failed", "error", err)
		}
		return false
	}
	return true
}

// Run calls Tick every TickInterval until ctx is done, or, with StopAtEnd,
// until the end of the timeline has been reached.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.logger.Info("playback loop started", "tickInterval", c.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("playback loop stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
			if c.cfg.StopAtEnd && c.hasEnded() {
				c.logger.Info("end of timeline reached, playback loop stopped")
				return nil
			}
		}
	}
}

func (c *Controller) hasEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// pushNext pulls one sample and hands it to the visualizers. The end of the
// timeline pauses playback and is returned unchanged. Callers hold mu.
func (c *Controller) pushNext() error {
	state, err := c.sched.GetNextSample()
	if errors.Is(err, sample.ErrEndOfTimeline) {
		c.ended = true
		if c.playing {
			c.logger.Info("end of timeline reached", "length", c.sched.Length())
		}
		c.setPlaying(false)
		return err
	}
	if err != nil {
		return err
	}

	c.lastTime = state.Time
	c.hasLast = true
	if c.cfg.Debug {
		c.logger.Debug("pushing sample", "time", state.Time, "visualizers", len(c.visualizers))
	}
	for _, v := range c.visualizers {
		v.UpdateBikeState(state)
	}
	return nil
}

func (c *Controller) setPlaying(playing bool) {
	if c.playing == playing {
		return
	}
	c.playing = playing
	if playing {
		c.ended = false
	}
	for _, v := range c.visualizers {
		v.UpdatePlaybackState(playing)
	}
}

// ignoreEnd drops ErrEndOfTimeline: a seek to Length is valid but has no
// sample to show.
func ignoreEnd(err error) error {
	if errors.Is(err, sample.ErrEndOfTimeline) {
		return nil
	}
	return err
}
