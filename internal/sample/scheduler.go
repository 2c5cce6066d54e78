// Package sample produces evenly spaced BikeState samples from an
// interpolated timeline.
package sample

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/databike/replay/internal/queue"
	"github.com/databike/replay/internal/timeline"
	"github.com/databike/replay/pkg/core"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrEndOfTimeline signals that CurrentTime reached the timeline length.
	// It is a control signal, not a failure.
	ErrEndOfTimeline = errors.New("end of timeline reached")

	// ErrOutOfRange is returned for seek times, speeds or trail rates outside
	// their domain. The scheduler state is left unchanged.
	ErrOutOfRange = errors.New("argument out of range")
)

const (
	// DefaultBatchSize is the number of samples computed per batch.
	DefaultBatchSize = 50
	// DefaultBaseStep is the timeline time of one fixed tick at 1x speed.
	DefaultBaseStep = 0.02
)

// Config tunes a Scheduler. Zero values select the defaults.
type Config struct {
	// BatchSize is the size of the precomputed window, at least 2.
	BatchSize int
	// BaseStep is seconds of timeline per sample at speed 1.
	BaseStep float64
	// PedalOffset overrides the timeline's pedal offset when set.
	PedalOffset *float64
	// Debug logs every produced sample at debug level.
	Debug bool
	// Meter records the batch counters. Nil uses the global provider.
	Meter metric.Meter
}

// Scheduler hands out BikeState samples one fixed step apart.
//
// Samples are computed a batch at a time with one batch evaluation per
// channel and stored in a pooled arena. The state returned by GetNextSample
// is recycled on the following call: callers must copy what they keep.
// A Scheduler is not safe for concurrent use.
type Scheduler struct {
	logger *slog.Logger
	tl     *timeline.Interpolated
	debug  bool

	batchSize int
	baseStep  float64

	// CurrentTime is origin + produced*stepSize, which keeps long sessions
	// free of accumulated rounding.
	origin    float64
	produced  int
	stepSize  float64
	speedMult float64

	pedalOffset float64

	pool      *pool
	pending   *queue.Ring[int]
	delivered int

	times  []float64
	values [timeline.NumChannels][]float64

	hasPrev bool
	prevPos core.Vec3

	batches       metric.Int64Counter
	invalidations metric.Int64Counter
}

// New creates a scheduler positioned at time 0 with speed 1.
func New(logger *slog.Logger, tl *timeline.Interpolated, cfg Config) (*Scheduler, error) {
	if tl == nil {
		return nil, errors.New("nil timeline")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize < 2 {
		return nil, fmt.Errorf("%w: batch size %d, need at least 2", ErrOutOfRange, cfg.BatchSize)
	}
	if cfg.BaseStep == 0 {
		cfg.BaseStep = DefaultBaseStep
	}
	if cfg.BaseStep < 0 || math.IsNaN(cfg.BaseStep) || math.IsInf(cfg.BaseStep, 0) {
		return nil, fmt.Errorf("%w: base step %g", ErrOutOfRange, cfg.BaseStep)
	}

	s := &Scheduler{
		logger:      logger,
		tl:          tl,
		debug:       cfg.Debug,
		batchSize:   cfg.BatchSize,
		baseStep:    cfg.BaseStep,
		stepSize:    cfg.BaseStep,
		speedMult:   1,
		pedalOffset: tl.PedalOffset,
		pool:        newPool(cfg.BatchSize + 1),
		pending:     queue.NewRing[int](cfg.BatchSize),
		delivered:   -1,
		times:       make([]float64, cfg.BatchSize),
	}
	if cfg.PedalOffset != nil {
		s.pedalOffset = *cfg.PedalOffset
	}
	for i := range s.values {
		s.values[i] = make([]float64, cfg.BatchSize)
	}

	m := cfg.Meter
	if m == nil {
		m = meter()
	}
	var err error
	s.batches, err = m.Int64Counter(
		"replay.sample.batches",
		metric.WithDescription("Total sample batches computed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batches counter: %w", err)
	}
	s.invalidations, err = m.Int64Counter(
		"replay.sample.invalidations",
		metric.WithDescription("Total invalidations of precomputed samples"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating invalidations counter: %w", err)
	}

	s.checkGearGap()
	return s, nil
}

// CurrentTime is the relative time of the next sample, in seconds.
func (s *Scheduler) CurrentTime() float64 {
	return s.origin + float64(s.produced)*s.stepSize
}

// CurrentStepSize is the timeline time between two samples, in seconds.
func (s *Scheduler) CurrentStepSize() float64 {
	return s.stepSize
}

// ReplaySpeed returns the speed multiplier.
func (s *Scheduler) ReplaySpeed() float64 {
	return s.speedMult
}

// BaseStep returns the step at speed 1.
func (s *Scheduler) BaseStep() float64 {
	return s.baseStep
}

// BatchSize returns the precomputed window size.
func (s *Scheduler) BatchSize() int {
	return s.batchSize
}

// Length returns the timeline length in seconds.
func (s *Scheduler) Length() float64 {
	return s.tl.Length
}

// Timeline returns the timeline being sampled.
func (s *Scheduler) Timeline() *timeline.Interpolated {
	return s.tl
}

// Pending returns the number of precomputed samples not yet delivered.
func (s *Scheduler) Pending() int {
	return s.pending.Len()
}

// PedalOffset returns the offset written into every sample.
func (s *Scheduler) PedalOffset() float64 {
	return s.pedalOffset
}

// SetPedalOffset changes the offset for samples computed from now on.
func (s *Scheduler) SetPedalOffset(offset float64) {
	s.pedalOffset = offset
}

// GetNextSample returns the next sample and advances CurrentTime by one
// step. From a given origin it yields floor((Length-origin)/step) samples,
// then returns ErrEndOfTimeline. The returned state is only valid until the
// next call.
func (s *Scheduler) GetNextSample() (*core.BikeState, error) {
	if s.delivered >= 0 {
		s.pool.recycle(s.delivered)
		s.delivered = -1
	}

	if s.produced >= s.sampleCount() {
		if s.debug {
			s.logger.Debug("end of timeline", "time", s.CurrentTime())
		}
		return nil, ErrEndOfTimeline
	}

	if s.pending.Empty() {
		s.computeSamples()
	}

	slot, _ := s.pending.Pop()
	s.delivered = slot
	s.produced++

	state := s.pool.state(slot)
	if s.debug {
		s.logger.Debug("sample retrieved", "time", state.Time, "pending", s.pending.Len(), "state", state.String())
	}
	return state, nil
}

// SetCurrentTime repositions playback to t seconds and discards the
// precomputed window.
func (s *Scheduler) SetCurrentTime(t float64) error {
	if math.IsNaN(t) || t < 0 || t > s.tl.Length {
		return fmt.Errorf("%w: time %g not in [0, %g]", ErrOutOfRange, t, s.tl.Length)
	}
	s.origin = t
	s.produced = 0
	s.InvalidateSamples()
	return nil
}

// SetReplaySpeed rescales the step from the base step and discards the
// precomputed window.
func (s *Scheduler) SetReplaySpeed(mult float64) error {
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult <= 0 {
		return fmt.Errorf("%w: speed %g must be positive", ErrOutOfRange, mult)
	}
	s.origin = s.CurrentTime()
	s.produced = 0
	s.stepSize = s.baseStep * mult
	s.speedMult = mult
	s.InvalidateSamples()
	s.checkGearGap()
	return nil
}

// InvalidateSamples returns every pending sample to the pool and forgets
// the previous position used for speed derivation.
func (s *Scheduler) InvalidateSamples() {
	s.pending.Drain(s.pool.recycle)
	s.hasPrev = false
	s.invalidations.Add(context.Background(), 1)
}

// GetTrailSamples evaluates the position channels samplesPerSecond times per
// second over the whole timeline. It does not touch playback state.
func (s *Scheduler) GetTrailSamples(samplesPerSecond int) ([]core.Vec3, error) {
	if samplesPerSecond <= 0 {
		return nil, fmt.Errorf("%w: %d samples per second", ErrOutOfRange, samplesPerSecond)
	}
	sps := float64(samplesPerSecond)
	// the epsilon keeps exact products like 2.0*10 from flooring to 19
	steps := int(math.Floor(s.tl.Length*sps + 1e-9))

	times := make([]float64, steps)
	for i := range times {
		times[i] = float64(i) / sps
	}
	xs := s.tl.Channel(timeline.PosX).Eval(nil, times)
	ys := s.tl.Channel(timeline.PosY).Eval(nil, times)
	zs := s.tl.Channel(timeline.PosZ).Eval(nil, times)

	positions := make([]core.Vec3, steps)
	for i := range positions {
		positions[i] = core.Vec3{X: xs[i], Y: ys[i], Z: zs[i]}
	}
	return positions, nil
}

// sampleCount is the number of samples between origin and the end of the
// timeline at the current step.
func (s *Scheduler) sampleCount() int {
	// same epsilon as GetTrailSamples, so 2.0/0.25 counts 8
	return int(math.Floor((s.tl.Length-s.origin)/s.stepSize + 1e-9))
}

func (s *Scheduler) checkGearGap() {
	if gap := s.tl.MinGearChangeGap(); s.stepSize > gap {
		s.logger.Warn("step size exceeds minimum gap between gear changes, gear changes may lag",
			"stepSize", s.stepSize,
			"minGearChangeGap", gap)
	}
}

// computeSamples fills the pending window with the next batchSize samples.
func (s *Scheduler) computeSamples() {
	if s.pool.available() < s.batchSize {
		panic(fmt.Sprintf("sample: %d free states, batch needs %d", s.pool.available(), s.batchSize))
	}

	start := s.CurrentTime()
	for i := range s.times {
		s.times[i] = s.origin + float64(s.produced+i)*s.stepSize
	}
	for id := range s.values {
		s.values[id] = s.tl.Channel(timeline.ChannelID(id)).Eval(s.values[id], s.times)
	}

	front := newGearCursor(s.tl.GearFront, start)
	rear := newGearCursor(s.tl.GearRear, start)

	v := &s.values
	var lateSpeed *core.BikeState
	for i, t := range s.times {
		slot := s.pool.checkout()
		state := s.pool.state(slot)

		state.Time = t
		state.PedalOffset = s.pedalOffset
		state.Position = core.Vec3{X: v[timeline.PosX][i], Y: v[timeline.PosY][i], Z: v[timeline.PosZ][i]}
		state.Rotation = core.Vec3{X: v[timeline.RotX][i], Y: v[timeline.RotY][i], Z: v[timeline.RotZ][i]}
		state.WheelRPM = v[timeline.WheelRPM][i] * s.speedMult
		state.SteeringRotation = v[timeline.SteeringRot][i]
		state.PedalRotation = v[timeline.PedalRot][i]
		state.BrakeRight = clamp01(v[timeline.BrakeRight][i])
		state.BrakeLeft = clamp01(v[timeline.BrakeLeft][i])
		state.SuspensionFront = clamp01(v[timeline.SuspFront][i])
		state.SuspensionRear = clamp01(v[timeline.SuspRear][i])
		state.SeatPosition = clamp01(v[timeline.SeatPos][i])
		state.GearFront = front.advance(t)
		state.GearRear = rear.advance(t)

		// the first sample of a fresh run takes the speed of the second
		if !s.hasPrev {
			state.SpeedMPS = 0
			lateSpeed = state
		} else {
			state.SpeedMPS = state.Position.Sub(s.prevPos).Magnitude() / s.stepSize
			if lateSpeed != nil {
				lateSpeed.SpeedMPS = state.SpeedMPS
				lateSpeed = nil
			}
		}
		s.prevPos = state.Position
		s.hasPrev = true

		s.pending.Push(slot)
	}

	s.batches.Add(context.Background(), 1)
	if s.debug {
		s.logger.Debug("samples computed", "from", start, "count", s.batchSize, "step", s.stepSize)
	}
}

// gearCursor walks a change-point list forward by at most one entry per
// sample.
type gearCursor struct {
	list []timeline.GearChange
	idx  int
	end  bool
}

// newGearCursor positions the cursor on the last change at or before t.
func newGearCursor(list []timeline.GearChange, t float64) gearCursor {
	c := gearCursor{list: list, idx: len(list) - 1, end: true}
	for i := 1; i < len(list); i++ {
		if list[i].Time > t {
			c.idx = i - 1
			c.end = false
			break
		}
	}
	return c
}

func (c *gearCursor) advance(t float64) int {
	if !c.end && t >= c.list[c.idx+1].Time {
		c.idx++
		c.end = c.idx == len(c.list)-1
	}
	return c.list[c.idx].Gear
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
