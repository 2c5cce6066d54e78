// Package timeline turns a parsed RawTimeline into continuous interpolants
// over relative time.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/databike/replay/pkg/core"
	"gonum.org/v1/gonum/interp"
)

// ErrEmptyTimeline is returned by Build when the raw timeline has no samples.
var ErrEmptyTimeline = errors.New("timeline has no samples")

// ChannelID identifies one continuous channel.
type ChannelID int

const (
	PosX ChannelID = iota
	PosY
	PosZ
	RotX
	RotY
	RotZ
	WheelRPM
	SteeringRot
	PedalRot
	BrakeRight
	BrakeLeft
	SuspFront
	SuspRear
	SeatPos

	NumChannels
)

var channelNames = [NumChannels]string{
	"posX", "posY", "posZ",
	"rotX", "rotY", "rotZ",
	"wheelRpm", "steeringRot", "pedalRot",
	"brakeRight", "brakeLeft",
	"suspFront", "suspRear", "seatPos",
}

func (id ChannelID) String() string {
	if id < 0 || id >= NumChannels {
		return fmt.Sprintf("ChannelID(%d)", int(id))
	}
	return channelNames[id]
}

// Channel is a C2-continuous interpolant of one measurement over relative
// time. Arguments outside [0, Length] are clamped to the end values.
type Channel struct {
	predictor interp.Predictor
}

// newChannel fits a natural cubic spline through (xs, ys). A single sample
// yields a constant.
func newChannel(xs, ys []float64) (*Channel, error) {
	if len(xs) == 1 {
		return &Channel{predictor: interp.Constant(ys[0])}, nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(xs, ys); err != nil {
		return nil, err
	}
	return &Channel{predictor: &nc}, nil
}

// At evaluates the channel at t seconds.
func (c *Channel) At(t float64) float64 {
	return c.predictor.Predict(t)
}

// Eval evaluates the channel at every time in ts, writing into dst. dst is
// grown if it is too short and the filled prefix is returned.
func (c *Channel) Eval(dst, ts []float64) []float64 {
	if cap(dst) < len(ts) {
		dst = make([]float64, len(ts))
	}
	dst = dst[:len(ts)]
	for i, t := range ts {
		dst[i] = c.predictor.Predict(t)
	}
	return dst
}

// GearChange is one entry of a discrete change-point list.
type GearChange struct {
	Time float64 `json:"time"`
	Gear int     `json:"gear"`
}

// Interpolated is the immutable, evaluable form of a timeline.
type Interpolated struct {
	Name        string
	BikeName    string
	PedalOffset float64

	// StartTime is the absolute time of the first sample.
	StartTime time.Time
	// Length is the relative time of the last sample in seconds. The first
	// sample is always at 0.
	Length float64
	// RelTime holds the relative sample times the channels were fitted on.
	RelTime []float64

	GearFront []GearChange
	GearRear  []GearChange

	channels [NumChannels]*Channel
}

// Channel returns the interpolant for id.
func (it *Interpolated) Channel(id ChannelID) *Channel {
	return it.channels[id]
}

// Start returns the relative start time, always 0.
func (it *Interpolated) Start() float64 {
	return 0
}

// End returns the relative end time, equal to Length.
func (it *Interpolated) End() float64 {
	return it.Length
}

// Build fits every continuous channel of raw and compresses the gear
// channels. It is deterministic and performs no I/O.
func Build(raw *core.RawTimeline) (*Interpolated, error) {
	if raw == nil || raw.Len() == 0 {
		return nil, ErrEmptyTimeline
	}
	if !raw.Consistent() {
		return nil, errors.New("timeline channels differ in length")
	}

	rel, err := RelativeTimes(raw.Time)
	if err != nil {
		return nil, err
	}

	it := &Interpolated{
		Name:        raw.Name,
		BikeName:    raw.BikeName,
		PedalOffset: raw.PedalOffset,
		StartTime:   time.Unix(0, raw.Time[0]).UTC(),
		Length:      rel[len(rel)-1],
		RelTime:     rel,
		GearFront:   CompressGears(rel, raw.GearFront),
		GearRear:    CompressGears(rel, raw.GearRear),
	}

	values := [NumChannels][]float64{
		PosX:        raw.PosX,
		PosY:        raw.PosY,
		PosZ:        raw.PosZ,
		RotX:        raw.RotX,
		RotY:        raw.RotY,
		RotZ:        raw.RotZ,
		WheelRPM:    raw.WheelRPM,
		SteeringRot: raw.SteeringRot,
		PedalRot:    raw.PedalRot,
		BrakeRight:  raw.BrakeRight,
		BrakeLeft:   raw.BrakeLeft,
		SuspFront:   raw.SuspFront,
		SuspRear:    raw.SuspRear,
		SeatPos:     raw.SeatPos,
	}
	for id, ys := range values {
		ch, err := newChannel(rel, ys)
		if err != nil {
			return nil, fmt.Errorf("failed to fit %s: %w", ChannelID(id), err)
		}
		it.channels[id] = ch
	}
	return it, nil
}

// RelativeTimes converts absolute ticks into seconds from the first tick.
// Differences are taken in integer ticks before converting to float64, so
// large absolute timestamps lose no precision.
func RelativeTimes(ticks []int64) ([]float64, error) {
	if len(ticks) == 0 {
		return nil, ErrEmptyTimeline
	}
	rel := make([]float64, len(ticks))
	first := ticks[0]
	for i, t := range ticks {
		if i > 0 && t <= ticks[i-1] {
			return nil, fmt.Errorf("timestamps not strictly increasing at index %d", i)
		}
		rel[i] = float64(t-first) / float64(core.TicksPerSecond)
	}
	return rel, nil
}

// CompressGears run-length compresses a discrete channel by edge: the first
// entry is always (times[0], values[0]) and later entries only mark changes.
func CompressGears(times []float64, values []int) []GearChange {
	if len(values) == 0 {
		return nil
	}
	out := []GearChange{{Time: times[0], Gear: values[0]}}
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			out = append(out, GearChange{Time: times[i], Gear: values[i]})
		}
	}
	return out
}

// MinGearChangeGap returns the smallest time between two consecutive
// changes of the same gear channel, or +Inf when no channel changes twice.
// The initial entry at t=0 is not a change and is ignored.
func (it *Interpolated) MinGearChangeGap() float64 {
	gap := math.Inf(1)
	for _, list := range [][]GearChange{it.GearFront, it.GearRear} {
		for i := 2; i < len(list); i++ {
			gap = min(gap, list[i].Time-list[i-1].Time)
		}
	}
	return gap
}
