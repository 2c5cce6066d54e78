// pkg/core/state.go
package core

import (
	"fmt"
	"time"
)

// BikeState is a point-in-time snapshot produced by the sample scheduler.
// Instances are pooled and overwritten in place: a consumer must copy any
// value it keeps past the next playback tick.
type BikeState struct {
	// Time is seconds from the first recorded sample.
	Time        float64 `json:"time"`
	PedalOffset float64 `json:"pedalOffset"`

	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`

	WheelRPM         float64 `json:"wheelRpm"`
	SteeringRotation float64 `json:"steeringRotation"`
	PedalRotation    float64 `json:"pedalRotation"`

	GearFront int `json:"gearFront"`
	GearRear  int `json:"gearRear"`

	BrakeRight      float64 `json:"brakeRight"`
	BrakeLeft       float64 `json:"brakeLeft"`
	SuspensionFront float64 `json:"suspensionFront"`
	SuspensionRear  float64 `json:"suspensionRear"`
	SeatPosition    float64 `json:"seatPosition"`

	SpeedMPS float64 `json:"speedMps"`
}

func (s BikeState) String() string {
	return fmt.Sprintf("t=%.3f pos=(%.2f,%.2f,%.2f) rot=(%.1f,%.1f,%.1f) rpm=%.1f gear=%d/%d speed=%.2fm/s",
		s.Time, s.Position.X, s.Position.Y, s.Position.Z,
		s.Rotation.X, s.Rotation.Y, s.Rotation.Z,
		s.WheelRPM, s.GearFront, s.GearRear, s.SpeedMPS)
}

// Session describes one playback run, used by recording sinks.
type Session struct {
	ID            string         `json:"id"`
	TimelineName  string         `json:"timelineName"`
	SourcePath    string         `json:"sourcePath"`
	StartedAt     time.Time      `json:"startedAt"`
	TimelineStart time.Time      `json:"timelineStart"`
	Length        float64        `json:"length"`
	Speed         float64        `json:"speed"`
	Bike          BikeDefinition `json:"bike"`
}
