package model

import (
	"time"

	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table of the recording schema.
var DatabaseModels = []any{
	&ReplaySession{},
	&ReplaySample{},
}

// ReplaySession is one playback run of a timeline file.
type ReplaySession struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	TimelineName  string         `json:"timelineName" gorm:"size:200"`
	BikeName      string         `json:"bikeName" gorm:"size:127;index:idx_session_bike_name"`
	SourcePath    string         `json:"sourcePath" gorm:"size:1024"`
	StartedAt     time.Time      `json:"startedAt" gorm:"index:idx_session_started_at"` // wall clock time playback started
	TimelineStart time.Time      `json:"timelineStart"`                                 // time of the first trackpoint
	Length        float64        `json:"length"`                                        // seconds
	Speed         float64        `json:"speed" gorm:"default:1"`
	Bike          datatypes.JSON `json:"bike"`                                          // bike definition used for the run
	TrailWKT      string         `json:"trailWkt" gorm:"type:text"`                     // LINESTRING Z of the scene trail
	SampleCount   int            `json:"sampleCount"`
	EndedAt       *time.Time     `json:"endedAt"`

	Samples []ReplaySample `json:"-" gorm:"foreignKey:SessionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (*ReplaySession) TableName() string {
	return "replay_sessions"
}

// ReplaySample is one delivered BikeState.
type ReplaySample struct {
	ID        uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	SessionID string  `json:"sessionId" gorm:"size:36;index:idx_sample_session_time,priority:1"`
	Time      float64 `json:"time" gorm:"index:idx_sample_session_time,priority:2"` // seconds since timeline start

	PosX float64 `json:"posX"`
	PosY float64 `json:"posY"`
	PosZ float64 `json:"posZ"`
	RotX float64 `json:"rotX"`
	RotY float64 `json:"rotY"`
	RotZ float64 `json:"rotZ"`

	WheelRPM         float64 `json:"wheelRpm"`
	SteeringRotation float64 `json:"steeringRotation"`
	PedalRotation    float64 `json:"pedalRotation"`
	PedalOffset      float64 `json:"pedalOffset"`
	GearFront        int     `json:"gearFront"`
	GearRear         int     `json:"gearRear"`
	BrakeRight       float64 `json:"brakeRight"`
	BrakeLeft        float64 `json:"brakeLeft"`
	SuspensionFront  float64 `json:"suspensionFront"`
	SuspensionRear   float64 `json:"suspensionRear"`
	SeatPosition     float64 `json:"seatPosition"`
	SpeedMPS         float64 `json:"speedMps"`
}

func (*ReplaySample) TableName() string {
	return "replay_samples"
}
