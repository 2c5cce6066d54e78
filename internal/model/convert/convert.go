// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/databike/replay/internal/model"
	"github.com/databike/replay/pkg/core"
	"gorm.io/datatypes"
)

// CoreToSession converts a core.Session to its table row.
func CoreToSession(s core.Session, trailWKT string) (model.ReplaySession, error) {
	bike, err := json.Marshal(s.Bike)
	if err != nil {
		return model.ReplaySession{}, fmt.Errorf("encoding bike definition: %w", err)
	}
	return model.ReplaySession{
		ID:            s.ID,
		TimelineName:  s.TimelineName,
		BikeName:      s.Bike.Name,
		SourcePath:    s.SourcePath,
		StartedAt:     s.StartedAt,
		TimelineStart: s.TimelineStart,
		Length:        s.Length,
		Speed:         s.Speed,
		Bike:          datatypes.JSON(bike),
		TrailWKT:      trailWKT,
	}, nil
}

// SessionToCore converts a table row back to a core.Session.
func SessionToCore(m model.ReplaySession) (core.Session, error) {
	s := core.Session{
		ID:            m.ID,
		TimelineName:  m.TimelineName,
		SourcePath:    m.SourcePath,
		StartedAt:     m.StartedAt,
		TimelineStart: m.TimelineStart,
		Length:        m.Length,
		Speed:         m.Speed,
	}
	if len(m.Bike) > 0 {
		if err := json.Unmarshal(m.Bike, &s.Bike); err != nil {
			return core.Session{}, fmt.Errorf("decoding bike definition: %w", err)
		}
	}
	return s, nil
}

// CoreToSample converts a delivered state to a sample row of sessionID.
func CoreToSample(sessionID string, st core.BikeState) model.ReplaySample {
	return model.ReplaySample{
		SessionID:        sessionID,
		Time:             st.Time,
		PosX:             st.Position.X,
		PosY:             st.Position.Y,
		PosZ:             st.Position.Z,
		RotX:             st.Rotation.X,
		RotY:             st.Rotation.Y,
		RotZ:             st.Rotation.Z,
		WheelRPM:         st.WheelRPM,
		SteeringRotation: st.SteeringRotation,
		PedalRotation:    st.PedalRotation,
		PedalOffset:      st.PedalOffset,
		GearFront:        st.GearFront,
		GearRear:         st.GearRear,
		BrakeRight:       st.BrakeRight,
		BrakeLeft:        st.BrakeLeft,
		SuspensionFront:  st.SuspensionFront,
		SuspensionRear:   st.SuspensionRear,
		SeatPosition:     st.SeatPosition,
		SpeedMPS:         st.SpeedMPS,
	}
}

// SampleToCore converts a sample row back to a BikeState.
func SampleToCore(m model.ReplaySample) core.BikeState {
	return core.BikeState{
		Time:             m.Time,
		PedalOffset:      m.PedalOffset,
		Position:         core.Vec3{X: m.PosX, Y: m.PosY, Z: m.PosZ},
		Rotation:         core.Vec3{X: m.RotX, Y: m.RotY, Z: m.RotZ},
		WheelRPM:         m.WheelRPM,
		SteeringRotation: m.SteeringRotation,
		PedalRotation:    m.PedalRotation,
		GearFront:        m.GearFront,
		GearRear:         m.GearRear,
		BrakeRight:       m.BrakeRight,
		BrakeLeft:        m.BrakeLeft,
		SuspensionFront:  m.SuspensionFront,
		SuspensionRear:   m.SuspensionRear,
		SeatPosition:     m.SeatPosition,
		SpeedMPS:         m.SpeedMPS,
	}
}

// SamplesToCore converts rows in order.
func SamplesToCore(rows []model.ReplaySample) []core.BikeState {
	out := make([]core.BikeState, len(rows))
	for i, r := range rows {
		out[i] = SampleToCore(r)
	}
	return out
}
