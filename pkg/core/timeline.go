// pkg/core/timeline.go
package core

import "math"

// TicksPerSecond is the resolution of RawTimeline.Time (Unix nanoseconds).
const TicksPerSecond = int64(1_000_000_000)

// Vec3 is a scene-space vector: x = right/east, y = up, z = front/north.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Magnitude returns the Euclidean length of v.
func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// RawTimeline is the parsed log: parallel slices with one element per
// recorded trackpoint. Positions are already in scene units and rotations
// are continuous (unwrapped) degrees.
type RawTimeline struct {
	Name        string
	BikeName    string
	PedalOffset float64

	// Time holds absolute timestamps in ticks, strictly increasing.
	Time []int64

	// Raw geodetic fixes, kept for export.
	Latitude  []float64
	Longitude []float64
	Elevation []float64

	PosX []float64
	PosY []float64
	PosZ []float64

	RotX []float64
	RotY []float64
	RotZ []float64

	WheelRPM    []float64
	SteeringRot []float64
	PedalRot    []float64

	GearFront []int
	GearRear  []int

	BrakeRight []float64
	BrakeLeft  []float64
	SuspFront  []float64
	SuspRear   []float64
	SeatPos    []float64
}

// Len returns the number of samples.
func (r *RawTimeline) Len() int {
	return len(r.Time)
}

// Consistent reports whether every per-sample slice has the same length as Time.
func (r *RawTimeline) Consistent() bool {
	n := len(r.Time)
	floats := [][]float64{
		r.PosX, r.PosY, r.PosZ,
		r.RotX, r.RotY, r.RotZ,
		r.WheelRPM, r.SteeringRot, r.PedalRot,
		r.BrakeRight, r.BrakeLeft,
		r.SuspFront, r.SuspRear, r.SeatPos,
	}
	for _, f := range floats {
		if len(f) != n {
			return false
		}
	}
	return len(r.GearFront) == n && len(r.GearRear) == n
}
