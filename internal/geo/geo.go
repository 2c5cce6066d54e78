package geo

import (
	"errors"
	"log/slog"
	"math"

	"github.com/databike/replay/pkg/core"
)

// WGS84 ellipsoid axes in metres.
const (
	SemiMajorAxis = 6378137.0
	SemiMinorAxis = 6356752.3142
)

// DefaultRotationErrorLimit is the absolute/additive orientation mismatch, in
// degrees, above which a warning is logged.
const DefaultRotationErrorLimit = 10.0

// ErrInvalidDirection is returned when a rotation direction is not +1 or -1.
var ErrInvalidDirection = errors.New("rotation direction must be 1 or -1")

// Converter turns raw sensor readings into scene-space values.
//
// The first GPS fix passed to ConvertGPSToENU becomes the local origin for
// every later call. There is no reset: create a new Converter per timeline.
type Converter struct {
	logger *slog.Logger

	hasOrigin bool
	refLat    float64 // radians
	refLon    float64 // radians
	refEle    float64
}

// NewConverter creates a converter with no origin. A nil logger discards
// consistency warnings.
func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Converter{logger: logger}
}

// HasOrigin reports whether the local origin has been recorded.
func (c *Converter) HasOrigin() bool {
	return c.hasOrigin
}

// ConvertGPSToENU converts a geodetic fix (degrees, metres) into east/up/north
// metres relative to the first fix converted by c.
//
// This is the first order ellipsoidal approximation from Drake (2002),
// "Converting GPS Coordinates to Navigation Coordinates", including its
// second order curvature and cross terms.
func (c *Converter) ConvertGPSToENU(lat, ele, lon float64) (east, up, north float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	if !c.hasOrigin {
		c.hasOrigin = true
		c.refLat, c.refLon, c.refEle = phi, lam, ele
		return 0, 0, 0
	}

	a := SemiMajorAxis
	e2 := 1 - (SemiMinorAxis/a)*(SemiMinorAxis/a)

	dphi := phi - c.refLat
	dlam := lam - c.refLon
	dh := ele - c.refEle
	h := c.refEle

	cp := math.Cos(c.refLat)
	sp := math.Sin(c.refLat)
	tmp1 := math.Sqrt(1 - e2*sp*sp)
	tmp3 := tmp1 * tmp1 * tmp1

	east = (a/tmp1+h)*cp*dlam -
		(a*(1-e2)/tmp3+h)*sp*dphi*dlam +
		cp*dlam*dh

	north = (a*(1-e2)/tmp3+h)*dphi +
		1.5*cp*sp*a*e2*dphi*dphi +
		sp*sp*dh*dphi +
		0.5*sp*cp*(a/tmp1+h)*dlam*dlam

	up = dh -
		0.5*(a-1.5*a*e2*cp*cp+0.5*a*e2+h)*dphi*dphi -
		0.5*cp*cp*(a/tmp1-h)*dlam*dlam

	return east, up, north
}

// ConvertGPSToScene is ConvertGPSToENU laid out as a scene vector
// (x = east, y = up, z = north).
func (c *Converter) ConvertGPSToScene(lat, ele, lon float64) core.Vec3 {
	e, u, n := c.ConvertGPSToENU(lat, ele, lon)
	return core.Vec3{X: e, Y: u, Z: n}
}

// mod360 wraps v into [0,360).
func mod360(v float64) float64 {
	m := math.Mod(v, 360)
	if m < 0 {
		m += 360
	}
	return m
}

// ReconstructGlobalAngle returns the unbounded angle that reads as mod360
// modulo 360 and lies at most one revolution from previousGlobal in the
// given direction. A reading equal to the previous one is treated as no
// movement.
func ReconstructGlobalAngle(previousGlobal, mod360Value float64, direction int) (float64, error) {
	prevMod := mod360(previousGlobal)
	m := mod360(mod360Value)
	switch direction {
	case 1:
		return previousGlobal + mod360(m-prevMod), nil
	case -1:
		return previousGlobal - mod360(prevMod-m), nil
	default:
		return 0, ErrInvalidDirection
	}
}

// ReconstructGlobalAbsRotFromModulo returns the unbounded angle congruent to
// newModAbs that is nearest to prevGlobal. It assumes the true change since
// the previous sample is under 180 degrees; larger gaps silently alias.
func ReconstructGlobalAbsRotFromModulo(newModAbs, prevGlobal float64) float64 {
	m := mod360(newModAbs)
	base := math.Floor(prevGlobal/360) * 360
	best := base + m
	for _, cand := range [2]float64{base - 360 + m, base + 360 + m} {
		if math.Abs(cand-prevGlobal) < math.Abs(best-prevGlobal) {
			best = cand
		}
	}
	return best
}

// ReconstructGlobalAbsRotFromModuloVec applies ReconstructGlobalAbsRotFromModulo per axis.
func ReconstructGlobalAbsRotFromModuloVec(newModAbs, prevGlobal core.Vec3) core.Vec3 {
	return core.Vec3{
		X: ReconstructGlobalAbsRotFromModulo(newModAbs.X, prevGlobal.X),
		Y: ReconstructGlobalAbsRotFromModulo(newModAbs.Y, prevGlobal.Y),
		Z: ReconstructGlobalAbsRotFromModulo(newModAbs.Z, prevGlobal.Z),
	}
}

// AbsoluteToScene maps a measured absolute orientation (front=x, right=y,
// up=z) into scene axes (right=x, up=y, front=z). The sensor's heading zero
// points backwards in the scene, hence the 180 degree offset on scene y.
func AbsoluteToScene(measured core.Vec3) core.Vec3 {
	return core.Vec3{X: measured.Y, Y: measured.Z + 180, Z: measured.X}
}

// AdditiveToScene maps a measured rotation delta into scene axes.
func AdditiveToScene(measured core.Vec3) core.Vec3 {
	return core.Vec3{X: measured.Y, Y: measured.Z, Z: measured.X}
}

// ComputeGlobalAbsRot combines the previous global scene orientation with a
// measured additive delta and an optional measured absolute reading. Both
// readings are in measured axes. When the absolute reading is present it
// wins; if it disagrees with prev+additive by errorLimitDeg or more, a
// warning is logged.
func (c *Converter) ComputeGlobalAbsRot(prev, additive core.Vec3, absolute *core.Vec3, errorLimitDeg float64) core.Vec3 {
	adjusted := prev.Add(AdditiveToScene(additive))
	if absolute == nil {
		return adjusted
	}
	reconstructed := ReconstructGlobalAbsRotFromModuloVec(AbsoluteToScene(*absolute), prev)
	if diff := reconstructed.Sub(adjusted).Magnitude(); diff >= errorLimitDeg {
		c.logger.Warn("absolute and additive rotation disagree",
			"absolute", reconstructed,
			"additive", adjusted,
			"difference", diff,
			"limit", errorLimitDeg)
	}
	return reconstructed
}
