package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/databike/replay/internal/geo"
	"github.com/databike/replay/pkg/core"
)

type readerState int

const (
	stateStart readerState = iota
	stateMetadata
	stateMetadataExtensions
	statePostMeta
	stateTrack
	stateTrackPoint
	stateTrackPointExtensions
)

func (s readerState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateMetadata:
		return "metadata"
	case stateMetadataExtensions:
		return "metadata extensions"
	case statePostMeta:
		return "post metadata"
	case stateTrack:
		return "track"
	case stateTrackPoint:
		return "trackpoint"
	case stateTrackPointExtensions:
		return "trackpoint extensions"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReaderConfig tunes a TimelineReader.
type ReaderConfig struct {
	// RotationErrorLimit is the absolute/additive mismatch in degrees that
	// triggers a consistency warning.
	RotationErrorLimit float64
	// Debug logs every state transition at debug level.
	Debug bool
}

// TimelineReader parses recorded timelines. It holds no per-file state, so
// one reader can be shared.
type TimelineReader struct {
	logger   *slog.Logger
	bikeDefs BikeDefSource
	cfg      ReaderConfig
}

// NewTimelineReader creates a reader that resolves bike names through bikeDefs.
func NewTimelineReader(logger *slog.Logger, bikeDefs BikeDefSource, cfg ReaderConfig) *TimelineReader {
	if cfg.RotationErrorLimit <= 0 {
		cfg.RotationErrorLimit = geo.DefaultRotationErrorLimit
	}
	return &TimelineReader{
		logger:   logger,
		bikeDefs: bikeDefs,
		cfg:      cfg,
	}
}

// ReadTimelineFromFile opens path and parses it with ReadTimeline.
func (r *TimelineReader) ReadTimelineFromFile(path string) (*core.RawTimeline, core.BikeDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.BikeDefinition{}, fmt.Errorf("failed to open timeline: %w", err)
	}
	defer f.Close()
	return r.ReadTimeline(f)
}

// ReadTimeline parses a timeline document. On any error no timeline is
// returned; format problems are reported as *DataFormatError.
func (r *TimelineReader) ReadTimeline(in io.Reader) (*core.RawTimeline, core.BikeDefinition, error) {
	run := &timelineRun{
		reader:       r,
		dec:          xml.NewDecoder(in),
		state:        stateStart,
		timeline:     &core.RawTimeline{},
		converter:    geo.NewConverter(r.logger),
		prevRotation: core.Vec3{X: 0, Y: 180, Z: 0},
	}
	if err := run.read(); err != nil {
		return nil, core.BikeDefinition{}, err
	}
	r.logger.Info("timeline read",
		"name", run.timeline.Name,
		"bike", run.timeline.BikeName,
		"samples", run.timeline.Len())
	return run.timeline, run.bikeDef, nil
}

// opt is a value that may not have been observed yet.
type opt[T any] struct {
	v  T
	ok bool
}

func (o *opt[T]) set(v T) {
	o.v = v
	o.ok = true
}

// trackpoint accumulates the fields of one <trkpt> scattered over nested elements.
type trackpoint struct {
	lat, lon, ele    opt[float64]
	time             opt[int64]
	absX, absY, absZ opt[float64]
	addX, addY, addZ opt[float64]
	wheelRPM         opt[float64]
	steering         opt[float64]
	pedal            opt[float64]
	pedalDir         opt[int]
	gearFront        opt[int]
	gearRear         opt[int]
	brakeRight       opt[float64]
	brakeLeft        opt[float64]
	suspFront        opt[float64]
	suspRear         opt[float64]
	seat             opt[float64]
}

// missing returns the names of required fields that were not observed.
// Absolute rotation is optional and not reported.
func (p *trackpoint) missing() []string {
	var out []string
	check := func(ok bool, name string) {
		if !ok {
			out = append(out, name)
		}
	}
	check(p.lat.ok, "lat")
	check(p.lon.ok, "lon")
	check(p.ele.ok, "ele")
	check(p.time.ok, "time")
	check(p.addX.ok, "addrotx")
	check(p.addY.ok, "addroty")
	check(p.addZ.ok, "addrotz")
	check(p.wheelRPM.ok, "wheelrpm")
	check(p.steering.ok, "steeringrot")
	check(p.pedal.ok, "pedalrot")
	check(p.pedalDir.ok, "pedalrotdir")
	check(p.gearFront.ok, "gearfront")
	check(p.gearRear.ok, "gearrear")
	check(p.brakeRight.ok, "brakeright")
	check(p.brakeLeft.ok, "brakeleft")
	check(p.suspFront.ok, "suspfront")
	check(p.suspRear.ok, "susprear")
	check(p.seat.ok, "seatpos")
	return out
}

// IsComplete reports whether every required field was observed.
func (p *trackpoint) IsComplete() bool {
	return len(p.missing()) == 0
}

// absolute returns the absolute rotation if all three axes are present.
func (p *trackpoint) absolute() (*core.Vec3, error) {
	n := 0
	for _, o := range []opt[float64]{p.absX, p.absY, p.absZ} {
		if o.ok {
			n++
		}
	}
	switch n {
	case 0:
		return nil, nil
	case 3:
		return &core.Vec3{X: p.absX.v, Y: p.absY.v, Z: p.absZ.v}, nil
	default:
		return nil, errors.New("absolute rotation must have all three axes or none")
	}
}

type timelineRun struct {
	reader *TimelineReader
	dec    *xml.Decoder
	state  readerState

	timeline   *core.RawTimeline
	bikeDef    core.BikeDefinition
	hasBikeDef bool
	converter  *geo.Converter

	pt           trackpoint
	prevRotation core.Vec3
	prevPedal    float64
	endReached   bool
}

func (run *timelineRun) fail(msg string, err error) error {
	line, col := run.dec.InputPos()
	return &DataFormatError{Line: line, Col: col, State: run.state.String(), Msg: msg, Err: err}
}

func (run *timelineRun) debug(msg string, args ...any) {
	if run.reader.cfg.Debug {
		run.reader.logger.Debug(msg, append([]any{"state", run.state.String()}, args...)...)
	}
}

func (run *timelineRun) read() error {
	for !run.endReached {
		tok, err := run.dec.Token()
		if errors.Is(err, io.EOF) {
			return run.fail("unexpected end of file", nil)
		}
		if err != nil {
			return run.fail("malformed xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			run.debug("opening tag", "tag", name)
			if err := run.open(name, t); err != nil {
				return err
			}
		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			run.debug("closing tag", "tag", name)
			if err := run.close(name); err != nil {
				return err
			}
		}
	}

	if run.timeline.Len() == 0 {
		return run.fail("timeline has no trackpoints", nil)
	}
	return nil
}

func (run *timelineRun) unexpectedOpen(name string) error {
	return run.fail("unexpected opening tag "+name, nil)
}

func (run *timelineRun) unexpectedClose(name string) error {
	return run.fail("unexpected closing tag "+name, nil)
}

func (run *timelineRun) open(name string, el xml.StartElement) error {
	switch run.state {
	case stateStart:
		switch name {
		case "gpx":
		case "metadata":
			run.state = stateMetadata
		default:
			return run.unexpectedOpen(name)
		}

	case stateMetadata:
		switch name {
		case "name":
			text, err := run.readText(el)
			if err != nil {
				return err
			}
			run.timeline.Name = strings.TrimSpace(text)
		case "extensions":
			run.state = stateMetadataExtensions
		default:
			return run.unexpectedOpen(name)
		}

	case stateMetadataExtensions:
		switch name {
		case "bikename":
			text, err := run.readText(el)
			if err != nil {
				return err
			}
			return run.loadBikeDef(strings.TrimSpace(text))
		case "pedaloffset":
			v, err := run.readFloat(el)
			if err != nil {
				return err
			}
			run.timeline.PedalOffset = v
		default:
			return run.unexpectedOpen(name)
		}

	case statePostMeta:
		if name != "trk" {
			return run.unexpectedOpen(name)
		}
		run.state = stateTrack

	case stateTrack:
		switch name {
		case "trkseg":
		case "trkpt":
			run.pt = trackpoint{}
			if err := run.readLatLon(el); err != nil {
				return err
			}
			run.state = stateTrackPoint
		default:
			return run.unexpectedOpen(name)
		}

	case stateTrackPoint:
		switch name {
		case "ele":
			v, err := run.readFloat(el)
			if err != nil {
				return err
			}
			run.pt.ele.set(v)
		case "time":
			text, err := run.readText(el)
			if err != nil {
				return err
			}
			ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
			if err != nil {
				return run.fail("invalid time", err)
			}
			run.pt.time.set(ts.UnixNano())
		case "extensions":
			run.state = stateTrackPointExtensions
		default:
			return run.unexpectedOpen(name)
		}

	case stateTrackPointExtensions:
		return run.openTrackPointExtension(name, el)
	}
	return nil
}

func (run *timelineRun) close(name string) error {
	switch run.state {
	case stateMetadata:
		if name != "metadata" {
			return run.unexpectedClose(name)
		}
		if !run.hasBikeDef {
			return run.fail("metadata does not name a bike", nil)
		}
		run.state = statePostMeta

	case stateMetadataExtensions:
		if name != "extensions" {
			return run.unexpectedClose(name)
		}
		run.state = stateMetadata

	case stateTrack:
		if name != "trkseg" {
			return run.unexpectedClose(name)
		}
		run.endReached = true

	case stateTrackPoint:
		if name != "trkpt" {
			return run.unexpectedClose(name)
		}
		if err := run.commit(); err != nil {
			return err
		}
		run.state = stateTrack

	case stateTrackPointExtensions:
		if name != "extensions" {
			return run.unexpectedClose(name)
		}
		run.state = stateTrackPoint

	default:
		return run.unexpectedClose(name)
	}
	return nil
}

func (run *timelineRun) openTrackPointExtension(name string, el xml.StartElement) error {
	pt := &run.pt
	def := &run.bikeDef

	switch name {
	case "absrotx", "absroty", "absrotz":
		text, err := run.readText(el)
		if err != nil {
			return err
		}
		// empty means "not measured"
		if strings.TrimSpace(text) == "" {
			return nil
		}
		v, err := parseFloat(text)
		if err != nil {
			return run.fail("invalid "+name, err)
		}
		v = wrap360(v)
		switch name {
		case "absrotx":
			pt.absX.set(v)
		case "absroty":
			pt.absY.set(v)
		default:
			pt.absZ.set(v)
		}

	case "addrotx", "addroty", "addrotz":
		v, err := run.readFloat(el)
		if err != nil {
			return err
		}
		switch name {
		case "addrotx":
			pt.addX.set(v)
		case "addroty":
			pt.addY.set(v)
		default:
			pt.addZ.set(v)
		}

	case "wheelrpm":
		v, err := run.readFloat(el)
		if err != nil {
			return err
		}
		pt.wheelRPM.set(v)

	case "steeringrot":
		v, err := run.readFloat(el)
		if err != nil {
			return err
		}
		pt.steering.set(math.Mod(v, 180))

	case "pedalrot":
		v, err := run.readFloat(el)
		if err != nil {
			return err
		}
		pt.pedal.set(wrap360(v))

	case "pedalrotdir":
		v, err := run.readInt(el)
		if err != nil {
			return err
		}
		if v != 1 && v != -1 {
			return run.fail(fmt.Sprintf("invalid pedalrotdir value %d", v), nil)
		}
		pt.pedalDir.set(v)

	case "gearfront":
		v, err := run.gear(el, def.FrontGears)
		if err != nil {
			return err
		}
		pt.gearFront.set(v)

	case "gearrear":
		v, err := run.gear(el, def.RearGears)
		if err != nil {
			return err
		}
		pt.gearRear.set(v)

	case "brakeright":
		v, err := run.normalized(el, 1)
		if err != nil {
			return err
		}
		pt.brakeRight.set(v)

	case "brakeleft":
		v, err := run.normalized(el, 1)
		if err != nil {
			return err
		}
		pt.brakeLeft.set(v)

	case "suspfront":
		v, err := run.normalized(el, def.MaxFrontSus)
		if err != nil {
			return err
		}
		pt.suspFront.set(v)

	case "susprear":
		v, err := run.normalized(el, def.MaxRearSus)
		if err != nil {
			return err
		}
		pt.suspRear.set(v)

	case "seatpos":
		v, err := run.normalized(el, def.MaxSeatPos)
		if err != nil {
			return err
		}
		pt.seat.set(v)

	default:
		return run.unexpectedOpen(name)
	}
	return nil
}

// commit validates the accumulated trackpoint, converts it to scene units
// and appends it to the timeline.
func (run *timelineRun) commit() error {
	pt := &run.pt
	if missing := pt.missing(); len(missing) > 0 {
		return run.fail("incomplete trackpoint, missing "+strings.Join(missing, ", "), nil)
	}

	tl := run.timeline
	if n := tl.Len(); n > 0 && pt.time.v <= tl.Time[n-1] {
		return run.fail("trackpoint time is not ascending", nil)
	}

	abs, err := pt.absolute()
	if err != nil {
		return run.fail(err.Error(), nil)
	}
	if tl.Len() == 0 && abs == nil {
		return run.fail("missing absolute rotation on first trackpoint", nil)
	}

	pos := run.converter.ConvertGPSToScene(pt.lat.v, pt.ele.v, pt.lon.v)
	add := core.Vec3{X: pt.addX.v, Y: pt.addY.v, Z: pt.addZ.v}
	rot := run.converter.ComputeGlobalAbsRot(run.prevRotation, add, abs, run.reader.cfg.RotationErrorLimit)
	run.prevRotation = rot

	pedal, err := geo.ReconstructGlobalAngle(run.prevPedal, pt.pedal.v, pt.pedalDir.v)
	if err != nil {
		return run.fail("invalid pedal rotation", err)
	}
	run.prevPedal = pedal

	run.debug("trackpoint accepted", "index", tl.Len(), "position", pos, "rotation", rot, "pedal", pedal)

	tl.Time = append(tl.Time, pt.time.v)
	tl.Latitude = append(tl.Latitude, pt.lat.v)
	tl.Longitude = append(tl.Longitude, pt.lon.v)
	tl.Elevation = append(tl.Elevation, pt.ele.v)
	tl.PosX = append(tl.PosX, pos.X)
	tl.PosY = append(tl.PosY, pos.Y)
	tl.PosZ = append(tl.PosZ, pos.Z)
	tl.RotX = append(tl.RotX, rot.X)
	tl.RotY = append(tl.RotY, rot.Y)
	tl.RotZ = append(tl.RotZ, rot.Z)
	tl.WheelRPM = append(tl.WheelRPM, pt.wheelRPM.v)
	tl.SteeringRot = append(tl.SteeringRot, pt.steering.v)
	tl.PedalRot = append(tl.PedalRot, pedal)
	tl.GearFront = append(tl.GearFront, pt.gearFront.v)
	tl.GearRear = append(tl.GearRear, pt.gearRear.v)
	tl.BrakeRight = append(tl.BrakeRight, pt.brakeRight.v)
	tl.BrakeLeft = append(tl.BrakeLeft, pt.brakeLeft.v)
	tl.SuspFront = append(tl.SuspFront, pt.suspFront.v)
	tl.SuspRear = append(tl.SuspRear, pt.suspRear.v)
	tl.SeatPos = append(tl.SeatPos, pt.seat.v)
	return nil
}

func (run *timelineRun) loadBikeDef(name string) error {
	if run.reader.bikeDefs == nil {
		return run.fail("no bike definition source configured", nil)
	}
	def, err := run.reader.bikeDefs.LoadBikeDef(name)
	if err != nil {
		return run.fail(fmt.Sprintf("unable to load bike definition %q", name), err)
	}
	run.timeline.BikeName = name
	run.bikeDef = def
	run.hasBikeDef = true
	run.reader.logger.Debug("bike definition loaded", "bike", name, "frontGears", def.FrontGears, "rearGears", def.RearGears)
	return nil
}

func (run *timelineRun) readLatLon(el xml.StartElement) error {
	for _, attr := range el.Attr {
		var target *opt[float64]
		var limit float64
		switch strings.ToLower(attr.Name.Local) {
		case "lat":
			target, limit = &run.pt.lat, 90
		case "lon":
			target, limit = &run.pt.lon, 180
		default:
			continue
		}
		v, err := parseFloat(attr.Value)
		if err != nil {
			return run.fail("invalid "+attr.Name.Local+" attribute", err)
		}
		if math.Abs(v) > limit {
			return run.fail(fmt.Sprintf("%s %g out of range", attr.Name.Local, v), nil)
		}
		target.set(v)
	}
	if !run.pt.lat.ok || !run.pt.lon.ok {
		return run.fail("trackpoint requires lat and lon attributes", nil)
	}
	return nil
}

// readText reads the character data of el and consumes its end tag.
func (run *timelineRun) readText(el xml.StartElement) (string, error) {
	var s string
	if err := run.dec.DecodeElement(&s, &el); err != nil {
		return "", run.fail("malformed element "+el.Name.Local, err)
	}
	return s, nil
}

func (run *timelineRun) readFloat(el xml.StartElement) (float64, error) {
	text, err := run.readText(el)
	if err != nil {
		return 0, err
	}
	v, err := parseFloat(text)
	if err != nil {
		return 0, run.fail("invalid "+el.Name.Local, err)
	}
	return v, nil
}

func (run *timelineRun) readInt(el xml.StartElement) (int, error) {
	text, err := run.readText(el)
	if err != nil {
		return 0, err
	}
	v, err := parseIntFromFloat(text)
	if err != nil {
		return 0, run.fail("invalid "+el.Name.Local, err)
	}
	return v, nil
}

func (run *timelineRun) gear(el xml.StartElement, count int) (int, error) {
	v, err := run.readInt(el)
	if err != nil {
		return 0, err
	}
	if v < 1 || v > count {
		return 0, run.fail(fmt.Sprintf("invalid %s value %d, bike has %d", el.Name.Local, v, count), nil)
	}
	return v, nil
}

// normalized range-checks a reading against [0,limit] and divides it through.
func (run *timelineRun) normalized(el xml.StartElement, limit float64) (float64, error) {
	v, err := run.readFloat(el)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > limit {
		return 0, run.fail(fmt.Sprintf("invalid %s value %g, allowed range is [0,%g]", el.Name.Local, v, limit), nil)
	}
	return v / limit, nil
}

func wrap360(v float64) float64 {
	m := math.Mod(v, 360)
	if m < 0 {
		m += 360
	}
	return m
}
