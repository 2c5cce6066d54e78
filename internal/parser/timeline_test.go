package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/databike/replay/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBike = core.BikeDefinition{
	Name:        "citybike",
	PrefabPath:  "Bikes/CityBike",
	FrontGears:  3,
	RearGears:   8,
	MaxFrontSus: 100,
	MaxRearSus:  80,
	MaxSeatPos:  120,
	FrontBrake:  core.BrakeSideLeft,
}

// staticBikeDefs resolves names from a map.
type staticBikeDefs map[string]core.BikeDefinition

func (s staticBikeDefs) LoadBikeDef(name string) (core.BikeDefinition, error) {
	def, ok := s[name]
	if !ok {
		return core.BikeDefinition{}, fmt.Errorf("bike %q not found", name)
	}
	return def, nil
}

func newTestReader() *TimelineReader {
	return NewTimelineReader(slog.Default(), staticBikeDefs{"citybike": testBike}, ReaderConfig{})
}

// pointFields returns a complete set of trackpoint extension values.
func pointFields() map[string]string {
	return map[string]string{
		"absrotx":     "0",
		"absroty":     "0",
		"absrotz":     "0",
		"addrotx":     "0",
		"addroty":     "0",
		"addrotz":     "0",
		"wheelrpm":    "100",
		"steeringrot": "0",
		"pedalrot":    "0",
		"pedalrotdir": "1",
		"gearfront":   "1",
		"gearrear":    "1",
		"brakeright":  "0",
		"brakeleft":   "0",
		"suspfront":   "0",
		"susprear":    "0",
		"seatpos":     "0",
	}
}

// trkpt renders one trackpoint. A field set to "-" is omitted.
func trkpt(second int, fields map[string]string) string {
	var b strings.Builder
	lat, lon, ele := "48.0", "11.0", "500"
	if v, ok := fields["lat"]; ok {
		lat = v
	}
	if v, ok := fields["lon"]; ok {
		lon = v
	}
	if v, ok := fields["ele"]; ok {
		ele = v
	}
	fmt.Fprintf(&b, `<trkpt lat="%s" lon="%s">`, lat, lon)
	if ele != "-" {
		fmt.Fprintf(&b, "<ele>%s</ele>", ele)
	}
	if t, ok := fields["time"]; ok {
		if t != "-" {
			fmt.Fprintf(&b, "<time>%s</time>", t)
		}
	} else {
		fmt.Fprintf(&b, "<time>2024-05-04T08:00:%02dZ</time>", second)
	}
	b.WriteString("<extensions>")
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fields[k]
		if k == "lat" || k == "lon" || k == "ele" || k == "time" || v == "-" {
			continue
		}
		fmt.Fprintf(&b, "<%s>%s</%s>", k, v, k)
	}
	b.WriteString("</extensions></trkpt>")
	return b.String()
}

func gpxDoc(points ...string) string {
	return `<?xml version="1.0"?><gpx><metadata><name>test</name><extensions>` +
		`<bikename>citybike</bikename><pedaloffset>0</pedaloffset></extensions></metadata>` +
		`<trk><trkseg>` + strings.Join(points, "") + `</trkseg></trk></gpx>`
}

func readString(t *testing.T, doc string) (*core.RawTimeline, core.BikeDefinition, error) {
	t.Helper()
	return newTestReader().ReadTimeline(strings.NewReader(doc))
}

func requireFormatError(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFormat)
	var dfe *DataFormatError
	require.True(t, errors.As(err, &dfe))
	if contains != "" {
		assert.Contains(t, err.Error(), contains)
	}
}

func TestReadTimelineFromFile_Ride(t *testing.T) {
	r := NewTimelineReader(slog.Default(), BikeDefDir{Dir: filepath.Join("testdata", "bikedefs")}, ReaderConfig{Debug: true})
	tl, def, err := r.ReadTimelineFromFile(filepath.Join("testdata", "ride.gpx"))
	require.NoError(t, err)

	assert.Equal(t, testBike, def)
	assert.Equal(t, "Morning ride", tl.Name)
	assert.Equal(t, "citybike", tl.BikeName)
	assert.Equal(t, 15.0, tl.PedalOffset)
	require.Equal(t, 3, tl.Len())
	assert.True(t, tl.Consistent())

	assert.Equal(t, int64(500_000_000), tl.Time[1]-tl.Time[0])
	assert.Equal(t, int64(500_000_000), tl.Time[2]-tl.Time[1])

	// origin at the first fix, moving north-east and up
	assert.Zero(t, tl.PosX[0])
	assert.Zero(t, tl.PosY[0])
	assert.Zero(t, tl.PosZ[0])
	assert.Greater(t, tl.PosX[2], tl.PosX[1])
	assert.Greater(t, tl.PosZ[2], tl.PosZ[1])
	assert.InDelta(t, 0.4, tl.PosY[2], 0.01)

	assert.Equal(t, []float64{180, 185, 190}, tl.RotY)
	assert.Equal(t, []float64{0, 0, 0}, tl.RotX)
	assert.Equal(t, []float64{350, 380, 440}, tl.PedalRot)
	assert.Equal(t, []float64{2, -3, 0}, tl.SteeringRot)
	assert.Equal(t, []int{2, 2, 2}, tl.GearFront)
	assert.Equal(t, []int{5, 6, 6}, tl.GearRear)
	assert.Equal(t, []float64{0, 0.25, 0}, tl.BrakeRight)
	assert.Equal(t, []float64{0, 0, 0.5}, tl.BrakeLeft)
	assert.Equal(t, []float64{0.5, 0.4, 1}, tl.SuspFront)
	assert.Equal(t, []float64{0.25, 0.25, 0}, tl.SuspRear)
	assert.Equal(t, []float64{0.5, 0.5, 1}, tl.SeatPos)
	assert.Equal(t, []float64{48.137, 48.13705, 48.1371}, tl.Latitude)
}

func TestReadTimelineFromFile_MissingFile(t *testing.T) {
	_, _, err := newTestReader().ReadTimelineFromFile(filepath.Join(t.TempDir(), "nope.gpx"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReadTimeline_SuspensionNormalised(t *testing.T) {
	f := pointFields()
	f["suspfront"] = "50"
	tl, _, err := readString(t, gpxDoc(trkpt(0, f)))
	require.NoError(t, err)
	assert.Equal(t, 0.5, tl.SuspFront[0])

	f["suspfront"] = "150"
	_, _, err = readString(t, gpxDoc(trkpt(0, f)))
	requireFormatError(t, err, "suspfront")
}

func TestReadTimeline_RangeChecks(t *testing.T) {
	tests := []struct {
		field string
		value string
	}{
		{"gearfront", "0"},
		{"gearfront", "4"},
		{"gearrear", "9"},
		{"gearrear", "2.5"},
		{"brakeright", "1.1"},
		{"brakeleft", "-0.1"},
		{"susprear", "81"},
		{"seatpos", "-1"},
		{"pedalrotdir", "0"},
		{"pedalrotdir", "2"},
		{"wheelrpm", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			f := pointFields()
			f[tt.field] = tt.value
			_, _, err := readString(t, gpxDoc(trkpt(0, f)))
			requireFormatError(t, err, tt.field)
		})
	}
}

func TestReadTimeline_Wrapping(t *testing.T) {
	f := pointFields()
	f["absrotx"] = "-90"
	f["absroty"] = "720"
	f["absrotz"] = "370"
	f["pedalrot"] = "-10"
	f["steeringrot"] = "190"
	tl, _, err := readString(t, gpxDoc(trkpt(0, f)))
	require.NoError(t, err)

	// measured (270, 0, 10) -> scene (0, 190, 270)
	assert.InDelta(t, 0, tl.RotX[0], 1e-9)
	assert.InDelta(t, 190, tl.RotY[0], 1e-9)
	assert.InDelta(t, -90, tl.RotZ[0], 1e-9, "nearest to the initial 0")
	assert.InDelta(t, 350, tl.PedalRot[0], 1e-9)
	assert.InDelta(t, 10, tl.SteeringRot[0], 1e-9)
}

func TestReadTimeline_AbsoluteWrapJump(t *testing.T) {
	// scene y: measured z 170 -> 350, then 190 -> 370 (reads 10)
	first := pointFields()
	first["absrotz"] = "170"
	second := pointFields()
	second["absrotz"] = "190"
	second["addrotz"] = "20"

	tl, _, err := readString(t, gpxDoc(trkpt(0, first), trkpt(1, second)))
	require.NoError(t, err)
	assert.InDelta(t, 350, tl.RotY[0], 1e-9)
	assert.InDelta(t, 370, tl.RotY[1], 1e-9)
}

func TestReadTimeline_Errors(t *testing.T) {
	noAbs := pointFields()
	noAbs["absrotx"], noAbs["absroty"], noAbs["absrotz"] = "-", "-", "-"

	partialAbs := pointFields()
	partialAbs["absroty"] = "-"

	noWheel := pointFields()
	noWheel["wheelrpm"] = "-"

	noEle := pointFields()
	noEle["ele"] = "-"

	badTime := pointFields()
	badTime["time"] = "yesterday"

	badLat := pointFields()
	badLat["lat"] = "91"

	tests := []struct {
		name     string
		doc      string
		contains string
	}{
		{"first point without absolute rotation", gpxDoc(trkpt(0, noAbs)), "missing absolute rotation"},
		{"partial absolute rotation", gpxDoc(trkpt(0, partialAbs)), "all three axes"},
		{"incomplete trackpoint", gpxDoc(trkpt(0, noWheel)), "missing wheelrpm"},
		{"missing elevation", gpxDoc(trkpt(0, noEle)), "missing ele"},
		{"bad time", gpxDoc(trkpt(0, badTime)), "invalid time"},
		{"latitude out of range", gpxDoc(trkpt(0, badLat)), "out of range"},
		{"equal timestamps", gpxDoc(trkpt(1, pointFields()), trkpt(1, pointFields())), "not ascending"},
		{"decreasing timestamps", gpxDoc(trkpt(2, pointFields()), trkpt(1, pointFields())), "not ascending"},
		{"no trackpoints", gpxDoc(), "no trackpoints"},
		{"unknown extension", gpxDoc(strings.Replace(trkpt(0, pointFields()), "<wheelrpm>", "<cadence>1</cadence><wheelrpm>", 1)), "cadence"},
		{"unknown bike", strings.Replace(gpxDoc(trkpt(0, pointFields())), "citybike", "tandem", 1), "tandem"},
		{"no bike", `<gpx><metadata><name>x</name></metadata><trk><trkseg></trkseg></trk></gpx>`, "does not name a bike"},
		{"track before metadata", `<gpx><trk><trkseg></trkseg></trk></gpx>`, "unexpected opening tag trk"},
		{"truncated", `<gpx><metadata><name>x</name>`, "unexpected EOF"},
		{"malformed xml", `<gpx><metadata><name>x</nam></metadata></gpx>`, "malformed"},
		{"point outside segment close", strings.Replace(gpxDoc(trkpt(0, pointFields())), "</trkseg></trk>", "</trk>", 1), "unexpected closing tag trk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, _, err := readString(t, tt.doc)
			requireFormatError(t, err, tt.contains)
			assert.Nil(t, tl, "no partial timeline on error")
		})
	}
}

func TestReadTimeline_SecondPointWithoutAbsolute(t *testing.T) {
	noAbs := pointFields()
	noAbs["absrotx"], noAbs["absroty"], noAbs["absrotz"] = "-", "-", "-"
	noAbs["addrotz"] = "7"

	tl, _, err := readString(t, gpxDoc(trkpt(0, pointFields()), trkpt(1, noAbs)))
	require.NoError(t, err)
	assert.InDelta(t, 187, tl.RotY[1], 1e-9)
}

func TestReadTimeline_ErrorPosition(t *testing.T) {
	f := pointFields()
	f["gearrear"] = "42"
	doc := "<gpx>\n<metadata><name>x</name><extensions><bikename>citybike</bikename></extensions></metadata>\n<trk><trkseg>\n" +
		trkpt(0, f) + "\n</trkseg></trk></gpx>"

	_, _, err := readString(t, doc)
	var dfe *DataFormatError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, 4, dfe.Line)
	assert.Equal(t, "trackpoint extensions", dfe.State)
}

func TestReadTimeline_NoBikeSource(t *testing.T) {
	r := NewTimelineReader(slog.Default(), nil, ReaderConfig{})
	_, _, err := r.ReadTimeline(strings.NewReader(gpxDoc(trkpt(0, pointFields()))))
	requireFormatError(t, err, "no bike definition source")
}

func TestTrackpointIsComplete(t *testing.T) {
	var p trackpoint
	assert.False(t, p.IsComplete())
	assert.Len(t, p.missing(), 18)

	p.lat.set(1)
	p.lon.set(1)
	p.ele.set(1)
	p.time.set(1)
	p.addX.set(0)
	p.addY.set(0)
	p.addZ.set(0)
	p.wheelRPM.set(0)
	p.steering.set(0)
	p.pedal.set(0)
	p.pedalDir.set(1)
	p.gearFront.set(1)
	p.gearRear.set(1)
	p.brakeRight.set(0)
	p.brakeLeft.set(0)
	p.suspFront.set(0)
	p.suspRear.set(0)
	assert.Equal(t, []string{"seatpos"}, p.missing())
	p.seat.set(0)
	assert.True(t, p.IsComplete())
}
