package influx

import (
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newBackupManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "influx_backup.lp.gz")
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Bucket: "rides", Org: "bike-replay"}, path)
	require.NoError(t, m.OpenBackup())
	return m, path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var lines []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Enabled: false}, "")
	assert.Error(t, m.Connect(t.Context()))
}

func TestWritePoint_NoWriter(t *testing.T) {
	m := NewManager(zerolog.Nop(), config.InfluxConfig{Bucket: "rides"}, "")
	st := core.BikeState{}
	assert.Error(t, m.WritePoint("rides", StatePoint(core.Session{ID: "s"}, &st)))
	assert.Error(t, m.OpenBackup(), "no backup path")
}

func TestBackup_BikeStates(t *testing.T) {
	m, path := newBackupManager(t)
	m.StartSession(core.Session{ID: "s1", TimelineName: "ride", TimelineStart: testStart})

	for i, rpm := range []float64{60, 90} {
		st := core.BikeState{Time: float64(i) * 0.5, WheelRPM: rpm, GearFront: 1, GearRear: 2 + i}
		m.UpdateBikeState(&st)
	}
	m.UpdatePlaybackState(false)
	require.NoError(t, m.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	assert.True(t, strings.HasPrefix(lines[0], "bike_state,session=s1,timeline=ride "))
	assert.Contains(t, lines[0], "wheel_rpm=60")
	assert.Contains(t, lines[0], "gear_rear=2i")
	assert.True(t, strings.HasSuffix(lines[0], " "+strconv.FormatInt(testStart.UnixNano(), 10)))

	assert.Contains(t, lines[1], "wheel_rpm=90")
	assert.Contains(t, lines[1], "gear_rear=3i")
	second := testStart.Add(500 * time.Millisecond).UnixNano()
	assert.True(t, strings.HasSuffix(lines[1], " "+strconv.FormatInt(second, 10)))
}

func TestBackup_WriteTimeline(t *testing.T) {
	m, path := newBackupManager(t)

	raw := &core.RawTimeline{
		Name:     "ride",
		BikeName: "citybike",
		Time:     []int64{testStart.UnixNano(), testStart.Add(time.Second).UnixNano()},
	}
	raw.Latitude = []float64{48.1, 48.2}
	raw.Longitude = []float64{11.5, 11.6}
	raw.Elevation = []float64{520, 521}
	for range raw.Time {
		raw.PosX = append(raw.PosX, 0)
		raw.PosY = append(raw.PosY, 0)
		raw.PosZ = append(raw.PosZ, 0)
		raw.RotX = append(raw.RotX, 0)
		raw.RotY = append(raw.RotY, 0)
		raw.RotZ = append(raw.RotZ, 0)
		raw.WheelRPM = append(raw.WheelRPM, 75)
		raw.SteeringRot = append(raw.SteeringRot, 0)
		raw.PedalRot = append(raw.PedalRot, 0)
		raw.GearFront = append(raw.GearFront, 2)
		raw.GearRear = append(raw.GearRear, 5)
		raw.BrakeRight = append(raw.BrakeRight, 0)
		raw.BrakeLeft = append(raw.BrakeLeft, 0)
		raw.SuspFront = append(raw.SuspFront, 0)
		raw.SuspRear = append(raw.SuspRear, 0)
		raw.SeatPos = append(raw.SeatPos, 1)
	}

	require.NoError(t, m.WriteTimeline("s2", raw))
	require.NoError(t, m.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "raw_sample,bike=citybike,session=s2,timeline=ride "))
	assert.Contains(t, lines[0], "lat=48.1")
	assert.Contains(t, lines[1], "ele=521")
	assert.Contains(t, lines[1], "gear_rear=5i")
}

func TestWriteTimeline_Inconsistent(t *testing.T) {
	m, _ := newBackupManager(t)
	defer m.Close()

	raw := &core.RawTimeline{Time: []int64{1, 2}}
	assert.Error(t, m.WriteTimeline("s", raw))
	assert.Error(t, m.WriteTimeline("s", nil))
}

func TestClose_Idempotent(t *testing.T) {
	m, _ := newBackupManager(t)
	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
