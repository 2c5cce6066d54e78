package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/internal/session"
	"github.com/databike/replay/pkg/core"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ridePath = filepath.Join("..", "..", "internal", "parser", "testdata", "ride.gpx")

func useTestConfig(t *testing.T) {
	t.Helper()
	t.Cleanup(viper.Reset)
	pterm.DisableStyling()
	config.SetDefaults()
	viper.Set("bikeDefsDir", filepath.Join("..", "..", "internal", "parser", "testdata", "bikedefs"))
	viper.Set("logsDir", t.TempDir())
}

func testCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf, 2.5)

	p.UpdatePlaybackState(true)
	for _, tm := range []float64{0, 0.5, 1, 1.5, 2.02} {
		st := core.BikeState{Time: tm, GearFront: 1, GearRear: 3}
		p.UpdateBikeState(&st)
	}
	p.UpdatePlaybackState(false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "> playing", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "00:00:00.000 / 00:00:02.500"))
	assert.True(t, strings.HasPrefix(lines[2], "00:00:01.000"))
	assert.True(t, strings.HasPrefix(lines[3], "00:00:02.020"))
	assert.Contains(t, lines[3], "gear 1-3")
	assert.Equal(t, "|| paused", lines[4])
}

func TestRunTrail(t *testing.T) {
	useTestConfig(t)

	var buf bytes.Buffer
	require.NoError(t, runTrail(testCmd(), &buf, ridePath, &trailOptions{sps: 10}))
	assert.True(t, strings.HasPrefix(buf.String(), "LINESTRING Z"))

	buf.Reset()
	require.NoError(t, runTrail(testCmd(), &buf, ridePath, &trailOptions{gps: true}))
	assert.True(t, strings.HasPrefix(buf.String(), "LINESTRING Z"))

	assert.ErrorIs(t, runTrail(testCmd(), &buf, "missing.gpx", &trailOptions{sps: 10}), session.ErrLoadFailed)
}

func TestTimelineTable(t *testing.T) {
	useTestConfig(t)

	sess, err := session.Open(context.Background(), ridePath, sessionOptions())
	require.NoError(t, err)

	rows := timelineTable(sess)
	values := map[string]string{}
	for _, row := range rows[1:] {
		values[row[0]] = row[1]
	}
	assert.Equal(t, "00:00:01.000", values["Length"])
	assert.Equal(t, "3", values["Samples"])
	assert.Equal(t, "15°", values["Pedal offset"])

	var buf bytes.Buffer
	require.NoError(t, renderInspect(&buf, sess))
	assert.Contains(t, buf.String(), "citybike")
}

func TestRunPlay_FastWithMemoryStore(t *testing.T) {
	useTestConfig(t)
	outDir := t.TempDir()
	viper.Set("storage.memory.outputDir", outDir)
	viper.Set("playback.baseStep", 0.25)
	ZLogger = zerolog.Nop()

	statusPath := filepath.Join(t.TempDir(), "status.json")

	var buf bytes.Buffer
	err := runPlay(context.Background(), &buf, ridePath, &playOptions{
		speed:    1,
		fast:     true,
		store:    "memory",
		progress: true,
		status:   statusPath,
	})
	require.NoError(t, err)
	assert.FileExists(t, statusPath)

	out := buf.String()
	assert.Contains(t, out, "Recording written to "+outDir)
	assert.Contains(t, out, "Stopped at 00:00:01.000")
}

func TestNewZeroLogger(t *testing.T) {
	var buf bytes.Buffer
	zl := newZeroLogger(&buf, "warning")
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
