package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/internal/logging"
	intOtel "github.com/databike/replay/internal/otel"
	"github.com/databike/replay/internal/parser"
	"github.com/databike/replay/internal/playback"
	"github.com/databike/replay/internal/sample"
	"github.com/databike/replay/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
)

const sampleInstrumentation = "github.com/databike/replay/internal/sample"

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	ProgramName string = "bike_replay"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger = slog.New(slog.DiscardHandler)

	// ZLogger is handed to the database and InfluxDB managers
	ZLogger zerolog.Logger = zerolog.Nop()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	logFile  *os.File
	otelFile *os.File
)

func main() {
	err := rootCmd.Execute()
	shutdownRuntime()
	if err != nil {
		os.Exit(1)
	}
}

// setupRuntime loads the config and wires logging and telemetry. Logs go
// to a file in logsDir so that command output on stdout stays clean.
func setupRuntime() error {
	SlogManager = logging.NewSlogManager()

	if err := config.Load(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config, using defaults: %v\n", err)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	logPath := logging.LogFilePath(logsDir, ProgramName, SessionStartTime)
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}
	var err error
	logFile, err = os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer
	if otelCfg.Enabled && otelCfg.Endpoint == "" {
		otelPath := strings.TrimSuffix(logPath, ".log") + ".otel.jsonl"
		otelFile, err = os.OpenFile(otelPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open OTel log file: %w", err)
		}
		otelWriter = otelFile
	}
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up OpenTelemetry: %w", err)
	}

	level := viper.GetString("logLevel")
	SlogManager.Setup(logFile, level, OTelProvider.LoggerProvider())
	Logger = SlogManager.Logger()
	ZLogger = newZeroLogger(logFile, level)

	Logger.Info("Starting up",
		"version", CurrentVersion,
		"buildDate", BuildDate,
		"config", viper.ConfigFileUsed(),
		"otel", OTelProvider.Enabled())
	return nil
}

// newZeroLogger builds the zerolog logger used by the database and InfluxDB
// managers.
func newZeroLogger(out io.Writer, level string) zerolog.Logger {
	var lvl zerolog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = zerolog.DebugLevel
	case "WARN", "WARNING":
		lvl = zerolog.WarnLevel
	case "ERROR":
		lvl = zerolog.ErrorLevel
	case "TRACE":
		lvl = zerolog.TraceLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	w := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func shutdownRuntime() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if SlogManager != nil {
		_ = SlogManager.Flush(ctx)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "OTel shutdown: %v\n", err)
		}
	}
	if otelFile != nil {
		_ = otelFile.Close()
	}
	if logFile != nil {
		_ = logFile.Close()
	}
}

// sessionOptions builds the playback pipeline options from config.
func sessionOptions() session.Options {
	pc := config.GetPlaybackConfig()
	rc := config.GetReaderConfig()
	dc := config.GetDebugConfig()

	var sampleMeter metric.Meter
	if OTelProvider != nil {
		sampleMeter = OTelProvider.Meter(sampleInstrumentation)
	}

	return session.Options{
		Logger:   Logger,
		BikeDefs: parser.BikeDefDir{Dir: viper.GetString("bikeDefsDir")},
		Reader: parser.ReaderConfig{
			RotationErrorLimit: rc.RotationErrorLimit,
			Debug:              dc.TimelineReader,
		},
		Sample: sample.Config{
			BatchSize:   pc.BatchSize,
			BaseStep:    pc.BaseStep,
			PedalOffset: pc.PedalOffset,
			Debug:       dc.SampleSystem,
			Meter:       sampleMeter,
		},
		Playback: playback.Config{
			TickInterval: pc.TickInterval,
			Debug:        dc.SampleSystem,
		},
		Speed: pc.Speed,
	}
}

// backupPath names the InfluxDB fallback file of this run.
func backupPath() string {
	return filepath.Join(viper.GetString("logsDir"),
		fmt.Sprintf("%s.%s.influx.lp.gz", ProgramName, SessionStartTime.Format("20060102_150405")))
}
