package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "bike_replay.cfg.json"

// PlaybackConfig holds scheduler and tick settings.
type PlaybackConfig struct {
	TickInterval time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
	BatchSize    int           `json:"batchSize" mapstructure:"batchSize"`
	BaseStep     float64       `json:"baseStep" mapstructure:"baseStep"`
	Speed        float64       `json:"speed" mapstructure:"speed"`
	// PedalOffset is nil when the timeline's own offset should be used.
	PedalOffset *float64 `json:"pedalOffset" mapstructure:"pedalOffset"`
}

// ReaderConfig holds timeline reader settings.
type ReaderConfig struct {
	RotationErrorLimit float64 `json:"rotationErrorLimit" mapstructure:"rotationErrorLimit"`
}

// DebugConfig switches per-component trace logging.
type DebugConfig struct {
	TimelineReader bool `json:"timelineReader" mapstructure:"timelineReader"`
	SampleSystem   bool `json:"sampleSystem" mapstructure:"sampleSystem"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the sqlite database file location.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
	// DumpInterval of zero dumps only when a session ends.
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects and configures the recording backend.
type StorageConfig struct {
	Type      string       `json:"type" mapstructure:"type"`
	FlushSize int          `json:"flushSize" mapstructure:"flushSize"`
	Memory    MemoryConfig `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./replaylogs")
	viper.SetDefault("bikeDefsDir", "./bikedefs")

	viper.SetDefault("debug.timelineReader", false)
	viper.SetDefault("debug.sampleSystem", false)

	viper.SetDefault("reader.rotationErrorLimit", 10.0)

	viper.SetDefault("playback.tickInterval", "20ms")
	viper.SetDefault("playback.batchSize", 50)
	viper.SetDefault("playback.baseStep", 0.02)
	viper.SetDefault("playback.speed", 1.0)

	viper.SetDefault("trail.samplesPerSecond", 10)

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.flushSize", 500)
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./recordings/replay.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "1m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "bike_replay")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "bike-replay")
	viper.SetDefault("influx.bucket", "rides")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "bike-replay")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load sets defaults and reads the JSON config file from configDir.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

func GetPlaybackConfig() PlaybackConfig {
	pc := PlaybackConfig{
		TickInterval: viper.GetDuration("playback.tickInterval"),
		BatchSize:    viper.GetInt("playback.batchSize"),
		BaseStep:     viper.GetFloat64("playback.baseStep"),
		Speed:        viper.GetFloat64("playback.speed"),
	}
	if viper.IsSet("playback.pedalOffset") {
		off := viper.GetFloat64("playback.pedalOffset")
		pc.PedalOffset = &off
	}
	return pc
}

func GetReaderConfig() ReaderConfig {
	return ReaderConfig{
		RotationErrorLimit: viper.GetFloat64("reader.rotationErrorLimit"),
	}
}

func GetDebugConfig() DebugConfig {
	return DebugConfig{
		TimelineReader: viper.GetBool("debug.timelineReader"),
		SampleSystem:   viper.GetBool("debug.sampleSystem"),
	}
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:      viper.GetString("storage.type"),
		FlushSize: viper.GetInt("storage.flushSize"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
