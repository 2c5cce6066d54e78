// Package influx writes played bike states and raw timelines to InfluxDB,
// falling back to a gzipped line protocol file when the server is down.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement names.
const (
	MeasurementState = "bike_state"
	MeasurementRaw   = "raw_sample"
)

// RetentionSeconds is applied to buckets created by Connect.
const RetentionSeconds = 60 * 60 * 24 * 90

// Manager handles InfluxDB connections and writes. It is a playback
// visualizer: every delivered state becomes a point.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File

	mu      sync.Mutex
	session core.Session
}

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		IsValid:     false,
		BucketNames: []string{cfg.Bucket},
		Logger:      log,
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer, points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf("%s://%s:%s", m.cfg.Protocol, m.cfg.Host, m.cfg.Port),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.Logger.Info().Str("backupPath", m.BackupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.OpenBackup()
	}

	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.IsValid = true
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

// OpenBackup switches the manager to the gzip line protocol file.
func (m *Manager) OpenBackup() error {
	m.IsValid = false
	if m.BackupWriter != nil {
		return nil
	}
	if m.BackupPath == "" {
		return errors.New("influx backup path not set")
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org

	_, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		_, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Error().Err(err).Str("org", orgName).Msg("Error getting organization")
		return err
	}

	for _, bucket := range m.BucketNames {
		if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: RetentionSeconds,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		errorsCh := m.Writers[bucket].Errors()
		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, errorsCh)
	}
	m.Logger.Debug().Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// StartSession sets the tags and time base of subsequent state points.
func (m *Manager) StartSession(s core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// UpdateBikeState writes one point per delivered state.
func (m *Manager) UpdateBikeState(state *core.BikeState) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	if err := m.WritePoint(m.cfg.Bucket, StatePoint(s, state)); err != nil {
		m.Logger.Error().Err(err).Float64("time", state.Time).Msg("Error writing bike state")
	}
}

// UpdatePlaybackState flushes pending points on pause.
func (m *Manager) UpdatePlaybackState(playing bool) {
	if playing {
		return
	}
	if err := m.Flush(); err != nil {
		m.Logger.Error().Err(err).Msg("Error flushing InfluxDB writers")
	}
}

// WriteTimeline writes every raw sample with its recorded timestamp.
func (m *Manager) WriteTimeline(sessionID string, raw *core.RawTimeline) error {
	if raw == nil || !raw.Consistent() {
		return errors.New("raw timeline is inconsistent")
	}
	for i := range raw.Len() {
		if err := m.WritePoint(m.cfg.Bucket, RawPoint(sessionID, raw, i)); err != nil {
			return err
		}
	}
	m.Logger.Debug().Int("count", raw.Len()).Str("timeline", raw.Name).Msg("Wrote raw timeline")
	return nil
}

// Flush sends buffered points to the server or the backup file.
func (m *Manager) Flush() error {
	if m.IsValid {
		for _, w := range m.Writers {
			w.Flush()
		}
		return nil
	}
	if m.BackupWriter != nil {
		return m.BackupWriter.Flush()
	}
	return nil
}

// Close flushes and releases the client and the backup file.
func (m *Manager) Close() error {
	if m.Client != nil {
		for _, w := range m.Writers {
			w.Flush()
		}
		m.Client.Close()
	}
	if m.BackupWriter == nil {
		return nil
	}
	err := m.BackupWriter.Close()
	if m.backupFile != nil {
		err = errors.Join(err, m.backupFile.Close())
	}
	m.BackupWriter = nil
	m.backupFile = nil
	return err
}

// StatePoint builds the point of a played state. Its timestamp is the
// recorded wall time the state corresponds to.
func StatePoint(s core.Session, st *core.BikeState) *influxdb2_write.Point {
	ts := s.TimelineStart.Add(time.Duration(st.Time * float64(time.Second)))
	return influxdb2_write.NewPoint(
		MeasurementState,
		map[string]string{
			"session":  s.ID,
			"timeline": s.TimelineName,
		},
		map[string]any{
			"time_s":           st.Time,
			"pos_x":            st.Position.X,
			"pos_y":            st.Position.Y,
			"pos_z":            st.Position.Z,
			"rot_x":            st.Rotation.X,
			"rot_y":            st.Rotation.Y,
			"rot_z":            st.Rotation.Z,
			"wheel_rpm":        st.WheelRPM,
			"steering":         st.SteeringRotation,
			"pedal":            st.PedalRotation,
			"gear_front":       st.GearFront,
			"gear_rear":        st.GearRear,
			"brake_right":      st.BrakeRight,
			"brake_left":       st.BrakeLeft,
			"suspension_front": st.SuspensionFront,
			"suspension_rear":  st.SuspensionRear,
			"seat":             st.SeatPosition,
			"speed_mps":        st.SpeedMPS,
		},
		ts,
	)
}

// RawPoint builds the point of raw sample i.
func RawPoint(sessionID string, raw *core.RawTimeline, i int) *influxdb2_write.Point {
	fields := map[string]any{
		"wheel_rpm":   raw.WheelRPM[i],
		"steering":    raw.SteeringRot[i],
		"pedal":       raw.PedalRot[i],
		"gear_front":  raw.GearFront[i],
		"gear_rear":   raw.GearRear[i],
		"brake_right": raw.BrakeRight[i],
		"brake_left":  raw.BrakeLeft[i],
		"susp_front":  raw.SuspFront[i],
		"susp_rear":   raw.SuspRear[i],
		"seat":        raw.SeatPos[i],
	}
	if i < len(raw.Latitude) && i < len(raw.Longitude) {
		fields["lat"] = raw.Latitude[i]
		fields["lon"] = raw.Longitude[i]
	}
	if i < len(raw.Elevation) {
		fields["ele"] = raw.Elevation[i]
	}
	return influxdb2_write.NewPoint(
		MeasurementRaw,
		map[string]string{
			"session":  sessionID,
			"timeline": raw.Name,
			"bike":     raw.BikeName,
		},
		fields,
		time.Unix(0, raw.Time[i]),
	)
}
