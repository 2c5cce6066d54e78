package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/databike/replay/internal/util"
	"github.com/databike/replay/pkg/core"
	"github.com/samber/lo"
)

// ExportVersion is written into every export file.
const ExportVersion = "1"

// ReplayExport is the root JSON structure
type ReplayExport struct {
	Version     string           `json:"version"`
	Session     core.Session     `json:"session"`
	SampleCount int              `json:"sampleCount"`
	EndTime     float64          `json:"endTime"`
	Trail       [][3]float64     `json:"trail"` // scene x, y, z
	Samples     []core.BikeState `json:"samples"`
}

// exportFileName builds "<timeline>_<start>.json[.gz]" from the session.
func exportFileName(s *core.Session, compress bool) string {
	name := s.TimelineName
	if name == "" {
		name = "timeline"
	}
	name = fmt.Sprintf("%s_%s.json", util.SafeFileName(name), s.StartedAt.Format("20060102_150405"))
	if compress {
		name += ".gz"
	}
	return name
}

// exportJSON writes the session data to a (gzipped) JSON file. Callers
// hold mu.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, exportFileName(b.session, b.cfg.CompressOutput))

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() ReplayExport {
	export := ReplayExport{
		Version:     ExportVersion,
		Session:     *b.session,
		SampleCount: len(b.states),
		Trail: lo.Map(b.trail, func(p core.Vec3, _ int) [3]float64 {
			return [3]float64{p.X, p.Y, p.Z}
		}),
		Samples: b.states,
		EndTime: lo.LastOrEmpty(b.states).Time,
	}
	if export.Samples == nil {
		export.Samples = []core.BikeState{}
	}
	return export
}

func writeJSON(path string, data ReplayExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data ReplayExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gz.Close()
}

// ReadExport loads an export file, decompressing .gz files.
func ReadExport(path string) (*ReplayExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var export ReplayExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export %s: %w", path, err)
	}
	return &export, nil
}
