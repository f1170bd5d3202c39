package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
)

// StaticSource serves fixed records from the registry or a fixture file. It backs
// local runs and tests.
type StaticSource struct {
	def     Definition
	records []ingest.RawRecord
}

func NewStaticSource(def Definition, baseDir string) (*StaticSource, error) {
	if def.Static == nil {
		return nil, fmt.Errorf("source %q has no static block", def.ID)
	}
	raw := def.Static.Records
	if def.Static.File != "" {
		loaded, err := loadFixture(resolvePath(baseDir, def.Static.File))
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", def.ID, err)
		}
		raw = append(raw, loaded...)
	}
	records := make([]ingest.RawRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, ingest.RawRecord(r))
	}
	return &StaticSource{def: def, records: records}, nil
}

func resolvePath(baseDir, file string) string {
	if filepath.IsAbs(file) || baseDir == "" {
		return file
	}
	return filepath.Join(baseDir, file)
}

func loadFixture(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var records []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return records, nil
}

func (s *StaticSource) Definition() Definition {
	return s.def
}

func (s *StaticSource) Fetch(ctx context.Context) (*Fetched, error) {
	if d := s.def.Static.Delay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, apperrors.NewAdapterError(s.def.ID, ctx.Err(), "fetch interrupted")
		case <-timer.C:
		}
	}
	if s.def.Static.Error != "" {
		return nil, apperrors.NewAdapterError(s.def.ID, errors.New(s.def.Static.Error), "fetch failed")
	}
	records := make([]ingest.RawRecord, len(s.records))
	for i, r := range s.records {
		cp := make(ingest.RawRecord, len(r))
		for k, v := range r {
			cp[k] = v
		}
		records[i] = cp
	}
	return &Fetched{Records: records}, nil
}
