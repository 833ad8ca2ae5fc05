package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mailmerge/mailmerge/internal/model"
)

// MarkerRepository persists the resume marker at a fixed path. At most one
// marker exists at a time.
type MarkerRepository struct {
	path string
	now  func() time.Time
}

// NewMarkerRepository creates a MarkerRepository for path
func NewMarkerRepository(path string) *MarkerRepository {
	return &MarkerRepository{path: path, now: time.Now}
}

// Path returns the marker location
func (r *MarkerRepository) Path() string {
	return r.path
}

// CheckAndLoad returns the marker when it exists, parses and points at an
// export file that is still on disk. Anything else yields ErrNotFound.
func (r *MarkerRepository) CheckAndLoad() (*model.Marker, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var raw struct {
		DoneTime string `json:"done_time"`
		File     string `json:"file"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: unreadable marker: %v", ErrNotFound, err)
	}
	marker := model.Marker{CompletedAt: parseDoneTime(raw.DoneTime), ExportPath: raw.File}
	if marker.ExportPath == "" {
		return nil, fmt.Errorf("%w: marker has no export file", ErrNotFound)
	}
	if _, err := os.Stat(marker.ExportPath); err != nil {
		return nil, fmt.Errorf("%w: export file %s: %v", ErrNotFound, marker.ExportPath, err)
	}
	return &marker, nil
}

// Write records a completed run whose export lives at exportPath
func (r *MarkerRepository) Write(exportPath string) (*model.Marker, error) {
	marker := &model.Marker{CompletedAt: r.now(), ExportPath: exportPath}
	data, err := json.Marshal(marker)
	if err != nil {
		return nil, fmt.Errorf("failed to encode marker: %w", err)
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		return nil, fmt.Errorf("failed to write marker: %w", err)
	}
	return marker, nil
}

// Clear removes the marker. A missing marker is not an error.
func (r *MarkerRepository) Clear() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove marker: %w", err)
	}
	return nil
}

// parseDoneTime accepts RFC 3339 and the space separated form older markers
// used. An unparsable time leaves the marker valid with a zero timestamp.
func parseDoneTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
