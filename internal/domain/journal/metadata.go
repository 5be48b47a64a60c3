package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/deltaengine/delta/internal/domain/entity"
	apperr "github.com/deltaengine/delta/pkg/errors"
)

const metadataFileName = "metadata.json"

func metadataPath(runDir string) string {
	return filepath.Join(runDir, metadataFileName)
}

// WriteMetadata replaces metadata.json atomically via temp-file-plus-rename,
// so a reader never observes a partially written file.
func WriteMetadata(runDir string, m entity.Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.NewJournalIOError("marshal metadata", err)
	}
	tmp, err := os.CreateTemp(runDir, "metadata-*.json.tmp")
	if err != nil {
		return apperr.NewJournalIOError("create temp metadata file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.NewJournalIOError("write temp metadata file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.NewJournalIOError("fsync temp metadata file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.NewJournalIOError("close temp metadata file", err)
	}
	if err := os.Rename(tmpPath, metadataPath(runDir)); err != nil {
		os.Remove(tmpPath)
		return apperr.NewJournalIOError("rename metadata file into place", err)
	}
	return nil
}

// ReadMetadata loads metadata.json. Missing file is a CodeJournalIO error —
// callers resolving a run ID to a metadata file expect it to already exist.
func ReadMetadata(runDir string) (entity.Metadata, error) {
	b, err := os.ReadFile(metadataPath(runDir))
	if err != nil {
		return entity.Metadata{}, apperr.NewJournalIOError("read metadata.json", err)
	}
	var m entity.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return entity.Metadata{}, apperr.NewJournalIOError("parse metadata.json", err)
	}
	return m, nil
}

// UpdateMetadata reads the current metadata, applies mutate, and writes it
// back atomically. mutate receives a pointer it may modify in place.
func UpdateMetadata(runDir string, mutate func(*entity.Metadata)) (entity.Metadata, error) {
	m, err := ReadMetadata(runDir)
	if err != nil {
		return entity.Metadata{}, err
	}
	mutate(&m)
	m.UpdatedAt = time.Now().UTC()
	if err := WriteMetadata(runDir, m); err != nil {
		return entity.Metadata{}, err
	}
	return m, nil
}
