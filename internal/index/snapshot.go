package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotVersion guards against loading files written by an incompatible
// layout.
const snapshotVersion = 1

type snapshotFile struct {
	Version   int             `json:"version"`
	Dimension int             `json:"dimension"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
	Filename   string    `json:"filename,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// SaveSnapshot writes the index contents to path as a JSON flat file.
// Entries are written in insertion order so a reload reproduces search
// results exactly, tie-breaks included. The file is written to a temp path
// and renamed so readers never see a partial snapshot.
func (m *Memory) SaveSnapshot(path string) error {
	m.mu.RLock()
	snap := snapshotFile{
		Version:   snapshotVersion,
		Dimension: m.dim,
		Entries:   make([]snapshotEntry, len(m.entries)),
	}
	for i, entry := range m.entries {
		snap.Entries[i] = snapshotEntry{
			DocumentID: entry.DocumentID,
			ChunkIndex: entry.ChunkIndex,
			Text:       entry.Text,
			Vector:     entry.Vector,
			Filename:   entry.Meta.Filename,
			IngestedAt: entry.Meta.IngestedAt,
		}
	}
	m.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot replaces the index contents with those stored at path.
// A missing file leaves the index empty and returns nil, so cold starts and
// warm starts share one code path.
func (m *Memory) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	entries := make([]Entry, len(snap.Entries))
	norms := make([]float64, len(snap.Entries))
	for i, se := range snap.Entries {
		if snap.Dimension != 0 && len(se.Vector) != snap.Dimension {
			return fmt.Errorf("%w: snapshot entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(se.Vector), snap.Dimension)
		}
		entries[i] = Entry{
			DocumentID: se.DocumentID,
			ChunkIndex: se.ChunkIndex,
			Text:       se.Text,
			Vector:     se.Vector,
			Meta: Metadata{
				Filename:   se.Filename,
				IngestedAt: se.IngestedAt,
			},
		}
		norms[i] = norm(se.Vector)
	}

	m.mu.Lock()
	m.dim = snap.Dimension
	m.entries = entries
	m.norms = norms
	m.mu.Unlock()
	return nil
}
