package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SnapshotFile persists a MemStore's documents as a JSON file, so the demo
// mode keeps its data across runs. Saves are atomic: the file is written to a
// temp path and renamed into place.
type SnapshotFile struct {
	mu       sync.RWMutex
	filePath string
}

func NewSnapshotFile(dataDir, filename string) (*SnapshotFile, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return &SnapshotFile{
		filePath: filepath.Join(dataDir, filename),
	}, nil
}

// Load reads the stored documents. A missing file is not an error; it
// returns nil documents.
func (s *SnapshotFile) Load() (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var raw map[string]map[string]any
	if err := json.NewDecoder(file).Decode(&raw); err != nil {
		return nil, err
	}
	docs := make(map[string]map[string]any, len(raw))
	for path, fields := range raw {
		docs[path] = decodeFields(fields)
	}
	return docs, nil
}

// Save writes the documents to the JSON file.
func (s *SnapshotFile) Save(docs map[string]map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := make(map[string]map[string]any, len(docs))
	for path, fields := range docs {
		raw[path] = encodeFields(fields)
	}

	tempFile := s.filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(raw); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}

	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, s.filePath)
}

// Exists checks if the snapshot file exists.
func (s *SnapshotFile) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.filePath)
	return err == nil
}

// timestampKey wraps time.Time fields on disk; plain JSON would read them
// back as strings and break timestamp ordering.
const timestampKey = "__time__"

func encodeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			out[k] = map[string]any{timestampKey: t.UTC().Format(time.RFC3339Nano)}
			continue
		}
		out[k] = v
	}
	return out
}

func decodeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok && len(m) == 1 {
			if raw, ok := m[timestampKey].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
					out[k] = t.UTC()
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}
