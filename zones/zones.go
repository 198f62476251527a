// Package zones persists named alarm zones drawn as GeoJSON features.
package zones

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/swdee/go-obbtile/geo"
)

// ErrNotFound is returned when deleting a zone that does not exist
var ErrNotFound = errors.New("zone not found")

// UnnamedZone is the name recorded for features without a name property
const UnnamedZone = "unnamed"

// Store persists alarm zones
type Store interface {
	// Save adds each feature as a new zone
	Save(features []geo.Feature) error
	// List returns every zone with its ID in the id property
	List() ([]geo.Feature, error)
	// Delete removes the zone with the given ID
	Delete(id int) error
}

// Zone is a stored alarm zone
type Zone struct {
	ID        int         `json:"id"`
	Name      string      `json:"name"`
	Feature   geo.Feature `json:"geojson"`
	CreatedAt time.Time   `json:"created_at"`
}

// fileData is the on disk layout of a FileStore
type fileData struct {
	NextID int    `json:"next_id"`
	Zones  []Zone `json:"zones"`
}

// FileStore is a Store keeping all zones in a single JSON file
type FileStore struct {
	path string
	mu   sync.Mutex
	data fileData
	// now is replaced in tests
	now func() time.Time
}

// OpenFileStore loads the zones in path, starting empty if the file does not
// exist yet
func OpenFileStore(path string) (*FileStore, error) {

	s := &FileStore{
		path: path,
		data: fileData{NextID: 1},
		now:  time.Now,
	}

	b, err := os.ReadFile(path)

	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("error reading zone store: %w", err)
	}

	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("error decoding zone store %s: %w", path, err)
	}

	// IDs are never reused even if the file was edited by hand
	for _, z := range s.data.Zones {
		if z.ID >= s.data.NextID {
			s.data.NextID = z.ID + 1
		}
	}

	return s, nil
}

// Save adds each feature as a new zone
func (s *FileStore) Save(features []geo.Feature) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.data
	data.Zones = append([]Zone(nil), s.data.Zones...)

	for _, f := range features {
		name, _ := f.Properties["name"].(string)

		if name == "" {
			name = UnnamedZone
		}

		data.Zones = append(data.Zones, Zone{
			ID:        data.NextID,
			Name:      name,
			Feature:   f,
			CreatedAt: s.now().UTC(),
		})

		data.NextID++
	}

	if err := s.write(data); err != nil {
		return err
	}

	s.data = data

	return nil
}

// List returns every zone in creation order with its ID injected into the
// id property
func (s *FileStore) List() ([]geo.Feature, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]geo.Feature, 0, len(s.data.Zones))

	for _, z := range s.data.Zones {
		f := z.Feature
		props := make(map[string]any, len(f.Properties)+1)

		for k, v := range f.Properties {
			props[k] = v
		}

		props["id"] = z.ID
		f.Properties = props

		out = append(out, f)
	}

	return out, nil
}

// Delete removes the zone with the given ID
func (s *FileStore) Delete(id int) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Zone, 0, len(s.data.Zones))

	for _, z := range s.data.Zones {
		if z.ID != id {
			kept = append(kept, z)
		}
	}

	if len(kept) == len(s.data.Zones) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	data := fileData{NextID: s.data.NextID, Zones: kept}

	if err := s.write(data); err != nil {
		return err
	}

	s.data = data

	return nil
}

// write replaces the store file with data
func (s *FileStore) write(data fileData) error {

	b, err := json.MarshalIndent(data, "", "  ")

	if err != nil {
		return fmt.Errorf("error encoding zone store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("error creating zone store directory: %w", err)
	}

	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("error writing zone store: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error replacing zone store: %w", err)
	}

	return nil
}
