package proxystate

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/ticket"
)

// fileEntry is the on-disk (snake_case) shape of one advertisement, as
// written to state.yml.
type fileEntry struct {
	ResourceID string `yaml:"resource_id"`
	Label      string `yaml:"label,omitempty"`
	Host       string `yaml:"host"`
	Port       uint16 `yaml:"port"`
	Enabled    bool   `yaml:"enabled"`
}

type fileState struct {
	Proxies []fileEntry `yaml:"proxies"`
}

// FileStore persists Snapshots as state.yml inside a repo directory. A
// missing file loads as an empty snapshot; a corrupt file is a hard error,
// matching the rest of the repo's storage layout.
type FileStore struct {
	path string
}

// NewFileStore returns a Store backed by path (typically
// "<repo>/state.yml").
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() (*Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("proxystate: read %s: %w", f.path, err)
	}

	var fs fileState
	if err := yaml.Unmarshal(raw, &fs); err != nil {
		return nil, fmt.Errorf("proxystate: parse %s: %w", f.path, err)
	}

	snap := emptySnapshot()
	for _, e := range fs.Proxies {
		snap.advertisements[e.ResourceID] = ticket.Advertisement{
			ResourceID: e.ResourceID,
			Label:      e.Label,
			Service:    authority.Authority{Host: e.Host, Port: e.Port},
			Enabled:    e.Enabled,
		}
	}
	return snap, nil
}

func (f *FileStore) Save(snap *Snapshot) error {
	fs := fileState{Proxies: make([]fileEntry, 0, len(snap.advertisements))}
	for _, a := range snap.advertisements {
		fs.Proxies = append(fs.Proxies, fileEntry{
			ResourceID: a.ResourceID,
			Label:      a.Label,
			Host:       a.Service.Host,
			Port:       a.Service.Port,
			Enabled:    a.Enabled,
		})
	}

	out, err := yaml.Marshal(fs)
	if err != nil {
		return fmt.Errorf("proxystate: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("proxystate: mkdir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("proxystate: write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("proxystate: rename into place: %w", err)
	}
	return nil
}
