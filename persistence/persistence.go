// Package persistence snapshots a Session's active configuration to disk
// and reads it back, so a later process can inspect where a session left
// off. Nothing in this module resumes a session from a snapshot.
//
// File-per-session-id, MkdirAll at construction, os.ErrNotExist mapped to
// a typed "not found" condition on Load. Holds only the active
// configuration: the data model and in-flight queues are scripting-host
// and session state this package does not own.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the durable, serializable projection of one Session's
// configuration at the moment it was taken.
type Snapshot struct {
	SessionID string    `json:"sessionID" yaml:"sessionID"`
	Document  string    `json:"document" yaml:"document"`
	Active    []string  `json:"active" yaml:"active"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Persister is the seam interpreter.Session saves snapshots through (it
// never calls Load), so the interpreter package never imports an encoding
// directly.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (Snapshot, error)
}

// ErrNotFound is returned by Load when no snapshot exists for a session id.
var ErrNotFound = errors.New("persistence: no snapshot for session")

// JSONPersister stores one JSON file per session id under dir.
type JSONPersister struct {
	dir string
}

func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	return &JSONPersister{dir: dir}, nil
}

func (p *JSONPersister) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: json marshal: %w", err)
	}
	fn := filepath.Join(p.dir, snap.SessionID+".json")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", fn, err)
	}
	return nil
}

func (p *JSONPersister) Load(_ context.Context, sessionID string) (Snapshot, error) {
	fn := filepath.Join(p.dir, sessionID+".json")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("persistence: read %s: %w", fn, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persistence: json unmarshal: %w", err)
	}
	snap.SessionID = sessionID
	return snap, nil
}

// YAMLPersister stores one YAML file per session id under dir.
type YAMLPersister struct {
	dir string
}

func NewYAMLPersister(dir string) (*YAMLPersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	return &YAMLPersister{dir: dir}, nil
}

func (p *YAMLPersister) Save(_ context.Context, snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistence: yaml marshal: %w", err)
	}
	fn := filepath.Join(p.dir, snap.SessionID+".yaml")
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", fn, err)
	}
	return nil
}

func (p *YAMLPersister) Load(_ context.Context, sessionID string) (Snapshot, error) {
	fn := filepath.Join(p.dir, sessionID+".yaml")
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("persistence: read %s: %w", fn, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("persistence: yaml unmarshal: %w", err)
	}
	snap.SessionID = sessionID
	return snap, nil
}
