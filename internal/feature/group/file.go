package group

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tg_agent_bridge/internal/domain"
)

const fileMode = 0o644

// FilePersister keeps the registry as a pretty-printed JSON array in a single
// file.
type FilePersister struct {
	path string
}

// NewFilePersister constructs a FilePersister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the backing file path.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads the backing file, creating it with an empty array when absent.
// Blank content is treated as an empty registry; anything else must be a
// valid JSON array.
func (p *FilePersister) Load(ctx context.Context) ([]domain.MonitoredGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := p.Save(ctx, nil); err != nil {
			return nil, err
		}
		return []domain.MonitoredGroup{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}

	if strings.TrimSpace(string(raw)) == "" {
		return []domain.MonitoredGroup{}, nil
	}

	var groups []domain.MonitoredGroup
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	if groups == nil {
		groups = []domain.MonitoredGroup{}
	}

	return groups, nil
}

// Save replaces the backing file with the snapshot. The data is written to a
// sibling temp file and renamed into place.
func (p *FilePersister) Save(ctx context.Context, groups []domain.MonitoredGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if groups == nil {
		groups = []domain.MonitoredGroup{}
	}

	data, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return fmt.Errorf("encode monitored groups: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", p.path, err)
	}

	return nil
}

// Ping verifies the backing file is still reachable.
func (p *FilePersister) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("stat %s: %w", p.path, err)
	}
	return nil
}
