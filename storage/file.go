package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileProvider stores one JSON blob per workspace id under a base
// directory, grounded on crdtstorage.FileAdapter.
type FileProvider struct {
	mu       sync.RWMutex
	basePath string
}

// NewFileProvider creates a file-backed provider rooted at basePath,
// creating the directory if it does not exist.
func NewFileProvider(basePath string) (*FileProvider, error) {
	if basePath == "" {
		basePath = "documents"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	return &FileProvider{basePath: basePath}, nil
}

func (p *FileProvider) path(workspaceID string) string {
	return filepath.Join(p.basePath, workspaceID+".json")
}

func (p *FileProvider) Load(ctx context.Context, workspaceID string) (*Update, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.path(workspaceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read workspace file")
	}
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, errors.Wrap(err, "decode workspace file")
	}
	return &u, nil
}

func (p *FileProvider) Persist(ctx context.Context, workspaceID string, update Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "encode update")
	}
	if err := os.WriteFile(p.path(workspaceID), data, 0o644); err != nil {
		return errors.Wrap(err, "write workspace file")
	}
	return nil
}

func (p *FileProvider) ListUpdates(ctx context.Context, workspaceID string, since map[string]uint64) ([]Update, error) {
	u, err := p.Load(ctx, workspaceID)
	if err != nil || u == nil {
		return nil, err
	}
	if !advancesPast(u.StateVector, since) {
		return nil, nil
	}
	return []Update{*u}, nil
}
