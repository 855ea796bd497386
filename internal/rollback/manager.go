package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mendstack/mend-engine/internal/models"
	"github.com/mendstack/mend-engine/internal/utils"
)

// Manager owns snapshot creation and restore. Snapshots and their retention
// lifecycle are independent of the repair results that reference them.
type Manager struct {
	store     SnapshotStore
	logger    *slog.Logger
	retention time.Duration
}

// NewManager constructs a Manager over the given store.
func NewManager(logger *slog.Logger, store SnapshotStore, retention time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Manager{store: store, logger: logger, retention: retention}
}

// Snapshot captures the current content of every file resource and returns
// the snapshot ID. Resources that do not exist are captured as absent so a
// restore removes anything the repair created.
func (m *Manager) Snapshot(ctx context.Context, resources []string) (string, error) {
	snap := models.Snapshot{
		ID:        uuid.NewString(),
		Resources: make(map[string]models.ResourceState, len(resources)),
		CreatedAt: time.Now().UTC(),
	}

	for _, res := range resources {
		info, err := os.Stat(res)
		if err != nil {
			if os.IsNotExist(err) {
				snap.Resources[res] = models.ResourceState{Exists: false}
				continue
			}
			return "", utils.NewAppError("rollback.snapshot", fmt.Sprintf("stat %s", res), err)
		}
		if info.IsDir() {
			snap.Resources[res] = models.ResourceState{Exists: true, Mode: uint32(info.Mode())}
			continue
		}
		content, err := os.ReadFile(res)
		if err != nil {
			return "", utils.NewAppError("rollback.snapshot", fmt.Sprintf("read %s", res), err)
		}
		snap.Resources[res] = models.ResourceState{Content: content, Exists: true, Mode: uint32(info.Mode())}
	}

	if err := m.store.Save(ctx, snap); err != nil {
		return "", utils.NewAppError("rollback.snapshot", "persist snapshot", err)
	}
	m.logger.Debug("snapshot taken", slog.String("snapshot_id", snap.ID), slog.Int("resources", len(snap.Resources)))
	return snap.ID, nil
}

// Restore puts every resource in the snapshot back to its captured state.
// Each file is restored atomically via write-then-rename so an interrupted
// restore never leaves a half-written resource.
func (m *Manager) Restore(ctx context.Context, snapshotID string) error {
	snap, err := m.store.Load(ctx, snapshotID)
	if err != nil {
		return utils.NewAppError("rollback.restore", fmt.Sprintf("load snapshot %s", snapshotID), err)
	}

	for res, state := range snap.Resources {
		if !state.Exists {
			if err := os.Remove(res); err != nil && !os.IsNotExist(err) {
				return utils.NewAppError("rollback.restore", fmt.Sprintf("remove %s", res), err)
			}
			continue
		}
		if state.Content == nil && state.Mode&uint32(os.ModeDir) != 0 {
			continue
		}
		if err := atomicWrite(res, state.Content, os.FileMode(state.Mode)); err != nil {
			return utils.NewAppError("rollback.restore", fmt.Sprintf("restore %s", res), err)
		}
	}

	m.logger.Info("snapshot restored", slog.String("snapshot_id", snapshotID), slog.Int("resources", len(snap.Resources)))
	return nil
}

// Purge removes snapshots older than the retention window.
func (m *Manager) Purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.retention)
	removed, err := m.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		m.logger.Warn("snapshot purge failed", slog.Any("error", err))
		return
	}
	if removed > 0 {
		m.logger.Info("snapshots purged", slog.Int("removed", removed))
	}
}

func atomicWrite(path string, content []byte, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
