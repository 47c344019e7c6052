package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/internal/ledger"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotStore persists ledger snapshots under KeySnapshot.
type SnapshotStore struct {
	cache  *Cache
	logger *zap.SugaredLogger
}

func NewSnapshotStore(cache *Cache, logger *zap.SugaredLogger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SnapshotStore{cache: cache, logger: logger}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *ledger.Snapshot) error {
	if err := s.cache.Set(ctx, KeySnapshot, snap, 0); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	var snap ledger.Snapshot
	if err := s.cache.Get(ctx, KeySnapshot, &snap); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}

// Checkpoint snapshots l and saves it.
func (s *SnapshotStore) Checkpoint(ctx context.Context, l *ledger.Ledger) error {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	if err := s.Save(ctx, snap); err != nil {
		return err
	}
	s.logger.Debugw("Saved ledger snapshot", "markets", len(snap.Markets), "accounts", len(snap.Accounts))
	return nil
}

// RestoreInto loads the saved snapshot into l. It reports false when there is
// nothing to restore.
func (s *SnapshotStore) RestoreInto(ctx context.Context, l *ledger.Ledger) (bool, error) {
	snap, err := s.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := l.Restore(ctx, snap); err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	s.logger.Infow("Restored ledger snapshot",
		"takenAt", snap.TakenAt,
		"markets", len(snap.Markets),
		"accounts", len(snap.Accounts),
	)
	return true, nil
}

// Run checkpoints l every interval until ctx is done, then once more.
func (s *SnapshotStore) Run(ctx context.Context, l *ledger.Ledger, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.Checkpoint(final, l); err != nil {
				s.logger.Errorw("Final snapshot failed", "error", err)
				return err
			}
			s.logger.Infow("Saved final ledger snapshot")
			return nil
		case <-ticker.C:
			if err := s.Checkpoint(ctx, l); err != nil {
				s.logger.Warnw("Periodic snapshot failed", "error", err)
			}
		}
	}
}
