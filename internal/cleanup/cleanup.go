package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"larder/internal/store"
)

const (
	interval       = time.Hour
	consumedMaxAge = 30 * 24 * time.Hour
	backupMaxAge   = 90 * 24 * time.Hour
)

// Runner is the periodic maintenance loop: it purges long-consumed items,
// expired sessions, and stale backup history. The passes are independent;
// one failing does not stop the others.
type Runner struct {
	items    *store.ItemStore
	sessions *store.SessionStore
	backups  *store.BackupStore
	logger   *slog.Logger
}

func NewRunner(items *store.ItemStore, sessions *store.SessionStore, backups *store.BackupStore, logger *slog.Logger) *Runner {
	return &Runner{items: items, sessions: sessions, backups: backups, logger: logger}
}

// Start runs the loop until the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.RunOnce(); err != nil {
					r.logger.Warn("cleanup pass", "error", err)
				}
			}
		}
	}()
}

// RunOnce executes every pass and returns the combined errors.
func (r *Runner) RunOnce() error {
	var errs error
	now := time.Now().UTC()

	scopes, err := r.items.ListScopeIDs()
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list scopes: %w", err))
	} else {
		for _, scope := range scopes {
			n, err := r.items.PurgeConsumed(scope, now.Add(-consumedMaxAge))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("purge consumed in %s: %w", scope, err))
				continue
			}
			if n > 0 {
				r.logger.Info("purged consumed items", "scope", scope, "count", n)
			}
		}
	}

	if n, err := r.sessions.DeleteExpired(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete expired sessions: %w", err))
	} else if n > 0 {
		r.logger.Info("deleted expired sessions", "count", n)
	}

	if n, err := r.backups.DeleteOlderThan(now.Add(-backupMaxAge)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune backup history: %w", err))
	} else if n > 0 {
		r.logger.Info("pruned backup history", "count", n)
	}

	return errs
}
