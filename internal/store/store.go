package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"larder/internal/model"
)

// Sentinel errors handlers branch on.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyCooked  = errors.New("meal already cooked")
	ErrNotCooked      = errors.New("meal not cooked")
	ErrNotOwner       = errors.New("not the family owner")
	ErrOwnerMustStay  = errors.New("owner cannot leave, delete the family instead")
	ErrAlreadyInScope = errors.New("already a member of a family")
)

// Event actions.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionReloaded = "reloaded"
)

// Event describes one committed mutation. Stores publish events after commit;
// the sync mirrors and the WebSocket bridge consume them.
type Event struct {
	Collection model.Collection `json:"collection"`
	Action     string           `json:"action"`
	ScopeID    string           `json:"scope_id"`
	Item       *model.Item      `json:"item,omitempty"`
	Meal       *model.MealItem  `json:"meal,omitempty"`
}

// NotifyFunc receives post-commit events. A nil NotifyFunc is valid and
// disables notification.
type NotifyFunc func(Event)

func notify(fn NotifyFunc, ev Event) {
	if fn != nil {
		fn(ev)
	}
}

const (
	txMaxRetries   = 5
	txRetryBackoff = 50 * time.Millisecond
)

// withTx runs fn inside a transaction, retrying on SQLITE_BUSY the way the
// original platform's client retried transaction conflicts.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	backoff := retry.WithMaxRetries(txMaxRetries, retry.NewFibonacci(txRetryBackoff))
	return retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
