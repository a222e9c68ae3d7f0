package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"larder/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushSubCols = `id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func scanPushSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Create upserts by endpoint: re-subscribing the same browser replaces the
// old keys.
func (s *PushStore) Create(userID, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		id, userID, endpoint, p256dh, auth, deviceName, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert push subscription: %w", err)
	}
	return s.GetByEndpoint(endpoint)
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+pushSubCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanPushSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) ListByUser(userID string) ([]model.PushSubscription, error) {
	return s.listWhere(`user_id = ?`, userID)
}

// ListByScope returns subscriptions of every user whose active scope is the
// given id: the scope owner plus, for a family scope, all members.
func (s *PushStore) ListByScope(scopeID string) ([]model.PushSubscription, error) {
	return s.listWhere(`user_id IN (SELECT id FROM users WHERE id = ? OR family_id = ?)`, scopeID, scopeID)
}

func (s *PushStore) listWhere(where string, args ...any) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(`SELECT `+pushSubCols+` FROM push_subscriptions WHERE `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanPushSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ListExpiring returns pantry items that expire within the window, are not
// consumed, and have not been notified yet.
func (s *PushStore) ListExpiring(before time.Time) ([]model.Item, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM pantry_items WHERE expires_at IS NOT NULL AND expires_at <= ? AND consumed_at IS NULL AND notified_at IS NULL`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// MarkNotified records that the expiry reminder for an item went out.
func (s *PushStore) MarkNotified(itemID string) error {
	_, err := s.db.Exec(`UPDATE pantry_items SET notified_at = ? WHERE id = ?`, time.Now().UTC(), itemID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}
