package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"larder/internal/model"
)

// ItemStore persists pantry and shopping entries. The two live in disjoint
// tables; a flag flip on update moves the row between them inside one
// transaction, so an id is never present in both.
type ItemStore struct {
	db     *sql.DB
	notify NotifyFunc
}

func NewItemStore(db *sql.DB, notify NotifyFunc) *ItemStore {
	return &ItemStore{db: db, notify: notify}
}

const itemCols = `id, scope_id, name, quantity, unit, location, labels, description, category, expires_at, purchased, consumed_at, price, currency, notified_at, created_at, updated_at`

func tableFor(c model.Collection) string {
	switch c {
	case model.CollectionShopping:
		return "shopping_items"
	case model.CollectionLegacy:
		return "legacy_pantry_items"
	default:
		return "pantry_items"
	}
}

func collectionForFlag(onShoppingList bool) model.Collection {
	if onShoppingList {
		return model.CollectionShopping
	}
	return model.CollectionPantry
}

func scanItem(scanner interface{ Scan(...any) error }) (*model.Item, error) {
	var item model.Item
	var labels string
	var expiresAt, consumedAt, notifiedAt sql.NullTime
	var price sql.NullFloat64
	var purchased int

	err := scanner.Scan(
		&item.ID, &item.ScopeID, &item.Name, &item.Quantity, &item.Unit,
		&item.Location, &labels, &item.Description, &item.Category,
		&expiresAt, &purchased, &consumedAt, &price, &item.Currency,
		&notifiedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Purchased = purchased != 0
	if expiresAt.Valid {
		item.ExpiresAt = &expiresAt.Time
	}
	if consumedAt.Valid {
		item.ConsumedAt = &consumedAt.Time
	}
	if notifiedAt.Valid {
		item.NotifiedAt = &notifiedAt.Time
	}
	if price.Valid {
		item.Price = &price.Float64
	}
	if err := json.Unmarshal([]byte(labels), &item.Labels); err != nil {
		item.Labels = nil
	}
	return &item, nil
}

func itemArgs(item *model.Item) ([]any, error) {
	labels := item.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("marshal labels: %w", err)
	}

	var expiresAt, consumedAt, notifiedAt sql.NullTime
	if item.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *item.ExpiresAt, Valid: true}
	}
	if item.ConsumedAt != nil {
		consumedAt = sql.NullTime{Time: *item.ConsumedAt, Valid: true}
	}
	if item.NotifiedAt != nil {
		notifiedAt = sql.NullTime{Time: *item.NotifiedAt, Valid: true}
	}
	var price sql.NullFloat64
	if item.Price != nil {
		price = sql.NullFloat64{Float64: *item.Price, Valid: true}
	}

	return []any{
		item.ID, item.ScopeID, item.Name, item.Quantity, item.Unit,
		item.Location, string(labelsJSON), item.Description, item.Category,
		expiresAt, item.Purchased, consumedAt, price, item.Currency,
		notifiedAt, item.CreatedAt, item.UpdatedAt,
	}, nil
}

const itemPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

// Create inserts the item into the table matching its shopping-list flag.
// A missing id is filled with a fresh UUID; a negative quantity is clamped.
func (s *ItemStore) Create(item *model.Item) (*model.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Quantity = math.Max(0, item.Quantity)

	coll := collectionForFlag(item.OnShoppingList)
	args, err := itemArgs(item)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		`INSERT INTO `+tableFor(coll)+` (`+itemCols+`) VALUES (`+itemPlaceholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	created, _, err := s.GetByID(item.ID)
	if err != nil {
		return nil, err
	}
	notify(s.notify, Event{Collection: coll, Action: ActionCreated, ScopeID: item.ScopeID, Item: created})
	return created, nil
}

// GetByID looks the item up across the pantry, shopping, and legacy tables,
// in that order, and reports which one holds it. Returns nil when absent.
func (s *ItemStore) GetByID(id string) (*model.Item, model.Collection, error) {
	for _, coll := range []model.Collection{model.CollectionPantry, model.CollectionShopping, model.CollectionLegacy} {
		row := s.db.QueryRow(`SELECT `+itemCols+` FROM `+tableFor(coll)+` WHERE id = ?`, id)
		item, err := scanItem(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("get item: %w", err)
		}
		item.OnShoppingList = coll == model.CollectionShopping
		return item, coll, nil
	}
	return nil, "", nil
}

func (s *ItemStore) list(coll model.Collection, scopeID string) ([]model.Item, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM `+tableFor(coll)+` WHERE scope_id = ? ORDER BY category ASC, name ASC, created_at ASC`,
		scopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", coll, err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.OnShoppingList = coll == model.CollectionShopping
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *ItemStore) ListPantry(scopeID string) ([]model.Item, error) {
	return s.list(model.CollectionPantry, scopeID)
}

func (s *ItemStore) ListShopping(scopeID string) ([]model.Item, error) {
	return s.list(model.CollectionShopping, scopeID)
}

func (s *ItemStore) ListLegacyPantry(scopeID string) ([]model.Item, error) {
	return s.list(model.CollectionLegacy, scopeID)
}

// Update writes the item back. When the shopping-list flag differs from the
// item's current table, the row is deleted from one table and inserted into
// the other in the same transaction, so the move cannot half-complete.
func (s *ItemStore) Update(item *model.Item) (*model.Item, error) {
	existing, current, err := s.GetByID(item.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	// collectionForFlag never yields the legacy table, so editing a legacy
	// row always migrates it forward into pantry or shopping.
	target := collectionForFlag(item.OnShoppingList)
	item.ScopeID = existing.ScopeID
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	item.Quantity = math.Max(0, item.Quantity)

	err = withTx(s.db, func(tx *sql.Tx) error {
		if current == target {
			args, err := itemArgs(item)
			if err != nil {
				return err
			}
			// Skip id (first arg) in SET, keep it for WHERE.
			_, err = tx.Exec(
				`UPDATE `+tableFor(target)+` SET scope_id = ?, name = ?, quantity = ?, unit = ?, location = ?, labels = ?, description = ?, category = ?, expires_at = ?, purchased = ?, consumed_at = ?, price = ?, currency = ?, notified_at = ?, created_at = ?, updated_at = ? WHERE id = ?`,
				append(args[1:], item.ID)...,
			)
			if err != nil {
				return fmt.Errorf("update item: %w", err)
			}
			return nil
		}

		if _, err := tx.Exec(`DELETE FROM `+tableFor(current)+` WHERE id = ?`, item.ID); err != nil {
			return fmt.Errorf("delete from %s: %w", current, err)
		}
		args, err := itemArgs(item)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO `+tableFor(target)+` (`+itemCols+`) VALUES (`+itemPlaceholders+`)`, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", target, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, _, err := s.GetByID(item.ID)
	if err != nil {
		return nil, err
	}
	notify(s.notify, Event{Collection: target, Action: ActionUpdated, ScopeID: updated.ScopeID, Item: updated})
	return updated, nil
}

func (s *ItemStore) Delete(id string) error {
	item, coll, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM `+tableFor(coll)+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	notify(s.notify, Event{Collection: coll, Action: ActionDeleted, ScopeID: item.ScopeID, Item: item})
	return nil
}

// AdjustQuantity applies a signed delta inside one transaction: the quantity
// is clamped at zero and one adjustment record is appended, so a concurrent
// adjustment on the same item can never interleave with the read-modify-write.
func (s *ItemStore) AdjustQuantity(id string, delta float64, reason string) (*model.Item, *model.Adjustment, error) {
	if reason == "" {
		reason = model.ReasonManual
	}

	_, coll, err := s.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if coll == "" || coll == model.CollectionLegacy {
		return nil, nil, ErrNotFound
	}

	var adj *model.Adjustment
	err = withTx(s.db, func(tx *sql.Tx) error {
		a, err := adjustInTx(tx, coll, id, delta, reason, nil)
		if err != nil {
			return err
		}
		adj = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	updated, _, err := s.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	notify(s.notify, Event{Collection: coll, Action: ActionUpdated, ScopeID: updated.ScopeID, Item: updated})
	return updated, adj, nil
}

// adjustInTx is the shared read-clamp-write-append step, also used by meal
// cooking so every ingredient deduction leaves a history record. mealItemID
// is non-nil only for cook deductions.
func adjustInTx(tx *sql.Tx, coll model.Collection, id string, delta float64, reason string, mealItemID *string) (*model.Adjustment, error) {
	var oldQ float64
	var scopeID string
	err := tx.QueryRow(`SELECT quantity, scope_id FROM `+tableFor(coll)+` WHERE id = ?`, id).Scan(&oldQ, &scopeID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read quantity: %w", err)
	}

	newQ := math.Max(0, oldQ+delta)
	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE `+tableFor(coll)+` SET quantity = ?, updated_at = ? WHERE id = ?`, newQ, now, id); err != nil {
		return nil, fmt.Errorf("write quantity: %w", err)
	}

	adj := &model.Adjustment{
		ID:          uuid.NewString(),
		ItemID:      id,
		ScopeID:     scopeID,
		OldQuantity: oldQ,
		NewQuantity: newQ,
		Diff:        delta,
		Reason:      reason,
		MealItemID:  mealItemID,
		CreatedAt:   now,
	}
	_, err = tx.Exec(
		`INSERT INTO adjustments (id, item_id, scope_id, old_quantity, new_quantity, diff, reason, meal_item_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID, adj.ItemID, adj.ScopeID, adj.OldQuantity, adj.NewQuantity, adj.Diff, adj.Reason, adj.MealItemID, adj.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append adjustment: %w", err)
	}
	return adj, nil
}

const adjustmentCols = `id, item_id, scope_id, old_quantity, new_quantity, diff, reason, meal_item_id, created_at`

func scanAdjustment(scanner interface{ Scan(...any) error }) (*model.Adjustment, error) {
	var a model.Adjustment
	err := scanner.Scan(&a.ID, &a.ItemID, &a.ScopeID, &a.OldQuantity, &a.NewQuantity, &a.Diff, &a.Reason, &a.MealItemID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LastAdjustment returns the newest adjustment record for the item, or nil.
func (s *ItemStore) LastAdjustment(itemID string) (*model.Adjustment, error) {
	row := s.db.QueryRow(
		`SELECT `+adjustmentCols+` FROM adjustments WHERE item_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		itemID,
	)
	a, err := scanAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last adjustment: %w", err)
	}
	return a, nil
}

// UndoLastAdjustment reverses the newest adjustment's delta and deletes the
// record, all in one transaction. Best effort single-step undo: an
// intervening adjustment by another actor is not detected beyond the
// transaction's own isolation.
func (s *ItemStore) UndoLastAdjustment(id string) (*model.Item, error) {
	_, coll, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if coll == "" || coll == model.CollectionLegacy {
		return nil, ErrNotFound
	}

	var undone bool
	err = withTx(s.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT `+adjustmentCols+` FROM adjustments WHERE item_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			id,
		)
		last, err := scanAdjustment(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read last adjustment: %w", err)
		}

		// Restoring the recorded old quantity is exact even when the
		// adjustment was clamped at zero.
		if _, err := tx.Exec(`UPDATE `+tableFor(coll)+` SET quantity = ?, updated_at = ? WHERE id = ?`, last.OldQuantity, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("restore quantity: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM adjustments WHERE id = ?`, last.ID); err != nil {
			return fmt.Errorf("delete adjustment: %w", err)
		}
		undone = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, _, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if undone {
		notify(s.notify, Event{Collection: coll, Action: ActionUpdated, ScopeID: updated.ScopeID, Item: updated})
	}
	return updated, nil
}

// PurgeConsumed physically deletes items whose consumed_at is older than the
// cutoff. Consumed items are otherwise kept for history until this explicit
// cleanup pass.
func (s *ItemStore) PurgeConsumed(scopeID string, olderThan time.Time) (int64, error) {
	var total int64
	for _, coll := range []model.Collection{model.CollectionPantry, model.CollectionShopping} {
		result, err := s.db.Exec(
			`DELETE FROM `+tableFor(coll)+` WHERE scope_id = ? AND consumed_at IS NOT NULL AND consumed_at < ?`,
			scopeID, olderThan,
		)
		if err != nil {
			return total, fmt.Errorf("purge consumed from %s: %w", coll, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	if total > 0 {
		notify(s.notify, Event{Collection: model.CollectionPantry, Action: ActionReloaded, ScopeID: scopeID})
	}
	return total, nil
}

// ListScopeIDs returns every distinct scope with at least one item, for
// maintenance passes.
func (s *ItemStore) ListScopeIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT scope_id FROM pantry_items UNION SELECT DISTINCT scope_id FROM shopping_items`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
