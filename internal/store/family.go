package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"larder/internal/model"
)

// FamilyStore manages sharing groups. Membership changes, bulk copies, and
// the cascading delete all run as single transactions, so membership can
// never drift out of sync with the family document the way the original's
// eventually-consistent "self-repair" had to compensate for.
type FamilyStore struct {
	db     *sql.DB
	notify NotifyFunc
}

func NewFamilyStore(db *sql.DB, notify NotifyFunc) *FamilyStore {
	return &FamilyStore{db: db, notify: notify}
}

const familyCols = `id, name, owner_id, invite_code, budget, created_at, updated_at`

func scanFamily(scanner interface{ Scan(...any) error }) (*model.Family, error) {
	var f model.Family
	var budget sql.NullFloat64
	err := scanner.Scan(&f.ID, &f.Name, &f.OwnerID, &f.InviteCode, &budget, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if budget.Valid {
		f.Budget = &budget.Float64
	}
	return &f, nil
}

func generateInviteCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Create makes a new family with the creator as owner and sole member, and
// repoints the creator's data scope at it.
func (s *FamilyStore) Create(ownerID, name string, budget *float64) (*model.Family, error) {
	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	var b sql.NullFloat64
	if budget != nil {
		b = sql.NullFloat64{Float64: *budget, Valid: true}
	}

	err = withTx(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO families (id, name, owner_id, invite_code, budget, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, name, ownerID, code, b, now, now,
		); err != nil {
			return fmt.Errorf("insert family: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO family_members (family_id, user_id, joined_at) VALUES (?, ?, ?)`,
			id, ownerID, now,
		); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		if _, err := tx.Exec(`UPDATE users SET family_id = ?, updated_at = ? WHERE id = ?`, id, now, ownerID); err != nil {
			return fmt.Errorf("set user scope: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

func (s *FamilyStore) GetByID(id string) (*model.Family, error) {
	row := s.db.QueryRow(`SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) GetByInviteCode(code string) (*model.Family, error) {
	row := s.db.QueryRow(`SELECT `+familyCols+` FROM families WHERE invite_code = ?`, strings.ToUpper(strings.TrimSpace(code)))
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family by invite code: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) ListMembers(familyID string) ([]model.FamilyMember, error) {
	rows, err := s.db.Query(
		`SELECT family_id, user_id, joined_at FROM family_members WHERE family_id = ? ORDER BY joined_at ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMember
	for rows.Next() {
		var m model.FamilyMember
		if err := rows.Scan(&m.FamilyID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// Join adds the user to the family matching the invite code and redirects
// their scope. Joining while already in a family is rejected.
func (s *FamilyStore) Join(userID, inviteCode string) (*model.Family, error) {
	family, err := s.GetByInviteCode(inviteCode)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	err = withTx(s.db, func(tx *sql.Tx) error {
		var current sql.NullString
		if err := tx.QueryRow(`SELECT family_id FROM users WHERE id = ?`, userID).Scan(&current); err != nil {
			return fmt.Errorf("read user: %w", err)
		}
		if current.Valid && current.String != "" {
			return ErrAlreadyInScope
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO family_members (family_id, user_id, joined_at) VALUES (?, ?, ?)`,
			family.ID, userID, now,
		); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		if _, err := tx.Exec(`UPDATE users SET family_id = ?, updated_at = ? WHERE id = ?`, family.ID, now, userID); err != nil {
			return fmt.Errorf("set user scope: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return family, nil
}

// CopyToFamily bulk-copies the user's personal pantry and shopping items
// into the family scope with fresh ids, in one transaction. The personal
// originals are left in place.
func (s *FamilyStore) CopyToFamily(userID, familyID string) (int, error) {
	var copied int
	err := withTx(s.db, func(tx *sql.Tx) error {
		for _, table := range []string{"pantry_items", "shopping_items"} {
			rows, err := tx.Query(`SELECT `+itemCols+` FROM `+table+` WHERE scope_id = ?`, userID)
			if err != nil {
				return fmt.Errorf("read personal items: %w", err)
			}
			var items []*model.Item
			for rows.Next() {
				item, err := scanItem(rows)
				if err != nil {
					rows.Close()
					return fmt.Errorf("scan item: %w", err)
				}
				items = append(items, item)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()

			now := time.Now().UTC()
			for _, item := range items {
				item.ID = uuid.NewString()
				item.ScopeID = familyID
				item.CreatedAt = now
				item.UpdatedAt = now
				args, err := itemArgs(item)
				if err != nil {
					return err
				}
				if _, err := tx.Exec(`INSERT INTO `+table+` (`+itemCols+`) VALUES (`+itemPlaceholders+`)`, args...); err != nil {
					return fmt.Errorf("copy item: %w", err)
				}
				copied++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if copied > 0 {
		notify(s.notify, Event{Collection: model.CollectionPantry, Action: ActionReloaded, ScopeID: familyID})
	}
	return copied, nil
}

// Leave removes the user's membership and points their scope back at their
// own id. The owner cannot leave; deleting the family is the only way out.
func (s *FamilyStore) Leave(userID string) error {
	return withTx(s.db, func(tx *sql.Tx) error {
		var familyID sql.NullString
		if err := tx.QueryRow(`SELECT family_id FROM users WHERE id = ?`, userID).Scan(&familyID); err != nil {
			return fmt.Errorf("read user: %w", err)
		}
		if !familyID.Valid || familyID.String == "" {
			return ErrNotFound
		}

		var ownerID string
		if err := tx.QueryRow(`SELECT owner_id FROM families WHERE id = ?`, familyID.String).Scan(&ownerID); err != nil {
			return fmt.Errorf("read family: %w", err)
		}
		if ownerID == userID {
			return ErrOwnerMustStay
		}

		if _, err := tx.Exec(`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`, familyID.String, userID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if _, err := tx.Exec(`UPDATE users SET family_id = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), userID); err != nil {
			return fmt.Errorf("clear user scope: %w", err)
		}
		return nil
	})
}

// Delete removes the family and cascades over every shared record: items in
// both collections, meal plans, adjustment history, and memberships. Only
// the owner may delete. All-or-nothing in one transaction, unlike the
// original's best-effort batched deletes.
func (s *FamilyStore) Delete(familyID, requesterID string) error {
	family, err := s.GetByID(familyID)
	if err != nil {
		return err
	}
	if family == nil {
		return ErrNotFound
	}
	if family.OwnerID != requesterID {
		return ErrNotOwner
	}

	err = withTx(s.db, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM pantry_items WHERE scope_id = ?`,
			`DELETE FROM shopping_items WHERE scope_id = ?`,
			`DELETE FROM legacy_pantry_items WHERE scope_id = ?`,
			`DELETE FROM adjustments WHERE scope_id = ?`,
			`DELETE FROM meal_items WHERE scope_id = ?`,
		} {
			if _, err := tx.Exec(stmt, familyID); err != nil {
				return fmt.Errorf("cascade delete: %w", err)
			}
		}
		if _, err := tx.Exec(`UPDATE users SET family_id = NULL, updated_at = ? WHERE family_id = ?`, time.Now().UTC(), familyID); err != nil {
			return fmt.Errorf("reset member scopes: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM family_members WHERE family_id = ?`, familyID); err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM families WHERE id = ?`, familyID); err != nil {
			return fmt.Errorf("delete family: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	notify(s.notify, Event{Collection: model.CollectionPantry, Action: ActionReloaded, ScopeID: familyID})
	return nil
}
