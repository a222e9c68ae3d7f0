package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"larder/internal/model"
)

// MealPlanStore persists planned meals and runs the cook/uncook transactions
// that consume pantry quantities.
type MealPlanStore struct {
	db     *sql.DB
	notify NotifyFunc
}

func NewMealPlanStore(db *sql.DB, notify NotifyFunc) *MealPlanStore {
	return &MealPlanStore{db: db, notify: notify}
}

const mealCols = `id, scope_id, date, slot, position, item_id, name, quantity_used, cooked, created_at`

func scanMeal(scanner interface{ Scan(...any) error }) (*model.MealItem, error) {
	var m model.MealItem
	var itemID sql.NullString
	var cooked int
	err := scanner.Scan(&m.ID, &m.ScopeID, &m.Date, &m.Slot, &m.Position, &itemID, &m.Name, &m.QuantityUsed, &cooked, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Cooked = cooked != 0
	if itemID.Valid {
		m.ItemID = &itemID.String
	}
	return &m, nil
}

// GetDay returns the three meal slots for one calendar date, each ordered by
// position, with ingredient lists attached. The day always exists logically;
// an empty day has three empty slots.
func (s *MealPlanStore) GetDay(scopeID, date string) (*model.MealPlanDay, error) {
	rows, err := s.db.Query(
		`SELECT `+mealCols+` FROM meal_items WHERE scope_id = ? AND date = ? ORDER BY slot ASC, position ASC, created_at ASC`,
		scopeID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	defer rows.Close()

	day := &model.MealPlanDay{
		ScopeID:   scopeID,
		Date:      date,
		Breakfast: []model.MealItem{},
		Lunch:     []model.MealItem{},
		Dinner:    []model.MealItem{},
	}
	var meals []*model.MealItem
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meal: %w", err)
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range meals {
		ingredients, err := s.listIngredients(m.ID)
		if err != nil {
			return nil, err
		}
		m.Ingredients = ingredients
		switch m.Slot {
		case model.SlotBreakfast:
			day.Breakfast = append(day.Breakfast, *m)
		case model.SlotLunch:
			day.Lunch = append(day.Lunch, *m)
		case model.SlotDinner:
			day.Dinner = append(day.Dinner, *m)
		}
	}
	return day, nil
}

func (s *MealPlanStore) listIngredients(mealItemID string) ([]model.Ingredient, error) {
	rows, err := s.db.Query(
		`SELECT id, meal_item_id, item_id, name, quantity_used FROM meal_ingredients WHERE meal_item_id = ? ORDER BY rowid ASC`,
		mealItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	defer rows.Close()

	ingredients := []model.Ingredient{}
	for rows.Next() {
		var ing model.Ingredient
		if err := rows.Scan(&ing.ID, &ing.MealItemID, &ing.ItemID, &ing.Name, &ing.QuantityUsed); err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		ingredients = append(ingredients, ing)
	}
	return ingredients, rows.Err()
}

// GetMeal returns one planned meal with its ingredients, or nil.
func (s *MealPlanStore) GetMeal(id string) (*model.MealItem, error) {
	row := s.db.QueryRow(`SELECT `+mealCols+` FROM meal_items WHERE id = ?`, id)
	m, err := scanMeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meal: %w", err)
	}
	m.Ingredients, err = s.listIngredients(m.ID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AddMeal appends a meal to the end of its slot and writes the ingredient
// list in the same transaction.
func (s *MealPlanStore) AddMeal(meal *model.MealItem) (*model.MealItem, error) {
	if meal.ID == "" {
		meal.ID = uuid.NewString()
	}
	if meal.Slot == "" {
		meal.Slot = model.SlotDinner
	}
	if meal.QuantityUsed <= 0 {
		meal.QuantityUsed = 1
	}
	meal.CreatedAt = time.Now().UTC()

	err := withTx(s.db, func(tx *sql.Tx) error {
		var position int
		err := tx.QueryRow(
			`SELECT COALESCE(MAX(position)+1, 0) FROM meal_items WHERE scope_id = ? AND date = ? AND slot = ?`,
			meal.ScopeID, meal.Date, meal.Slot,
		).Scan(&position)
		if err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		meal.Position = position

		var itemID sql.NullString
		if meal.ItemID != nil {
			itemID = sql.NullString{String: *meal.ItemID, Valid: true}
		}
		_, err = tx.Exec(
			`INSERT INTO meal_items (`+mealCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meal.ID, meal.ScopeID, meal.Date, meal.Slot, meal.Position, itemID, meal.Name, meal.QuantityUsed, meal.Cooked, meal.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert meal: %w", err)
		}

		for i := range meal.Ingredients {
			ing := &meal.Ingredients[i]
			if ing.ID == "" {
				ing.ID = uuid.NewString()
			}
			ing.MealItemID = meal.ID
			_, err = tx.Exec(
				`INSERT INTO meal_ingredients (id, meal_item_id, item_id, name, quantity_used) VALUES (?, ?, ?, ?, ?)`,
				ing.ID, ing.MealItemID, ing.ItemID, ing.Name, ing.QuantityUsed,
			)
			if err != nil {
				return fmt.Errorf("insert ingredient: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.GetMeal(meal.ID)
	if err != nil {
		return nil, err
	}
	notify(s.notify, Event{Collection: model.CollectionMealPlan, Action: ActionCreated, ScopeID: meal.ScopeID, Meal: created})
	return created, nil
}

// RemoveMeal deletes a planned meal; ingredients cascade.
func (s *MealPlanStore) RemoveMeal(id string) error {
	meal, err := s.GetMeal(id)
	if err != nil {
		return err
	}
	if meal == nil {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM meal_items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete meal: %w", err)
	}
	notify(s.notify, Event{Collection: model.CollectionMealPlan, Action: ActionDeleted, ScopeID: meal.ScopeID, Meal: meal})
	return nil
}

// deduction is one (item, quantity) pair a meal consumes when cooked.
type deduction struct {
	itemID   string
	quantity float64
}

func mealDeductions(meal *model.MealItem) []deduction {
	if meal.ItemID != nil {
		return []deduction{{itemID: *meal.ItemID, quantity: meal.QuantityUsed}}
	}
	deds := make([]deduction, 0, len(meal.Ingredients))
	for _, ing := range meal.Ingredients {
		deds = append(deds, deduction{itemID: ing.ItemID, quantity: ing.QuantityUsed})
	}
	return deds
}

// CookMeal deducts every linked ingredient's quantity (clamped at zero),
// appends one adjustment record per deduction, and sets the cooked flag,
// all in a single transaction. Cooking an already-cooked meal is rejected.
// Ingredients whose pantry item no longer exists are skipped.
func (s *MealPlanStore) CookMeal(id string) (*model.MealItem, error) {
	meal, err := s.GetMeal(id)
	if err != nil {
		return nil, err
	}
	if meal == nil {
		return nil, ErrNotFound
	}
	if meal.Cooked {
		return nil, ErrAlreadyCooked
	}

	var touched []string
	err = withTx(s.db, func(tx *sql.Tx) error {
		var cooked int
		if err := tx.QueryRow(`SELECT cooked FROM meal_items WHERE id = ?`, id).Scan(&cooked); err != nil {
			return fmt.Errorf("read cooked flag: %w", err)
		}
		if cooked != 0 {
			return ErrAlreadyCooked
		}

		for _, d := range mealDeductions(meal) {
			_, err := adjustInTx(tx, model.CollectionPantry, d.itemID, -d.quantity, model.ReasonConsumption, &meal.ID)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			touched = append(touched, d.itemID)
		}

		if _, err := tx.Exec(`UPDATE meal_items SET cooked = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("set cooked: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cooked, err := s.GetMeal(id)
	if err != nil {
		return nil, err
	}
	notify(s.notify, Event{Collection: model.CollectionMealPlan, Action: ActionUpdated, ScopeID: cooked.ScopeID, Meal: cooked})
	s.notifyItems(touched)
	return cooked, nil
}

// UncookMeal reverses exactly the deltas this meal's cook recorded: every
// adjustment row tagged with the meal id is undone and deleted. Consumption
// records from other meals or manual adjustments are left alone. The cooked
// flag is cleared in the same transaction.
func (s *MealPlanStore) UncookMeal(id string) (*model.MealItem, error) {
	meal, err := s.GetMeal(id)
	if err != nil {
		return nil, err
	}
	if meal == nil {
		return nil, ErrNotFound
	}
	if !meal.Cooked {
		return nil, ErrNotCooked
	}

	var touched []string
	err = withTx(s.db, func(tx *sql.Tx) error {
		var cooked int
		if err := tx.QueryRow(`SELECT cooked FROM meal_items WHERE id = ?`, id).Scan(&cooked); err != nil {
			return fmt.Errorf("read cooked flag: %w", err)
		}
		if cooked == 0 {
			return ErrNotCooked
		}

		rows, err := tx.Query(
			`SELECT `+adjustmentCols+` FROM adjustments WHERE meal_item_id = ?`,
			meal.ID,
		)
		if err != nil {
			return fmt.Errorf("read consumption records: %w", err)
		}
		var records []*model.Adjustment
		for rows.Next() {
			a, err := scanAdjustment(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan consumption record: %w", err)
			}
			records = append(records, a)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("read consumption records: %w", err)
		}

		for _, rec := range records {
			var q float64
			err = tx.QueryRow(`SELECT quantity FROM pantry_items WHERE id = ?`, rec.ItemID).Scan(&q)
			if err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("read item: %w", err)
			}
			if err == nil {
				// Adding back the applied delta (old minus new) is exact even
				// when the cook was clamped at zero, and preserves changes
				// made since the cook.
				restored := q + (rec.OldQuantity - rec.NewQuantity)
				if _, err := tx.Exec(`UPDATE pantry_items SET quantity = ?, updated_at = ? WHERE id = ?`, restored, time.Now().UTC(), rec.ItemID); err != nil {
					return fmt.Errorf("restore quantity: %w", err)
				}
				touched = append(touched, rec.ItemID)
			}
			if _, err := tx.Exec(`DELETE FROM adjustments WHERE id = ?`, rec.ID); err != nil {
				return fmt.Errorf("delete consumption record: %w", err)
			}
		}

		if _, err := tx.Exec(`UPDATE meal_items SET cooked = 0 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("clear cooked: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uncooked, err := s.GetMeal(id)
	if err != nil {
		return nil, err
	}
	notify(s.notify, Event{Collection: model.CollectionMealPlan, Action: ActionUpdated, ScopeID: uncooked.ScopeID, Meal: uncooked})
	s.notifyItems(touched)
	return uncooked, nil
}

// notifyItems re-publishes the current state of pantry items a meal
// transaction touched, so mirrors and WebSocket clients see the new
// quantities.
func (s *MealPlanStore) notifyItems(ids []string) {
	if s.notify == nil {
		return
	}
	for _, itemID := range ids {
		row := s.db.QueryRow(`SELECT `+itemCols+` FROM pantry_items WHERE id = ?`, itemID)
		item, err := scanItem(row)
		if err != nil {
			continue
		}
		s.notify(Event{Collection: model.CollectionPantry, Action: ActionUpdated, ScopeID: item.ScopeID, Item: item})
	}
}
