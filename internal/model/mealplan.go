package model

import "time"

// Meal slots, in display order.
const (
	SlotBreakfast = "breakfast"
	SlotLunch     = "lunch"
	SlotDinner    = "dinner"
)

// MealPlanDay holds one calendar day's planned meals, split into the three
// slots.
type MealPlanDay struct {
	ScopeID   string     `json:"scope_id"`
	Date      string     `json:"date"` // yyyy-mm-dd
	Breakfast []MealItem `json:"breakfast"`
	Lunch     []MealItem `json:"lunch"`
	Dinner    []MealItem `json:"dinner"`
}

// MealItem is either a direct reference to a single pantry item (ItemID set,
// Ingredients empty) or a composite dish with an ingredient list. Cooking
// deducts QuantityUsed for a direct reference, or each ingredient's
// QuantityUsed for a dish.
type MealItem struct {
	ID           string       `json:"id"`
	ScopeID      string       `json:"scope_id"`
	Date         string       `json:"date"`
	Slot         string       `json:"slot"`
	Position     int          `json:"position"`
	ItemID       *string      `json:"item_id"`
	Name         string       `json:"name"`
	QuantityUsed float64      `json:"quantity_used"`
	Cooked       bool         `json:"cooked"`
	Ingredients  []Ingredient `json:"ingredients"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Ingredient references a pantry item by id with a name snapshot, so the dish
// stays renderable after the item is consumed or deleted.
type Ingredient struct {
	ID           string  `json:"id"`
	MealItemID   string  `json:"meal_item_id"`
	ItemID       string  `json:"item_id"`
	Name         string  `json:"name"`
	QuantityUsed float64 `json:"quantity_used"`
}
