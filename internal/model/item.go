package model

import "time"

// Collection names an item's home. Pantry and shopping are disjoint tables
// merged at read time; the legacy collection is read-only and exists for
// databases written by earlier releases.
type Collection string

const (
	CollectionPantry   Collection = "pantry"
	CollectionShopping Collection = "shopping"
	CollectionLegacy   Collection = "legacy"
	CollectionMealPlan Collection = "mealplan"
)

type Item struct {
	ID             string     `json:"id"`
	ScopeID        string     `json:"scope_id"`
	Name           string     `json:"name"`
	Quantity       float64    `json:"quantity"`
	Unit           string     `json:"unit"`
	Location       string     `json:"location"`
	Labels         []string   `json:"labels"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	ExpiresAt      *time.Time `json:"expires_at"`
	OnShoppingList bool       `json:"on_shopping_list"`
	Purchased      bool       `json:"purchased"`
	ConsumedAt     *time.Time `json:"consumed_at"`
	Price          *float64   `json:"price"`
	Currency       string     `json:"currency"`
	NotifiedAt     *time.Time `json:"notified_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Adjustment reasons.
const (
	ReasonManual      = "manual"
	ReasonConsumption = "consumption"
	ReasonPurchase    = "purchase"
	ReasonCorrection  = "correction"
)

// Adjustment is one append-only quantity-change record. MealItemID is set on
// consumption records written by a cook, so an uncook can find exactly its
// own deltas.
type Adjustment struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	ScopeID     string    `json:"scope_id"`
	OldQuantity float64   `json:"old_quantity"`
	NewQuantity float64   `json:"new_quantity"`
	Diff        float64   `json:"diff"`
	Reason      string    `json:"reason"`
	MealItemID  *string   `json:"meal_item_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
