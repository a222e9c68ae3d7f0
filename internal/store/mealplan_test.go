package store

import (
	"testing"

	"larder/internal/database"
	"larder/internal/model"
)

func setupMealPlanTestDB(t *testing.T) (*MealPlanStore, *ItemStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMealPlanStore(db, nil), NewItemStore(db, nil)
}

func TestAddMealAndGetDay(t *testing.T) {
	ps, _ := setupMealPlanTestDB(t)

	meal, err := ps.AddMeal(&model.MealItem{
		ScopeID: "user-1",
		Date:    "2026-03-01",
		Slot:    model.SlotDinner,
		Name:    "Pasta Night",
		Ingredients: []model.Ingredient{
			{ItemID: "item-1", Name: "Pasta", QuantityUsed: 1},
			{ItemID: "item-2", Name: "Tomato Sauce", QuantityUsed: 0.5},
		},
	})
	if err != nil {
		t.Fatalf("add meal: %v", err)
	}
	if meal.ID == "" {
		t.Error("expected generated id")
	}
	if len(meal.Ingredients) != 2 {
		t.Fatalf("expected 2 ingredients, got %d", len(meal.Ingredients))
	}

	day, err := ps.GetDay("user-1", "2026-03-01")
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	if len(day.Dinner) != 1 {
		t.Fatalf("expected 1 dinner meal, got %d", len(day.Dinner))
	}
	if len(day.Breakfast) != 0 || len(day.Lunch) != 0 {
		t.Error("breakfast and lunch should be empty")
	}
	if day.Dinner[0].Name != "Pasta Night" {
		t.Errorf("meal name = %q, want %q", day.Dinner[0].Name, "Pasta Night")
	}
}

func TestAddMealAssignsPositions(t *testing.T) {
	ps, _ := setupMealPlanTestDB(t)

	first, _ := ps.AddMeal(&model.MealItem{ScopeID: "user-1", Date: "2026-03-01", Slot: model.SlotLunch, Name: "Soup"})
	second, _ := ps.AddMeal(&model.MealItem{ScopeID: "user-1", Date: "2026-03-01", Slot: model.SlotLunch, Name: "Salad"})

	if first.Position != 0 {
		t.Errorf("first position = %d, want 0", first.Position)
	}
	if second.Position != 1 {
		t.Errorf("second position = %d, want 1", second.Position)
	}
}

func TestRemoveMealCascadesIngredients(t *testing.T) {
	ps, _ := setupMealPlanTestDB(t)

	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:     "user-1",
		Date:        "2026-03-01",
		Slot:        model.SlotDinner,
		Name:        "Stew",
		Ingredients: []model.Ingredient{{ItemID: "item-1", Name: "Beef", QuantityUsed: 1}},
	})

	if err := ps.RemoveMeal(meal.ID); err != nil {
		t.Fatalf("remove meal: %v", err)
	}

	got, err := ps.GetMeal(meal.ID)
	if err != nil {
		t.Fatalf("get removed meal: %v", err)
	}
	if got != nil {
		t.Error("expected nil for removed meal")
	}

	var count int
	if err := ps.db.QueryRow(`SELECT COUNT(*) FROM meal_ingredients WHERE meal_item_id = ?`, meal.ID).Scan(&count); err != nil {
		t.Fatalf("count ingredients: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 ingredients after cascade, got %d", count)
	}
}

func TestCookMealDeductsIngredients(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	pasta, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Pasta", Quantity: 2})
	sauce, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Sauce", Quantity: 1})

	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID: "user-1",
		Date:    "2026-03-01",
		Slot:    model.SlotDinner,
		Name:    "Pasta Night",
		Ingredients: []model.Ingredient{
			{ItemID: pasta.ID, Name: "Pasta", QuantityUsed: 1},
			{ItemID: sauce.ID, Name: "Sauce", QuantityUsed: 0.5},
		},
	})

	cooked, err := ps.CookMeal(meal.ID)
	if err != nil {
		t.Fatalf("cook meal: %v", err)
	}
	if !cooked.Cooked {
		t.Error("expected cooked = true")
	}

	gotPasta, _, _ := is.GetByID(pasta.ID)
	if gotPasta.Quantity != 1 {
		t.Errorf("pasta quantity = %v, want 1", gotPasta.Quantity)
	}
	gotSauce, _, _ := is.GetByID(sauce.ID)
	if gotSauce.Quantity != 0.5 {
		t.Errorf("sauce quantity = %v, want 0.5", gotSauce.Quantity)
	}

	// One consumption record per deduction.
	for _, id := range []string{pasta.ID, sauce.ID} {
		last, err := is.LastAdjustment(id)
		if err != nil {
			t.Fatalf("last adjustment: %v", err)
		}
		if last == nil {
			t.Fatalf("expected an adjustment for %s", id)
		}
		if last.Reason != model.ReasonConsumption {
			t.Errorf("reason = %q, want %q", last.Reason, model.ReasonConsumption)
		}
	}
}

func TestCookMealDirectReference(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	apple, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Apple", Quantity: 6})

	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotBreakfast,
		ItemID:       &apple.ID,
		Name:         "Apple",
		QuantityUsed: 2,
	})

	if _, err := ps.CookMeal(meal.ID); err != nil {
		t.Fatalf("cook meal: %v", err)
	}

	got, _, _ := is.GetByID(apple.ID)
	if got.Quantity != 4 {
		t.Errorf("quantity = %v, want 4", got.Quantity)
	}
}

func TestCookMealClampsAtZero(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	flour, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Flour", Quantity: 1})

	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotDinner,
		ItemID:       &flour.ID,
		Name:         "Bread",
		QuantityUsed: 3,
	})

	if _, err := ps.CookMeal(meal.ID); err != nil {
		t.Fatalf("cook meal: %v", err)
	}

	got, _, _ := is.GetByID(flour.ID)
	if got.Quantity != 0 {
		t.Errorf("quantity = %v, want 0", got.Quantity)
	}
	last, _ := is.LastAdjustment(flour.ID)
	if last.OldQuantity != 1 || last.NewQuantity != 0 || last.Diff != -3 {
		t.Errorf("record = {old:%v new:%v diff:%v}, want {old:1 new:0 diff:-3}", last.OldQuantity, last.NewQuantity, last.Diff)
	}
}

func TestCookMealTwiceRejected(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	rice, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Rice", Quantity: 5})
	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotDinner,
		ItemID:       &rice.ID,
		Name:         "Rice Bowl",
		QuantityUsed: 1,
	})

	if _, err := ps.CookMeal(meal.ID); err != nil {
		t.Fatalf("first cook: %v", err)
	}
	if _, err := ps.CookMeal(meal.ID); err != ErrAlreadyCooked {
		t.Errorf("second cook err = %v, want ErrAlreadyCooked", err)
	}

	// No double deduction.
	got, _, _ := is.GetByID(rice.ID)
	if got.Quantity != 4 {
		t.Errorf("quantity = %v, want 4", got.Quantity)
	}
}

func TestCookMealSkipsMissingItems(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	sauce, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Sauce", Quantity: 2})
	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID: "user-1",
		Date:    "2026-03-01",
		Slot:    model.SlotDinner,
		Name:    "Mystery Dish",
		Ingredients: []model.Ingredient{
			{ItemID: "deleted-item", Name: "Gone", QuantityUsed: 1},
			{ItemID: sauce.ID, Name: "Sauce", QuantityUsed: 1},
		},
	})

	cooked, err := ps.CookMeal(meal.ID)
	if err != nil {
		t.Fatalf("cook meal: %v", err)
	}
	if !cooked.Cooked {
		t.Error("expected cooked = true")
	}
	got, _, _ := is.GetByID(sauce.ID)
	if got.Quantity != 1 {
		t.Errorf("sauce quantity = %v, want 1", got.Quantity)
	}
}

func TestUncookMealRestoresQuantities(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	pasta, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Pasta", Quantity: 2})
	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:     "user-1",
		Date:        "2026-03-01",
		Slot:        model.SlotDinner,
		Name:        "Pasta Night",
		Ingredients: []model.Ingredient{{ItemID: pasta.ID, Name: "Pasta", QuantityUsed: 1}},
	})

	if _, err := ps.CookMeal(meal.ID); err != nil {
		t.Fatalf("cook meal: %v", err)
	}

	uncooked, err := ps.UncookMeal(meal.ID)
	if err != nil {
		t.Fatalf("uncook meal: %v", err)
	}
	if uncooked.Cooked {
		t.Error("expected cooked = false")
	}

	got, _, _ := is.GetByID(pasta.ID)
	if got.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", got.Quantity)
	}

	// The consumption record was deleted with the undo.
	last, _ := is.LastAdjustment(pasta.ID)
	if last != nil {
		t.Errorf("expected no remaining adjustments, got %+v", last)
	}
}

func TestUncookReversesOnlyItsOwnCook(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	milk, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Milk", Quantity: 10})

	mealA, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotBreakfast,
		ItemID:       &milk.ID,
		Name:         "Porridge",
		QuantityUsed: 2,
	})
	mealB, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotDinner,
		ItemID:       &milk.ID,
		Name:         "Custard",
		QuantityUsed: 3,
	})

	if _, err := ps.CookMeal(mealA.ID); err != nil {
		t.Fatalf("cook meal A: %v", err)
	}
	if _, err := ps.CookMeal(mealB.ID); err != nil {
		t.Fatalf("cook meal B: %v", err)
	}

	got, _, _ := is.GetByID(milk.ID)
	if got.Quantity != 5 {
		t.Fatalf("quantity after both cooks = %v, want 5", got.Quantity)
	}

	// Uncooking A must give back A's 2, not B's 3, even though B's
	// consumption record is the newer one.
	if _, err := ps.UncookMeal(mealA.ID); err != nil {
		t.Fatalf("uncook meal A: %v", err)
	}

	got, _, _ = is.GetByID(milk.ID)
	if got.Quantity != 7 {
		t.Errorf("quantity after uncooking A = %v, want 7", got.Quantity)
	}

	// B's record survives and still points at B.
	last, _ := is.LastAdjustment(milk.ID)
	if last == nil {
		t.Fatal("expected B's consumption record to remain")
	}
	if last.MealItemID == nil || *last.MealItemID != mealB.ID {
		t.Errorf("remaining record meal = %v, want %q", last.MealItemID, mealB.ID)
	}

	stillCooked, _ := ps.GetMeal(mealB.ID)
	if !stillCooked.Cooked {
		t.Error("meal B should still be cooked")
	}

	if _, err := ps.UncookMeal(mealB.ID); err != nil {
		t.Fatalf("uncook meal B: %v", err)
	}
	got, _, _ = is.GetByID(milk.ID)
	if got.Quantity != 10 {
		t.Errorf("quantity after uncooking both = %v, want 10", got.Quantity)
	}
}

func TestUncookReversesClampedCookExactly(t *testing.T) {
	ps, is := setupMealPlanTestDB(t)

	// Cooking 3 out of 1 clamps the deduction to -1; uncook restores 1, not 3.
	flour, _ := is.Create(&model.Item{ScopeID: "user-1", Name: "Flour", Quantity: 1})
	meal, _ := ps.AddMeal(&model.MealItem{
		ScopeID:      "user-1",
		Date:         "2026-03-01",
		Slot:         model.SlotDinner,
		ItemID:       &flour.ID,
		Name:         "Bread",
		QuantityUsed: 3,
	})

	if _, err := ps.CookMeal(meal.ID); err != nil {
		t.Fatalf("cook meal: %v", err)
	}
	if _, err := ps.UncookMeal(meal.ID); err != nil {
		t.Fatalf("uncook meal: %v", err)
	}

	got, _, _ := is.GetByID(flour.ID)
	if got.Quantity != 1 {
		t.Errorf("quantity = %v, want 1", got.Quantity)
	}
}

func TestUncookMealNotCooked(t *testing.T) {
	ps, _ := setupMealPlanTestDB(t)

	meal, _ := ps.AddMeal(&model.MealItem{ScopeID: "user-1", Date: "2026-03-01", Slot: model.SlotDinner, Name: "Raw"})

	if _, err := ps.UncookMeal(meal.ID); err != ErrNotCooked {
		t.Errorf("err = %v, want ErrNotCooked", err)
	}
}

func TestCookMealNotFound(t *testing.T) {
	ps, _ := setupMealPlanTestDB(t)

	if _, err := ps.CookMeal("no-such-meal"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
