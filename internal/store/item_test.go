package store

import (
	"testing"
	"time"

	"larder/internal/database"
	"larder/internal/model"
)

func setupItemTestDB(t *testing.T) *ItemStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewItemStore(db, nil)
}

func TestItemCRUD(t *testing.T) {
	s := setupItemTestDB(t)

	item, err := s.Create(&model.Item{
		ScopeID:  "user-1",
		Name:     "Milk",
		Quantity: 2,
		Unit:     "l",
		Location: "fridge",
		Labels:   []string{"dairy"},
		Category: "Dairy",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.ID == "" {
		t.Error("expected generated id")
	}
	if item.Name != "Milk" {
		t.Errorf("name = %q, want %q", item.Name, "Milk")
	}
	if item.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", item.Quantity)
	}
	if item.OnShoppingList {
		t.Error("new pantry item should not be on the shopping list")
	}
	if len(item.Labels) != 1 || item.Labels[0] != "dairy" {
		t.Errorf("labels = %v, want [dairy]", item.Labels)
	}

	got, coll, err := s.GetByID(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got == nil || got.Name != "Milk" {
		t.Fatalf("got = %+v, want Milk", got)
	}
	if coll != model.CollectionPantry {
		t.Errorf("collection = %q, want pantry", coll)
	}

	got.Name = "Whole Milk"
	got.Quantity = 3
	updated, err := s.Update(got)
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if updated.Name != "Whole Milk" {
		t.Errorf("updated name = %q, want %q", updated.Name, "Whole Milk")
	}
	if updated.Quantity != 3 {
		t.Errorf("updated quantity = %v, want 3", updated.Quantity)
	}

	items, err := s.ListPantry("user-1")
	if err != nil {
		t.Fatalf("list pantry: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}

	if err := s.Delete(item.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	got, _, err = s.GetByID(item.ID)
	if err != nil {
		t.Fatalf("get deleted item: %v", err)
	}
	if got != nil {
		t.Error("expected nil for deleted item")
	}
}

func TestItemGetByIDNotFound(t *testing.T) {
	s := setupItemTestDB(t)

	got, _, err := s.GetByID("no-such-id")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent item")
	}
}

func TestCreateClampsNegativeQuantity(t *testing.T) {
	s := setupItemTestDB(t)

	item, err := s.Create(&model.Item{ScopeID: "user-1", Name: "Eggs", Quantity: -3})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.Quantity != 0 {
		t.Errorf("quantity = %v, want 0", item.Quantity)
	}
}

func TestShoppingFlagPicksTable(t *testing.T) {
	s := setupItemTestDB(t)

	item, err := s.Create(&model.Item{ScopeID: "user-1", Name: "Bread", OnShoppingList: true})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	_, coll, err := s.GetByID(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if coll != model.CollectionShopping {
		t.Errorf("collection = %q, want shopping", coll)
	}

	pantry, _ := s.ListPantry("user-1")
	if len(pantry) != 0 {
		t.Errorf("pantry should be empty, got %d items", len(pantry))
	}
	shopping, _ := s.ListShopping("user-1")
	if len(shopping) != 1 {
		t.Errorf("expected 1 shopping item, got %d", len(shopping))
	}
}

func TestUpdateMovesBetweenCollections(t *testing.T) {
	s := setupItemTestDB(t)

	item, err := s.Create(&model.Item{ScopeID: "user-1", Name: "Butter", Quantity: 1})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	// Flip onto the shopping list.
	item.OnShoppingList = true
	moved, err := s.Update(item)
	if err != nil {
		t.Fatalf("move to shopping: %v", err)
	}
	if !moved.OnShoppingList {
		t.Error("expected on_shopping_list = true")
	}
	if moved.ID != item.ID {
		t.Errorf("id changed across move: %q -> %q", item.ID, moved.ID)
	}

	// The id must never be in both tables.
	pantry, _ := s.ListPantry("user-1")
	if len(pantry) != 0 {
		t.Errorf("pantry should be empty after move, got %d items", len(pantry))
	}
	shopping, _ := s.ListShopping("user-1")
	if len(shopping) != 1 {
		t.Fatalf("expected 1 shopping item, got %d", len(shopping))
	}

	// And back.
	moved.OnShoppingList = false
	back, err := s.Update(moved)
	if err != nil {
		t.Fatalf("move to pantry: %v", err)
	}
	if back.OnShoppingList {
		t.Error("expected on_shopping_list = false")
	}
	pantry, _ = s.ListPantry("user-1")
	if len(pantry) != 1 {
		t.Errorf("expected 1 pantry item after move back, got %d", len(pantry))
	}
	shopping, _ = s.ListShopping("user-1")
	if len(shopping) != 0 {
		t.Errorf("shopping should be empty after move back, got %d items", len(shopping))
	}
}

func TestAdjustQuantity(t *testing.T) {
	s := setupItemTestDB(t)

	item, _ := s.Create(&model.Item{ScopeID: "user-1", Name: "Flour", Quantity: 5})

	updated, adj, err := s.AdjustQuantity(item.ID, -2, model.ReasonConsumption)
	if err != nil {
		t.Fatalf("adjust quantity: %v", err)
	}
	if updated.Quantity != 3 {
		t.Errorf("quantity = %v, want 3", updated.Quantity)
	}
	if adj.OldQuantity != 5 || adj.NewQuantity != 3 || adj.Diff != -2 {
		t.Errorf("adjustment = {old:%v new:%v diff:%v}, want {old:5 new:3 diff:-2}", adj.OldQuantity, adj.NewQuantity, adj.Diff)
	}
	if adj.Reason != model.ReasonConsumption {
		t.Errorf("reason = %q, want %q", adj.Reason, model.ReasonConsumption)
	}
}

func TestAdjustQuantityClampsAtZero(t *testing.T) {
	s := setupItemTestDB(t)

	item, _ := s.Create(&model.Item{ScopeID: "user-1", Name: "Rice", Quantity: 3})

	updated, adj, err := s.AdjustQuantity(item.ID, -5, model.ReasonConsumption)
	if err != nil {
		t.Fatalf("adjust quantity: %v", err)
	}
	if updated.Quantity != 0 {
		t.Errorf("quantity = %v, want 0", updated.Quantity)
	}
	// The record keeps the requested delta; old/new capture the clamp.
	if adj.OldQuantity != 3 || adj.NewQuantity != 0 || adj.Diff != -5 {
		t.Errorf("adjustment = {old:%v new:%v diff:%v}, want {old:3 new:0 diff:-5}", adj.OldQuantity, adj.NewQuantity, adj.Diff)
	}
}

func TestAdjustQuantityNotFound(t *testing.T) {
	s := setupItemTestDB(t)

	_, _, err := s.AdjustQuantity("no-such-id", 1, model.ReasonManual)
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUndoLastAdjustment(t *testing.T) {
	s := setupItemTestDB(t)

	item, _ := s.Create(&model.Item{ScopeID: "user-1", Name: "Sugar", Quantity: 4})
	if _, _, err := s.AdjustQuantity(item.ID, -1, model.ReasonConsumption); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	restored, err := s.UndoLastAdjustment(item.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if restored.Quantity != 4 {
		t.Errorf("quantity = %v, want 4", restored.Quantity)
	}

	// The record is gone, so a second undo is a no-op.
	last, err := s.LastAdjustment(item.ID)
	if err != nil {
		t.Fatalf("last adjustment: %v", err)
	}
	if last != nil {
		t.Errorf("expected no remaining adjustments, got %+v", last)
	}
	again, err := s.UndoLastAdjustment(item.ID)
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if again.Quantity != 4 {
		t.Errorf("quantity after second undo = %v, want 4", again.Quantity)
	}
}

func TestUndoClampedAdjustmentRestoresExactly(t *testing.T) {
	s := setupItemTestDB(t)

	// -5 on quantity 3 clamps to 0; the record keeps the requested diff -5,
	// and undo must restore the recorded old quantity 3, not add 5 back.
	item, _ := s.Create(&model.Item{ScopeID: "user-1", Name: "Oats", Quantity: 3})
	if _, _, err := s.AdjustQuantity(item.ID, -5, model.ReasonConsumption); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	restored, err := s.UndoLastAdjustment(item.ID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if restored.Quantity != 3 {
		t.Errorf("quantity = %v, want 3", restored.Quantity)
	}
}

func TestLastAdjustmentOrdering(t *testing.T) {
	s := setupItemTestDB(t)

	item, _ := s.Create(&model.Item{ScopeID: "user-1", Name: "Salt", Quantity: 10})
	s.AdjustQuantity(item.ID, -1, model.ReasonConsumption)
	s.AdjustQuantity(item.ID, -2, model.ReasonManual)

	last, err := s.LastAdjustment(item.ID)
	if err != nil {
		t.Fatalf("last adjustment: %v", err)
	}
	if last == nil {
		t.Fatal("expected an adjustment")
	}
	if last.Diff != -2 {
		t.Errorf("last diff = %v, want -2", last.Diff)
	}
	if last.Reason != model.ReasonManual {
		t.Errorf("last reason = %q, want %q", last.Reason, model.ReasonManual)
	}
}

func TestPurgeConsumed(t *testing.T) {
	s := setupItemTestDB(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)

	s.Create(&model.Item{ScopeID: "user-1", Name: "Moldy Cheese", ConsumedAt: &old})
	s.Create(&model.Item{ScopeID: "user-1", Name: "Fresh Cheese", ConsumedAt: &recent})
	s.Create(&model.Item{ScopeID: "user-1", Name: "Yogurt"})
	s.Create(&model.Item{ScopeID: "user-2", Name: "Other Scope", ConsumedAt: &old})

	count, err := s.PurgeConsumed("user-1", time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge consumed: %v", err)
	}
	if count != 1 {
		t.Errorf("purged = %d, want 1", count)
	}

	items, _ := s.ListPantry("user-1")
	if len(items) != 2 {
		t.Errorf("expected 2 remaining items, got %d", len(items))
	}
	others, _ := s.ListPantry("user-2")
	if len(others) != 1 {
		t.Errorf("other scope should be untouched, got %d items", len(others))
	}
}

func TestListScopeIDs(t *testing.T) {
	s := setupItemTestDB(t)

	s.Create(&model.Item{ScopeID: "user-1", Name: "A"})
	s.Create(&model.Item{ScopeID: "user-1", Name: "B", OnShoppingList: true})
	s.Create(&model.Item{ScopeID: "user-2", Name: "C"})

	scopes, err := s.ListScopeIDs()
	if err != nil {
		t.Fatalf("list scopes: %v", err)
	}
	if len(scopes) != 2 {
		t.Errorf("expected 2 scopes, got %d: %v", len(scopes), scopes)
	}
}

func insertLegacyItem(t *testing.T, s *ItemStore, id, scopeID, name string, quantity float64) {
	t.Helper()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO legacy_pantry_items (`+itemCols+`) VALUES (`+itemPlaceholders+`)`,
		id, scopeID, name, quantity, "", "", "[]", "", "", nil, false, nil, nil, "", nil, now, now,
	)
	if err != nil {
		t.Fatalf("insert legacy item: %v", err)
	}
}

func TestLegacyItemReadable(t *testing.T) {
	s := setupItemTestDB(t)

	insertLegacyItem(t, s, "legacy-1", "user-1", "Old Jam", 1)

	got, coll, err := s.GetByID("legacy-1")
	if err != nil {
		t.Fatalf("get legacy item: %v", err)
	}
	if got == nil || got.Name != "Old Jam" {
		t.Fatalf("got = %+v, want Old Jam", got)
	}
	if coll != model.CollectionLegacy {
		t.Errorf("collection = %q, want legacy", coll)
	}

	items, err := s.ListLegacyPantry("user-1")
	if err != nil {
		t.Fatalf("list legacy: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 legacy item, got %d", len(items))
	}
}

func TestLegacyItemMigratesForwardOnUpdate(t *testing.T) {
	s := setupItemTestDB(t)

	insertLegacyItem(t, s, "legacy-2", "user-1", "Old Honey", 1)

	item, _, err := s.GetByID("legacy-2")
	if err != nil {
		t.Fatalf("get legacy item: %v", err)
	}
	item.Quantity = 2
	updated, err := s.Update(item)
	if err != nil {
		t.Fatalf("update legacy item: %v", err)
	}
	if updated.Quantity != 2 {
		t.Errorf("quantity = %v, want 2", updated.Quantity)
	}

	_, coll, err := s.GetByID("legacy-2")
	if err != nil {
		t.Fatalf("get migrated item: %v", err)
	}
	if coll != model.CollectionPantry {
		t.Errorf("collection = %q, want pantry after edit", coll)
	}
	legacy, _ := s.ListLegacyPantry("user-1")
	if len(legacy) != 0 {
		t.Errorf("legacy table should be empty after migration, got %d items", len(legacy))
	}
}

func TestAdjustQuantityRejectsLegacy(t *testing.T) {
	s := setupItemTestDB(t)

	insertLegacyItem(t, s, "legacy-3", "user-1", "Old Beans", 4)

	if _, _, err := s.AdjustQuantity("legacy-3", -1, model.ReasonManual); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound for legacy items", err)
	}
}

func TestCreatePublishesEvent(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var events []Event
	s := NewItemStore(db, func(ev Event) { events = append(events, ev) })

	item, err := s.Create(&model.Item{ScopeID: "user-1", Name: "Tea"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Collection != model.CollectionPantry || ev.Action != ActionCreated {
		t.Errorf("event = %s/%s, want pantry/created", ev.Collection, ev.Action)
	}
	if ev.Item == nil || ev.Item.ID != item.ID {
		t.Error("event should carry the created item")
	}
}
