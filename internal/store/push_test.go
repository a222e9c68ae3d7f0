package store

import (
	"testing"
	"time"

	"larder/internal/database"
	"larder/internal/model"
)

func setupPushTestDB(t *testing.T) (*PushStore, *UserStore, *FamilyStore, *ItemStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db), NewUserStore(db), NewFamilyStore(db, nil), NewItemStore(db, nil)
}

func TestPushSubscriptionUpsertByEndpoint(t *testing.T) {
	ps, us, _, _ := setupPushTestDB(t)

	user, _ := us.Create("user@example.com", "hash", "")

	first, err := ps.Create(user.ID, "https://push.example/abc", "key-1", "auth-1", "phone")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	// Re-subscribing the same endpoint replaces keys rather than duplicating.
	second, err := ps.Create(user.ID, "https://push.example/abc", "key-2", "auth-2", "phone")
	if err != nil {
		t.Fatalf("re-create subscription: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert changed id: %q -> %q", first.ID, second.ID)
	}
	if second.P256dhKey != "key-2" {
		t.Errorf("p256dh = %q, want %q", second.P256dhKey, "key-2")
	}

	subs, _ := ps.ListByUser(user.ID)
	if len(subs) != 1 {
		t.Errorf("expected 1 subscription, got %d", len(subs))
	}
}

func TestPushListByScope(t *testing.T) {
	ps, us, fs, _ := setupPushTestDB(t)

	owner, _ := us.Create("owner@example.com", "hash", "")
	member, _ := us.Create("member@example.com", "hash", "")
	outsider, _ := us.Create("outsider@example.com", "hash", "")

	family, _ := fs.Create(owner.ID, "Shared", nil)
	fs.Join(member.ID, family.InviteCode)

	ps.Create(owner.ID, "https://push.example/owner", "k", "a", "")
	ps.Create(member.ID, "https://push.example/member", "k", "a", "")
	ps.Create(outsider.ID, "https://push.example/outsider", "k", "a", "")

	// Family scope reaches every member's devices.
	subs, err := ps.ListByScope(family.ID)
	if err != nil {
		t.Fatalf("list by scope: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("family scope subs = %d, want 2", len(subs))
	}

	// A personal scope reaches only that user.
	subs, _ = ps.ListByScope(outsider.ID)
	if len(subs) != 1 {
		t.Errorf("personal scope subs = %d, want 1", len(subs))
	}
}

func TestListExpiring(t *testing.T) {
	ps, _, _, is := setupPushTestDB(t)

	now := time.Now().UTC()
	soon := now.Add(24 * time.Hour)
	later := now.Add(96 * time.Hour)
	consumed := now

	is.Create(&model.Item{ScopeID: "user-1", Name: "Yogurt", ExpiresAt: &soon})
	is.Create(&model.Item{ScopeID: "user-1", Name: "Cheese", ExpiresAt: &later})
	is.Create(&model.Item{ScopeID: "user-1", Name: "Eaten", ExpiresAt: &soon, ConsumedAt: &consumed})
	is.Create(&model.Item{ScopeID: "user-1", Name: "Fresh"})

	items, err := ps.ListExpiring(now.Add(48 * time.Hour))
	if err != nil {
		t.Fatalf("list expiring: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 expiring item, got %d", len(items))
	}
	if items[0].Name != "Yogurt" {
		t.Errorf("expiring item = %q, want Yogurt", items[0].Name)
	}

	// Once notified, the item drops out of the next pass.
	if err := ps.MarkNotified(items[0].ID); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	items, _ = ps.ListExpiring(now.Add(48 * time.Hour))
	if len(items) != 0 {
		t.Errorf("expected 0 after notification, got %d", len(items))
	}
}
