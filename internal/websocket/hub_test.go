package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"larder/internal/model"
	"larder/internal/store"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, scopeID string) *Client {
	return &Client{
		hub:     hub,
		conn:    nil,
		scopeID: scopeID,
		send:    make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "scope-1")
	c2 := mockClient(hub, "scope-1")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "scope-1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastScopeFiltering(t *testing.T) {
	hub := NewHub(slog.Default())

	same := mockClient(hub, "scope-1")
	other := mockClient(hub, "scope-2")
	hub.Register(same)
	hub.Register(other)

	hub.Broadcast(Message{
		Type:       "pantry_created",
		Collection: "pantry",
		Action:     "created",
		ScopeID:    "scope-1",
	})

	select {
	case data := <-same.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "pantry_created" {
			t.Errorf("type = %q, want %q", got.Type, "pantry_created")
		}
		if got.ScopeID != "scope-1" {
			t.Errorf("scope_id = %q, want %q", got.ScopeID, "scope-1")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for same-scope message")
	}

	select {
	case <-other.send:
		t.Fatal("client in another scope should not receive the message")
	default:
	}

	hub.Unregister(same)
	hub.Unregister(other)
}

func TestBroadcastEmptyScopeReachesEveryone(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "scope-1")
	c2 := mockClient(hub, "scope-2")
	hub.Register(c1)
	hub.Register(c2)

	hub.Broadcast(Message{Type: "backup_status", Action: "running"})

	for _, c := range []*Client{c1, c2} {
		select {
		case <-c.send:
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for unscoped message")
		}
	}

	hub.Unregister(c1)
	hub.Unregister(c2)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Broadcast(Message{Type: "pantry_updated", ScopeID: "scope-1"})
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "scope-1")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(Message{Type: "pantry_updated", ScopeID: "scope-1"})
	}

	// This should drop the message, not panic or block
	hub.Broadcast(Message{Type: "pantry_updated", ScopeID: "scope-1"})

	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestFromEvent(t *testing.T) {
	item := &model.Item{ID: "item-1", Name: "Flour"}
	msg := FromEvent(store.Event{
		Collection: model.CollectionPantry,
		Action:     store.ActionUpdated,
		ScopeID:    "scope-1",
		Item:       item,
	})

	if msg.Type != "pantry_updated" {
		t.Errorf("type = %q, want %q", msg.Type, "pantry_updated")
	}
	if msg.Collection != "pantry" {
		t.Errorf("collection = %q, want %q", msg.Collection, "pantry")
	}
	if msg.Action != "updated" {
		t.Errorf("action = %q, want %q", msg.Action, "updated")
	}
	if msg.ScopeID != "scope-1" {
		t.Errorf("scope_id = %q, want %q", msg.ScopeID, "scope-1")
	}
	if msg.Item == nil {
		t.Error("expected item payload to carry over")
	}
	if msg.Meal != nil {
		t.Error("expected no meal payload")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "scope-1")
			hub.Register(c)
			hub.Broadcast(Message{Type: "pantry_updated", ScopeID: "scope-1"})
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
