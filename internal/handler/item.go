package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"larder/internal/auth"
	"larder/internal/model"
	"larder/internal/store"
	"larder/internal/sync"
)

type ItemHandler struct {
	items   *store.ItemStore
	mirrors *sync.Manager
	logger  *slog.Logger
}

func NewItemHandler(is *store.ItemStore, mirrors *sync.Manager, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{items: is, mirrors: mirrors, logger: logger}
}

type itemRequest struct {
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
}

func (req *itemRequest) apply(item *model.Item) {
	item.Name = strings.TrimSpace(req.Name)
	item.Quantity = req.Quantity
	item.Unit = req.Unit
	item.Location = req.Location
	item.Labels = req.Labels
	item.Description = req.Description
	item.Category = req.Category
	item.ExpiresAt = req.ExpiresAt
	item.OnShoppingList = req.OnShoppingList
	item.Purchased = req.Purchased
	item.ConsumedAt = req.ConsumedAt
	item.Price = req.Price
	item.Currency = req.Currency
}

// List returns the merged view across the pantry collections, served from the
// scope's in-memory mirror.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	scopeID := auth.ScopeID(r.Context())
	mirror, err := h.mirrors.Acquire(scopeID)
	if err != nil {
		h.logger.Error("load mirror", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	defer h.mirrors.Release(scopeID)
	writeJSON(w, http.StatusOK, mirror.Items())
}

func (h *ItemHandler) ListPantry(w http.ResponseWriter, r *http.Request) {
	scopeID := auth.ScopeID(r.Context())
	mirror, err := h.mirrors.Acquire(scopeID)
	if err != nil {
		h.logger.Error("load mirror", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	defer h.mirrors.Release(scopeID)
	writeJSON(w, http.StatusOK, mirror.PantryItems())
}

func (h *ItemHandler) ListShopping(w http.ResponseWriter, r *http.Request) {
	scopeID := auth.ScopeID(r.Context())
	mirror, err := h.mirrors.Acquire(scopeID)
	if err != nil {
		h.logger.Error("load mirror", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	defer h.mirrors.Release(scopeID)
	writeJSON(w, http.StatusOK, mirror.ShoppingItems())
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	item := &model.Item{ScopeID: auth.ScopeID(r.Context())}
	req.apply(item)

	created, err := h.items.Create(item)
	if err != nil {
		h.logger.Error("create item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	req.apply(item)

	updated, err := h.items.Update(item)
	if err != nil {
		h.logger.Error("update item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	if updated == nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}
	if err := h.items.Delete(item.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		h.logger.Error("delete item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Adjust changes an item's quantity by a signed delta and records the change.
// The stored quantity never goes below zero; the recorded diff reflects the
// clamped change.
func (h *ItemHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}

	var req struct {
		Delta  float64 `json:"delta"`
		Reason string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reason == "" {
		req.Reason = model.ReasonManual
	}
	switch req.Reason {
	case model.ReasonManual, model.ReasonConsumption, model.ReasonPurchase, model.ReasonCorrection:
	default:
		writeError(w, http.StatusBadRequest, "unknown reason")
		return
	}

	updated, adj, err := h.items.AdjustQuantity(item.ID, req.Delta, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		h.logger.Error("adjust quantity", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to adjust quantity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": updated, "adjustment": adj})
}

func (h *ItemHandler) LastAdjustment(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}
	adj, err := h.items.LastAdjustment(item.ID)
	if err != nil {
		h.logger.Error("last adjustment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load adjustment")
		return
	}
	if adj == nil {
		writeError(w, http.StatusNotFound, "no adjustments recorded")
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

// UndoAdjustment reverses the newest recorded quantity change and removes its
// record.
func (h *ItemHandler) UndoAdjustment(w http.ResponseWriter, r *http.Request) {
	item, ok := h.scopedItem(w, r)
	if !ok {
		return
	}
	updated, err := h.items.UndoLastAdjustment(item.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no adjustments recorded")
			return
		}
		h.logger.Error("undo adjustment", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to undo adjustment")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// PurgeConsumed deletes the scope's consumed items, optionally only those
// consumed before the given RFC 3339 cutoff.
func (h *ItemHandler) PurgeConsumed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Before *time.Time `json:"before"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	cutoff := time.Now().UTC()
	if req.Before != nil {
		cutoff = *req.Before
	}

	count, err := h.items.PurgeConsumed(auth.ScopeID(r.Context()), cutoff)
	if err != nil {
		h.logger.Error("purge consumed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to purge items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": count})
}

// scopedItem loads the item behind {id} and verifies it belongs to the
// caller's scope, writing the error response itself on failure.
func (h *ItemHandler) scopedItem(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	id := idParam(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}

	item, _, err := h.items.GetByID(id)
	if err != nil {
		h.logger.Error("get item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get item")
		return nil, false
	}
	if item == nil || item.ScopeID != auth.ScopeID(r.Context()) {
		writeError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}
