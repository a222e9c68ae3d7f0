package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"larder/internal/auth"
	"larder/internal/store"
	"larder/internal/sync"
)

type FamilyHandler struct {
	families *store.FamilyStore
	mirrors  *sync.Manager
	logger   *slog.Logger
}

func NewFamilyHandler(fs *store.FamilyStore, mirrors *sync.Manager, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: fs, mirrors: mirrors, logger: logger}
}

// Current returns the caller's family and its members, or 404 when the caller
// is not in one.
func (h *FamilyHandler) Current(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.FamilyID == "" {
		writeError(w, http.StatusNotFound, "not in a family")
		return
	}

	family, err := h.families.GetByID(ac.FamilyID)
	if err != nil {
		h.logger.Error("get family", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get family")
		return
	}
	if family == nil {
		writeError(w, http.StatusNotFound, "not in a family")
		return
	}

	members, err := h.families.ListMembers(family.ID)
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"family": family, "members": members})
}

func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.FamilyID != "" {
		writeError(w, http.StatusConflict, "already in a family")
		return
	}

	var req struct {
		Name   string   `json:"name"`
		Budget *float64 `json:"budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	family, err := h.families.Create(ac.UserID, req.Name, req.Budget)
	if err != nil {
		h.logger.Error("create family", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create family")
		return
	}
	writeJSON(w, http.StatusCreated, family)
}

// Join adds the caller to the family behind the invite code. Their reads and
// writes switch to the shared scope on the next request.
func (h *FamilyHandler) Join(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req struct {
		InviteCode string `json:"invite_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.InviteCode) == "" {
		writeError(w, http.StatusBadRequest, "invite_code is required")
		return
	}

	family, err := h.families.Join(ac.UserID, req.InviteCode)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "no family matches this invite code")
		case errors.Is(err, store.ErrAlreadyInScope):
			writeError(w, http.StatusConflict, "already in a family")
		default:
			h.logger.Error("join family", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to join family")
		}
		return
	}
	writeJSON(w, http.StatusOK, family)
}

// CopyItems copies the caller's personal pantry and shopping items into the
// family scope. The personal originals stay put.
func (h *FamilyHandler) CopyItems(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.FamilyID == "" {
		writeError(w, http.StatusBadRequest, "not in a family")
		return
	}

	copied, err := h.families.CopyToFamily(ac.UserID, ac.FamilyID)
	if err != nil {
		h.logger.Error("copy items", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to copy items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"copied": copied})
}

func (h *FamilyHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	if err := h.families.Leave(ac.UserID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusBadRequest, "not in a family")
		case errors.Is(err, store.ErrOwnerMustStay):
			writeError(w, http.StatusConflict, "the owner cannot leave; delete the family instead")
		default:
			h.logger.Error("leave family", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to leave family")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes the family and everything in its scope. Owner only.
func (h *FamilyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.FamilyID == "" {
		writeError(w, http.StatusBadRequest, "not in a family")
		return
	}

	if err := h.families.Delete(ac.FamilyID, ac.UserID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "family not found")
		case errors.Is(err, store.ErrNotOwner):
			writeError(w, http.StatusForbidden, "only the owner can delete the family")
		default:
			h.logger.Error("delete family", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete family")
		}
		return
	}

	// The scope is gone; drop its cached mirror.
	h.mirrors.CloseScope(ac.FamilyID)
	w.WriteHeader(http.StatusNoContent)
}
