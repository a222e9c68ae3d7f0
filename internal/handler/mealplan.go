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

type MealPlanHandler struct {
	plans   *store.MealPlanStore
	mirrors *sync.Manager
	logger  *slog.Logger
}

func NewMealPlanHandler(ps *store.MealPlanStore, mirrors *sync.Manager, logger *slog.Logger) *MealPlanHandler {
	return &MealPlanHandler{plans: ps, mirrors: mirrors, logger: logger}
}

// Day returns a single day's plan out of the scope's mirror.
func (h *MealPlanHandler) Day(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be yyyy-mm-dd")
		return
	}

	scopeID := auth.ScopeID(r.Context())
	mirror, err := h.mirrors.Acquire(scopeID)
	if err != nil {
		h.logger.Error("load mirror", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load meal plan")
		return
	}
	defer h.mirrors.Release(scopeID)
	day, err := mirror.MealPlan(date)
	if err != nil {
		h.logger.Error("load meal plan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load meal plan")
		return
	}
	writeJSON(w, http.StatusOK, day)
}

type mealRequest struct {
	Date         string  `json:"date"`
	Slot         string  `json:"slot"`
	ItemID       *string `json:"item_id"`
	Name         string  `json:"name"`
	QuantityUsed float64 `json:"quantity_used"`
	Ingredients  []struct {
		ItemID       string  `json:"item_id"`
		Name         string  `json:"name"`
		QuantityUsed float64 `json:"quantity_used"`
	} `json:"ingredients"`
}

// AddMeal plans a meal: either a direct reference to one pantry item or a
// dish with an ingredient list.
func (h *MealPlanHandler) AddMeal(w http.ResponseWriter, r *http.Request) {
	var req mealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be yyyy-mm-dd")
		return
	}
	switch req.Slot {
	case model.SlotBreakfast, model.SlotLunch, model.SlotDinner:
	default:
		writeError(w, http.StatusBadRequest, "slot must be breakfast, lunch, or dinner")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ItemID != nil && len(req.Ingredients) > 0 {
		writeError(w, http.StatusBadRequest, "a meal is either an item reference or a dish, not both")
		return
	}

	meal := &model.MealItem{
		ScopeID:      auth.ScopeID(r.Context()),
		Date:         req.Date,
		Slot:         req.Slot,
		ItemID:       req.ItemID,
		Name:         strings.TrimSpace(req.Name),
		QuantityUsed: req.QuantityUsed,
	}
	for _, ing := range req.Ingredients {
		if ing.ItemID == "" || strings.TrimSpace(ing.Name) == "" {
			writeError(w, http.StatusBadRequest, "each ingredient needs item_id and name")
			return
		}
		meal.Ingredients = append(meal.Ingredients, model.Ingredient{
			ItemID:       ing.ItemID,
			Name:         strings.TrimSpace(ing.Name),
			QuantityUsed: ing.QuantityUsed,
		})
	}

	created, err := h.plans.AddMeal(meal)
	if err != nil {
		h.logger.Error("add meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add meal")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *MealPlanHandler) RemoveMeal(w http.ResponseWriter, r *http.Request) {
	meal, ok := h.scopedMeal(w, r)
	if !ok {
		return
	}
	if err := h.plans.RemoveMeal(meal.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "meal not found")
			return
		}
		h.logger.Error("remove meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove meal")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Cook marks the meal cooked and deducts its quantities from the pantry, with
// one history record per deduction. Cooking twice is rejected.
func (h *MealPlanHandler) Cook(w http.ResponseWriter, r *http.Request) {
	meal, ok := h.scopedMeal(w, r)
	if !ok {
		return
	}

	cooked, err := h.plans.CookMeal(meal.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "meal not found")
		case errors.Is(err, store.ErrAlreadyCooked):
			writeError(w, http.StatusConflict, "meal is already cooked")
		default:
			h.logger.Error("cook meal", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cook meal")
		}
		return
	}
	writeJSON(w, http.StatusOK, cooked)
}

// Uncook reverses the deductions the cook recorded and clears the flag.
func (h *MealPlanHandler) Uncook(w http.ResponseWriter, r *http.Request) {
	meal, ok := h.scopedMeal(w, r)
	if !ok {
		return
	}

	uncooked, err := h.plans.UncookMeal(meal.ID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "meal not found")
		case errors.Is(err, store.ErrNotCooked):
			writeError(w, http.StatusConflict, "meal is not cooked")
		default:
			h.logger.Error("uncook meal", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to uncook meal")
		}
		return
	}
	writeJSON(w, http.StatusOK, uncooked)
}

func (h *MealPlanHandler) scopedMeal(w http.ResponseWriter, r *http.Request) (*model.MealItem, bool) {
	id := idParam(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}

	meal, err := h.plans.GetMeal(id)
	if err != nil {
		h.logger.Error("get meal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get meal")
		return nil, false
	}
	if meal == nil || meal.ScopeID != auth.ScopeID(r.Context()) {
		writeError(w, http.StatusNotFound, "meal not found")
		return nil, false
	}
	return meal, true
}
