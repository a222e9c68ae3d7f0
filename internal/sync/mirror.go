package sync

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"larder/internal/model"
	"larder/internal/store"
)

// Mirror is a live in-memory view of one scope's collections: current
// pantry, legacy pantry, shopping list, and meal plans. It loads a snapshot
// on construction, then applies incremental patches from the change feed
// instead of replacing arrays wholesale. Reads are served from memory with
// no database round-trip.
//
// A Mirror is an explicit per-scope object with an explicit Close, not a
// package-level singleton. An item id appears in at most one of the pantry
// and shopping caches at any time.
type Mirror struct {
	scopeID string
	logger  *slog.Logger

	mu       sync.RWMutex
	pantry   map[string]model.Item
	legacy   map[string]model.Item
	shopping map[string]model.Item
	meals    map[string][]model.MealItem // date -> meals

	items *store.ItemStore
	plans *store.MealPlanStore

	subMu       sync.Mutex
	subscribers map[int]func()
	nextSub     int

	unsubscribe func()
	closed      bool
}

// NewMirror loads the scope's snapshot and attaches to the feed.
func NewMirror(scopeID string, items *store.ItemStore, plans *store.MealPlanStore, feed *Feed, logger *slog.Logger) (*Mirror, error) {
	m := &Mirror{
		scopeID:     scopeID,
		logger:      logger,
		pantry:      make(map[string]model.Item),
		legacy:      make(map[string]model.Item),
		shopping:    make(map[string]model.Item),
		meals:       make(map[string][]model.MealItem),
		items:       items,
		plans:       plans,
		subscribers: make(map[int]func()),
	}

	if err := m.reload(); err != nil {
		return nil, err
	}
	m.unsubscribe = feed.Subscribe(m.apply)
	return m, nil
}

// reload replaces the caches with a fresh snapshot. Used at construction and
// after bulk operations that publish a reload event.
func (m *Mirror) reload() error {
	pantry, err := m.items.ListPantry(m.scopeID)
	if err != nil {
		return fmt.Errorf("load pantry: %w", err)
	}
	legacy, err := m.items.ListLegacyPantry(m.scopeID)
	if err != nil {
		return fmt.Errorf("load legacy pantry: %w", err)
	}
	shopping, err := m.items.ListShopping(m.scopeID)
	if err != nil {
		return fmt.Errorf("load shopping list: %w", err)
	}

	m.mu.Lock()
	m.pantry = make(map[string]model.Item, len(pantry))
	for _, item := range pantry {
		m.pantry[item.ID] = item
	}
	m.legacy = make(map[string]model.Item, len(legacy))
	for _, item := range legacy {
		m.legacy[item.ID] = item
	}
	m.shopping = make(map[string]model.Item, len(shopping))
	for _, item := range shopping {
		m.shopping[item.ID] = item
	}
	m.meals = make(map[string][]model.MealItem)
	m.mu.Unlock()
	return nil
}

// apply patches the caches for one feed event. Events for other scopes are
// ignored.
func (m *Mirror) apply(ev store.Event) {
	if ev.ScopeID != m.scopeID {
		return
	}

	switch ev.Collection {
	case model.CollectionPantry, model.CollectionShopping, model.CollectionLegacy:
		if ev.Action == store.ActionReloaded || ev.Item == nil {
			if err := m.reload(); err != nil {
				m.logger.Error("mirror reload", "scope", m.scopeID, "error", err)
				return
			}
			m.notifySubscribers()
			return
		}
		m.applyItem(ev)
	case model.CollectionMealPlan:
		m.applyMeal(ev)
	default:
		return
	}
	m.notifySubscribers()
}

func (m *Mirror) applyItem(ev store.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ev.Item.ID
	// Drop the id everywhere first, so an upsert into one cache can never
	// leave a duplicate in another.
	delete(m.pantry, id)
	delete(m.legacy, id)
	delete(m.shopping, id)

	if ev.Action == store.ActionDeleted {
		return
	}

	switch ev.Collection {
	case model.CollectionShopping:
		m.shopping[id] = *ev.Item
	case model.CollectionLegacy:
		m.legacy[id] = *ev.Item
	default:
		m.pantry[id] = *ev.Item
	}
}

func (m *Mirror) applyMeal(ev store.Event) {
	if ev.Meal == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	date := ev.Meal.Date
	cached, ok := m.meals[date]
	if !ok {
		// Day not cached yet; it will be loaded on first read.
		return
	}

	// Build the patched day in a fresh slice. MealPlan hands the cached
	// header to readers outside the lock, so the backing array must never
	// be written once published.
	out := make([]model.MealItem, 0, len(cached)+1)
	for _, meal := range cached {
		if meal.ID != ev.Meal.ID {
			out = append(out, meal)
		}
	}
	if ev.Action != store.ActionDeleted {
		out = append(out, *ev.Meal)
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Slot != out[j].Slot {
				return slotOrder(out[i].Slot) < slotOrder(out[j].Slot)
			}
			return out[i].Position < out[j].Position
		})
	}
	m.meals[date] = out
}

func slotOrder(slot string) int {
	switch slot {
	case model.SlotBreakfast:
		return 0
	case model.SlotLunch:
		return 1
	default:
		return 2
	}
}

// Items returns the merged, deduplicated union of the pantry caches and the
// shopping cache, sorted by name for a stable order. Current pantry rows win
// over legacy rows with the same id.
func (m *Mirror) Items() []model.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merged := make(map[string]model.Item, len(m.pantry)+len(m.legacy)+len(m.shopping))
	for id, item := range m.legacy {
		merged[id] = item
	}
	for id, item := range m.pantry {
		merged[id] = item
	}
	for id, item := range m.shopping {
		merged[id] = item
	}

	out := make([]model.Item, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PantryItems returns the deduplicated pantry view (current rows shadowing
// legacy rows).
func (m *Mirror) PantryItems() []model.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merged := make(map[string]model.Item, len(m.pantry)+len(m.legacy))
	for id, item := range m.legacy {
		merged[id] = item
	}
	for id, item := range m.pantry {
		merged[id] = item
	}
	out := make([]model.Item, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ShoppingItems returns the shopping-list view.
func (m *Mirror) ShoppingItems() []model.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Item, 0, len(m.shopping))
	for _, item := range m.shopping {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MealPlan returns one day's plan, loading it into the cache on first read.
func (m *Mirror) MealPlan(date string) (*model.MealPlanDay, error) {
	m.mu.RLock()
	cached, ok := m.meals[date]
	m.mu.RUnlock()

	if !ok {
		day, err := m.plans.GetDay(m.scopeID, date)
		if err != nil {
			return nil, err
		}
		flat := append(append(append([]model.MealItem{}, day.Breakfast...), day.Lunch...), day.Dinner...)
		m.mu.Lock()
		if _, raced := m.meals[date]; !raced {
			m.meals[date] = flat
		}
		cached = m.meals[date]
		m.mu.Unlock()
	}

	day := &model.MealPlanDay{
		ScopeID:   m.scopeID,
		Date:      date,
		Breakfast: []model.MealItem{},
		Lunch:     []model.MealItem{},
		Dinner:    []model.MealItem{},
	}
	for _, meal := range cached {
		switch meal.Slot {
		case model.SlotBreakfast:
			day.Breakfast = append(day.Breakfast, meal)
		case model.SlotLunch:
			day.Lunch = append(day.Lunch, meal)
		default:
			day.Dinner = append(day.Dinner, meal)
		}
	}
	return day, nil
}

// Subscribe registers a callback fired after every applied change. Returns
// an unsubscribe function.
func (m *Mirror) Subscribe(fn func()) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

func (m *Mirror) notifySubscribers() {
	m.subMu.Lock()
	fns := make([]func(), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Close detaches from the feed. No further updates are delivered; in-flight
// writes are unaffected.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.unsubscribe()
}

// Manager hands out ref-counted mirrors keyed by scope, so concurrent
// requests for the same scope share one cache.
type Manager struct {
	mu      sync.Mutex
	mirrors map[string]*managedMirror

	items  *store.ItemStore
	plans  *store.MealPlanStore
	feed   *Feed
	logger *slog.Logger
}

type managedMirror struct {
	mirror *Mirror
	refs   int
}

func NewManager(items *store.ItemStore, plans *store.MealPlanStore, feed *Feed, logger *slog.Logger) *Manager {
	return &Manager{
		mirrors: make(map[string]*managedMirror),
		items:   items,
		plans:   plans,
		feed:    feed,
		logger:  logger,
	}
}

// Acquire returns the scope's mirror, creating it on first use. Every
// Acquire must be paired with a Release; WebSocket connections hold a
// reference for their lifetime, HTTP reads hold one for the request.
func (mgr *Manager) Acquire(scopeID string) (*Mirror, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mm, ok := mgr.mirrors[scopeID]; ok {
		mm.refs++
		return mm.mirror, nil
	}

	mirror, err := NewMirror(scopeID, mgr.items, mgr.plans, mgr.feed, mgr.logger)
	if err != nil {
		return nil, err
	}
	mgr.mirrors[scopeID] = &managedMirror{mirror: mirror, refs: 1}
	return mirror, nil
}

// CloseScope tears the scope's mirror down regardless of references, for
// scope deletion (family removed) or shutdown.
func (mgr *Manager) CloseScope(scopeID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mm, ok := mgr.mirrors[scopeID]; ok {
		mm.mirror.Close()
		delete(mgr.mirrors, scopeID)
	}
}

// Release drops one reference; the last release closes the mirror.
func (mgr *Manager) Release(scopeID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mm, ok := mgr.mirrors[scopeID]
	if !ok {
		return
	}
	mm.refs--
	if mm.refs <= 0 {
		mm.mirror.Close()
		delete(mgr.mirrors, scopeID)
	}
}
