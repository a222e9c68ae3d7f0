package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"larder/internal/model"
	"larder/internal/store"
)

// Scheduler periodically sends expiry reminders: one push per subscription
// in an item's scope when the item will expire within the lead window. Each
// item is reminded at most once; an expiry change re-arms it.
type Scheduler struct {
	mu       sync.RWMutex
	service  *Service
	push     *store.PushStore
	lead     time.Duration
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates an expiry reminder scheduler.
func NewScheduler(svc *Service, pushStore *store.PushStore, lead time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  svc,
		push:     pushStore,
		lead:     lead,
		interval: 60 * time.Second,
		logger:   logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick() {
	items, err := s.push.ListExpiring(time.Now().UTC().Add(s.lead))
	if err != nil {
		s.logger.Error("list expiring items", "error", err)
		return
	}

	for _, item := range items {
		s.remind(&item)
	}
}

func (s *Scheduler) remind(item *model.Item) {
	subs, err := s.push.ListByScope(item.ScopeID)
	if err != nil {
		s.logger.Error("list subscriptions", "scope", item.ScopeID, "error", err)
		return
	}

	payload := Payload{
		Title: "Expiring soon",
		Body:  fmt.Sprintf("%s expires %s", item.Name, item.ExpiresAt.Format("Jan 2")),
		URL:   "/items/" + item.ID,
		Tag:   "expiry-" + item.ID,
	}

	for i := range subs {
		sub := &subs[i]
		if err := s.service.Send(sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(sub.Endpoint)
			} else {
				s.logger.Error("send expiry reminder", "item", item.ID, "error", err)
			}
		}
	}

	// Marked even with zero subscriptions, so a later subscriber is not
	// flooded with reminders for long-expired items.
	if err := s.push.MarkNotified(item.ID); err != nil {
		s.logger.Error("mark notified", "item", item.ID, "error", err)
	}
}
