package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"larder/internal/backup"
	"larder/internal/cleanup"
	"larder/internal/config"
	"larder/internal/handler"
	"larder/internal/middleware"
	"larder/internal/push"
	"larder/internal/store"
	syncpkg "larder/internal/sync"
	ws "larder/internal/websocket"
)

type Server struct {
	db  *sql.DB
	cfg *config.Config
	hub *ws.Hub

	authH     *handler.AuthHandler
	itemH     *handler.ItemHandler
	familyH   *handler.FamilyHandler
	mealPlanH *handler.MealPlanHandler
	pushH     *handler.PushHandler
	backupH   *handler.BackupHandler

	sessionStore *store.SessionStore
	userStore    *store.UserStore

	feed          *syncpkg.Feed
	mirrors       *syncpkg.Manager
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	pushScheduler *push.Scheduler
	cleanupRunner *cleanup.Runner
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	feed := syncpkg.NewFeed()

	// Every committed mutation goes through the feed; the hub bridge relays
	// it to connected clients in the same scope.
	feed.Subscribe(func(ev store.Event) {
		hub.Broadcast(ws.FromEvent(ev))
	})

	itemStore := store.NewItemStore(db, feed.Publish)
	planStore := store.NewMealPlanStore(db, feed.Publish)
	familyStore := store.NewFamilyStore(db, feed.Publish)
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	mirrors := syncpkg.NewManager(itemStore, planStore, feed, logger.With("component", "mirror"))

	backupMgr := backup.NewManager(cfg.Backup, cfg.DBPath, db, backupStore, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}, logger.With("component", "backup"))

	var pushSvc *push.Service
	var pushSched *push.Scheduler
	var pushH *handler.PushHandler
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
		pushSched = push.NewScheduler(pushSvc, pushStore, cfg.Push.ExpiryLead, logger.With("component", "push"))
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}

	secret := []byte(cfg.TokenSecret)

	return &Server{
		db:  db,
		cfg: cfg,
		hub: hub,

		authH:     handler.NewAuthHandler(userStore, sessionStore, secret, cfg.SessionTTL, logger.With("component", "auth")),
		itemH:     handler.NewItemHandler(itemStore, mirrors, logger.With("component", "item")),
		familyH:   handler.NewFamilyHandler(familyStore, mirrors, logger.With("component", "family")),
		mealPlanH: handler.NewMealPlanHandler(planStore, mirrors, logger.With("component", "mealplan")),
		pushH:     pushH,
		backupH:   handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup_handler")),

		sessionStore: sessionStore,
		userStore:    userStore,

		feed:          feed,
		mirrors:       mirrors,
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupMgr,
		pushScheduler: pushSched,
		cleanupRunner: cleanup.NewRunner(itemStore, sessionStore, backupStore, logger.With("component", "cleanup")),
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// PushScheduler returns the push reminder scheduler, nil when push is not
// configured.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

// CleanupRunner returns the periodic maintenance runner.
func (s *Server) CleanupRunner() *cleanup.Runner {
	return s.cleanupRunner
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth([]byte(s.cfg.TokenSecret), s.sessionStore, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Item API routes
	mux.HandleFunc("GET /api/items", s.itemH.List)
	mux.HandleFunc("POST /api/items", s.itemH.Create)
	mux.HandleFunc("GET /api/items/{id}", s.itemH.Get)
	mux.HandleFunc("PUT /api/items/{id}", s.itemH.Update)
	mux.HandleFunc("DELETE /api/items/{id}", s.itemH.Delete)
	mux.HandleFunc("GET /api/pantry", s.itemH.ListPantry)
	mux.HandleFunc("GET /api/shopping-list", s.itemH.ListShopping)

	// Quantity adjustments
	mux.HandleFunc("POST /api/items/{id}/adjust", s.itemH.Adjust)
	mux.HandleFunc("GET /api/items/{id}/last-adjustment", s.itemH.LastAdjustment)
	mux.HandleFunc("POST /api/items/{id}/undo-adjustment", s.itemH.UndoAdjustment)
	mux.HandleFunc("POST /api/items/purge-consumed", s.itemH.PurgeConsumed)

	// Meal plan API routes
	mux.HandleFunc("GET /api/mealplan/{date}", s.mealPlanH.Day)
	mux.HandleFunc("POST /api/mealplan/meals", s.mealPlanH.AddMeal)
	mux.HandleFunc("DELETE /api/mealplan/meals/{id}", s.mealPlanH.RemoveMeal)
	mux.HandleFunc("POST /api/mealplan/meals/{id}/cook", s.mealPlanH.Cook)
	mux.HandleFunc("POST /api/mealplan/meals/{id}/uncook", s.mealPlanH.Uncook)

	// Family API routes
	mux.HandleFunc("GET /api/family", s.familyH.Current)
	mux.HandleFunc("POST /api/family", s.familyH.Create)
	mux.HandleFunc("POST /api/family/join", s.familyH.Join)
	mux.HandleFunc("POST /api/family/copy-items", s.familyH.CopyItems)
	mux.HandleFunc("POST /api/family/leave", s.familyH.Leave)
	mux.HandleFunc("DELETE /api/family", s.familyH.Delete)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// Backup API routes
	mux.HandleFunc("GET /api/backup/status", s.backupH.Status)
	mux.HandleFunc("GET /api/backup/history", s.backupH.History)
	mux.HandleFunc("POST /api/backup/run", s.backupH.Run)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.mirrors, s.logger.With("component", "websocket")))
}
