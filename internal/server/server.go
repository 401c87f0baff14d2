package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/mwehrli/carillon/internal/alert"
	"github.com/mwehrli/carillon/internal/api"
	"github.com/mwehrli/carillon/internal/audio"
	"github.com/mwehrli/carillon/internal/auth"
	"github.com/mwehrli/carillon/internal/config"
	"github.com/mwehrli/carillon/internal/holidays"
	"github.com/mwehrli/carillon/internal/schedule"
	"github.com/mwehrli/carillon/internal/store"
)

// App owns every service and is passed to the route handlers. Construction
// order is part of the contract: config store, holiday resolver, audio,
// scheduler, then the HTTP surface.
type App struct {
	cfg        config.Config
	logger     *log.Logger
	store      *store.Store
	resolverMu sync.RWMutex
	resolver   *holidays.Resolver
	player     *audio.Player
	alerts    *alert.Controller
	scheduler *schedule.Scheduler
	cron      *cron.Cron
	watcher   *store.Watcher
	stream    *statusHub
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLoggerMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Printf("%s %s %d %s", r.Method, r.URL.RequestURI(), wrapped.status, time.Since(start).Round(time.Millisecond))
		})
	}
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, logger *log.Logger) (http.Handler, func(context.Context) error, error) {
	if logger == nil {
		logger = log.Default()
	}

	st := store.New(cfg.ConfigDir, logger)
	st.LoadAll()

	resolver := buildResolver(cfg, st, logger, false)

	player, err := audio.NewPlayer(cfg.MP3Dir, logger)
	if err != nil {
		return nil, nil, err
	}
	alerts := alert.New(player, logger)

	scheduler := schedule.New(st.ScheduleSnapshot(), resolver, player, cfg.LookaheadLimitDays, logger)
	go scheduler.Run()

	app := &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		resolver:  resolver,
		player:    player,
		alerts:    alerts,
		scheduler: scheduler,
	}
	app.stream = newStatusHub(app)

	// Nightly calendar refresh: holidays and vacations change rarely, but a
	// running instance should pick up the new academic year by itself.
	app.cron = cron.New()
	if _, err := app.cron.AddFunc("10 4 * * *", func() { app.refreshCalendars(true) }); err != nil {
		return nil, nil, err
	}
	app.cron.Start()

	watcher, err := store.NewWatcher(st, logger, func() {
		app.notifyScheduler()
	})
	if err != nil {
		logger.Printf("config watcher unavailable: %v", err)
	} else {
		app.watcher = watcher
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg.SessionSecret, st))

	router.Method(http.MethodGet, "/api/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteOK(w, "ok")
	}))

	auth.RegisterRoutes(router, st, cfg.SessionSecret, time.Duration(cfg.SessionExpirySec)*time.Second, logger)
	app.registerControlRoutes(router)
	app.registerConfigRoutes(router)

	shutdown := func(ctx context.Context) error {
		app.cron.Stop()
		if app.watcher != nil {
			_ = app.watcher.Close()
		}
		app.stream.close()
		app.scheduler.Shutdown()
		app.alerts.Shutdown()
		return nil
	}
	return router, shutdown, nil
}

// buildResolver creates and loads a fresh holiday resolver from the current
// settings. Reloads replace the instance atomically.
func buildResolver(cfg config.Config, st *store.Store, logger *log.Logger, force bool) *holidays.Resolver {
	settings := st.Settings()
	resolver := holidays.NewResolver(cfg.ConfigDir, logger)
	resolver.LoadHolidays(settings.HolidayAPIURL, settings.HolidayCountryCode, force)
	resolver.LoadVacations(settings.Zone, st.VacationSettings().ICSFilePath, settings.ManualICSBaseURL)
	return resolver
}

// notifyScheduler pushes the current store snapshot into the scheduler.
func (app *App) notifyScheduler() {
	app.scheduler.ReloadConfig(app.store.ScheduleSnapshot(), nil)
}

func (app *App) currentResolver() *holidays.Resolver {
	app.resolverMu.RLock()
	defer app.resolverMu.RUnlock()
	return app.resolver
}

func (app *App) setResolver(resolver *holidays.Resolver) {
	app.resolverMu.Lock()
	app.resolver = resolver
	app.resolverMu.Unlock()
}

// refreshCalendars rebuilds the holiday resolver and swaps it into the
// scheduler.
func (app *App) refreshCalendars(force bool) {
	app.logger.Printf("refreshing holiday and vacation calendars (force=%v)", force)
	resolver := buildResolver(app.cfg, app.store, app.logger, force)
	app.setResolver(resolver)
	app.scheduler.ReloadConfig(app.store.ScheduleSnapshot(), resolver)
}

// reloadAll re-reads every configuration file, rebuilds the resolver, and
// notifies the scheduler. The per-file status map reports partial failures.
func (app *App) reloadAll() map[string]string {
	statuses := app.store.LoadAll()
	resolver := buildResolver(app.cfg, app.store, app.logger, false)
	app.setResolver(resolver)
	app.scheduler.ReloadConfig(app.store.ScheduleSnapshot(), resolver)

	result := make(map[string]string, len(statuses))
	for file, err := range statuses {
		if err != nil {
			result[file] = err.Error()
		} else {
			result[file] = "ok"
		}
	}
	return result
}
