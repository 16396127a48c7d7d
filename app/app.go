package chatrooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/putto11262002/chatrooms/core"
	"github.com/putto11262002/chatrooms/pkg/router"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *Config
	db      *core.SQLiteDB
	context context.Context
	server  *http.Server
	logger  *slog.Logger
	router  *router.Router
	metrics *prometheus.Registry

	userStore    *core.SQLiteUserStore
	roomStore    *core.SQLiteRoomStore
	messageStore *core.SQLiteMessageStore

	registry    *core.GroupRegistry
	broadcaster *core.Broadcaster
	feed        *core.RoomFeed
	sessions    *core.SessionServer

	userHandler *UserHandler
	roomHandler *RoomHandler

	cleanupFuncs []func(context.Context) error
	closeOnce    sync.Once
}

// New wires every component from config. The app serves until ctx is done.
func New(ctx context.Context, config *Config) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	app := &App{config: config, context: ctx, logger: newLogger(config.LogLevel)}

	if endpoint := config.Telemetry.OTLPEndpoint; endpoint != "" {
		shutdown, err := initTracing(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		app.AddCleanupFunc(shutdown)
	}

	var err error
	app.db, err = core.NewSQLiteDB(config.SQLite.File, &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
		ForeignKeys: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := app.db.Migrate(); err != nil {
		app.db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	media, err := core.NewMediaResolver(config.Media.BaseURL)
	if err != nil {
		app.db.Close()
		return nil, fmt.Errorf("media base url: %w", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.roomStore = core.NewSQLiteRoomStore(app.db.DB, app.userStore)
	app.messageStore = core.NewSQLiteMessageStore(app.db.DB)

	app.metrics = prometheus.NewRegistry()
	app.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := core.NewMetrics(app.metrics)

	app.registry = core.NewGroupRegistry()
	app.broadcaster = core.NewBroadcaster(app.registry,
		core.WithBroadcasterLogger(app.logger),
		core.WithBroadcasterMetrics(metrics))
	app.feed = core.NewRoomFeed(app.broadcaster)

	verifier := core.NewTokenVerifier(config.Auth.Secret)
	issuer := core.NewTokenIssuer(config.Auth.Secret, config.Auth.TokenTTL)
	history := core.NewHistoryLoader(app.messageStore, media, config.History.Limit)

	app.sessions = core.NewSessionServer(verifier, app.userStore, app.roomStore, app.messageStore,
		history, media, app.broadcaster,
		core.WithSessionLogger(app.logger),
		core.WithSessionMetrics(metrics),
		core.WithSendBuffer(config.WS.SendBuffer),
		core.WithCheckOrigin(originChecker(config.AllowedOrigins)),
	)

	app.userHandler = NewUserHandler(app.userStore, issuer, media)
	app.roomHandler = NewRoomHandler(app.roomStore, history, app.feed)

	app.routes(core.JWTMiddleware(verifier, app.userStore))

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if config.tlsEnabled() {
		app.server.TLSConfig = defaultTLSConfig.Clone()
	}

	// cleanup runs in reverse: server first, then sessions, then storage.
	app.AddCleanupFunc(func(context.Context) error { return app.db.Close() })
	app.AddCleanupFunc(app.sessions.Shutdown)
	app.AddCleanupFunc(app.server.Shutdown)

	return app, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

func (app *App) routes(authMiddleware router.Middleware) {
	app.router = router.New(router.WithLogger(app.logger))
	registerErrors(app.router)

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Sec-WebSocket-Protocol"},
		AllowCredentials: true,
	}))

	app.router.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	app.router.Router.Handle("/metrics", promhttp.HandlerFor(app.metrics, promhttp.HandlerOpts{}))

	app.router.Router.Get("/ws/chat/{roomID}", func(w http.ResponseWriter, r *http.Request) {
		app.sessions.ServeChat(w, r, chi.URLParam(r, "roomID"))
	})
	app.router.Router.Get("/ws/rooms", app.sessions.ServeRoomFeed)

	app.router.Route("/api", func(api *router.Router) {
		api.Router.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "api",
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}))
		})

		api.Post("/users/register", app.userHandler.RegisterUserHandler)
		api.Post("/auth/token", app.userHandler.TokenHandler)
		api.Get("/rooms", app.roomHandler.ListRoomsHandler)

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)
			r.Get("/users", app.userHandler.ListUsersHandler)
			r.Get("/users/profile", app.userHandler.ProfileHandler)
			r.Put("/users/profile", app.userHandler.UpdateProfileHandler)
			r.Post("/rooms", app.roomHandler.CreateRoomHandler)
			r.Post("/rooms/{roomID}/join", app.roomHandler.JoinRoomHandler)
			r.Delete("/rooms/{roomID}", app.roomHandler.DeleteRoomHandler)
			r.Get("/rooms/{roomID}/messages", app.roomHandler.RoomMessagesHandler)
		})
	})
}

// registerErrors maps the core sentinels to REST responses.
func registerErrors(r *router.Router) {
	r.RegisterError(core.ErrConflictedUser, http.StatusConflict)
	r.RegisterError(core.ErrBadCredentials, http.StatusUnauthorized)
	r.RegisterError(core.ErrInvalidUserList, http.StatusBadRequest)
	r.RegisterError(core.ErrInvalidMessage, http.StatusBadRequest)
	r.RegisterError(core.ErrNotRoomOwner, http.StatusForbidden)
	r.RegisterError(core.ErrRoomNotFound, http.StatusNotFound)
	r.RegisterError(core.ErrUserNotFound, http.StatusNotFound)
	r.RegisterError(core.ErrNotAParticipant, http.StatusForbidden)
	r.RegisterError(core.ErrUnknownRoomType, http.StatusForbidden)
	r.RegisterErrorMapper(core.ErrAuth, func(error) router.JsonError {
		return router.NewJsonError(http.StatusUnauthorized, "unauthenticated")
	})
}

// originChecker accepts the websocket upgrade when the Origin header is allowed.
// A "*" entry or a request without Origin is always accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Handler exposes the full HTTP surface, mostly for tests.
func (app *App) Handler() http.Handler {
	return app.router
}

// Start serves until the app context is done, then shuts every component down.
func (app *App) Start() error {
	app.logger.Info(fmt.Sprintf("app running on: %s:%d", app.config.Hostname, app.config.Port))

	errCh := make(chan error, 1)
	go func() {
		var err error
		if app.config.tlsEnabled() {
			err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-app.context.Done():
	case serveErr = <-errCh:
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		app.logger.Error(fmt.Sprintf("app shutdown: %v", err))
		return errors.Join(serveErr, err)
	}
	app.logger.Info("app shutdown gracefully")
	return serveErr
}

func (app *App) AddCleanupFunc(f func(context.Context) error) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

// Close runs the cleanup funcs once, most recently added first.
func (app *App) Close(ctx context.Context) error {
	var errs []error
	app.closeOnce.Do(func() {
		for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
			if err := app.cleanupFuncs[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
