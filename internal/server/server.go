// Package server assembles the extension host: capability providers,
// the runtime registry, the event bridge and the HTTP/WebSocket
// surface.
package server

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nebulaide/backend/internal/bridge"
	"github.com/nebulaide/backend/internal/bus"
	"github.com/nebulaide/backend/internal/capability"
	"github.com/nebulaide/backend/internal/config"
	"github.com/nebulaide/backend/internal/http"
	"github.com/nebulaide/backend/internal/logging"
	"github.com/nebulaide/backend/internal/middleware"
	"github.com/nebulaide/backend/internal/monitoring"
	"github.com/nebulaide/backend/internal/registry"
	"github.com/nebulaide/backend/internal/store"
	"github.com/nebulaide/backend/internal/vfs"
	"github.com/nebulaide/backend/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	httpSrv *nethttp.Server
	log     *logging.Logger

	events  *bus.Bus
	tree    *vfs.Tree
	prompts *capability.Prompts
	manager *registry.Manager
	bridge  *bridge.Bridge
	metrics *monitoring.Metrics
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NewDefault()
	}

	events := bus.New()
	tree := vfs.New()
	prompts := capability.NewPrompts()
	metrics := monitoring.NewMetrics()

	backend, err := store.New(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	caps := capability.NewRegistry()
	// No host editor is attached at boot; the editor capability degrades
	// gracefully until the UI connects one.
	for _, p := range []capability.Provider{
		capability.NewEditor(nil),
		capability.NewTerminal(events),
		capability.NewUI(events, prompts),
		capability.NewFiles(tree, events),
		capability.NewStorage(backend),
	} {
		if err := caps.Register(p); err != nil {
			return nil, err
		}
	}

	manager := registry.NewManager(registry.Config{
		ActivationTimeout: cfg.Extensions.ActivationTimeout,
		DeactivateGrace:   cfg.Extensions.DeactivateGrace,
		ExecTimeout:       cfg.Extensions.ExecTimeout,
		Metrics:           metrics,
	}, caps, events, log)

	eventBridge := bridge.New(events, manager)
	eventBridge.Start()

	// Pre-installed extensions
	seeder := registry.NewSeeder(manager, cfg.Extensions.Dir)
	if _, err := seeder.Seed(); err != nil {
		log.Warn("extension seeding failed", zap.Error(err))
	}
	manager.ActivateEager(context.Background())

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(monitoring.Middleware(metrics))

	handlers := http.NewHandlers(manager, caps, tree, events)
	wsHandler := ws.NewHandler(events, prompts, log, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", metrics.Handler())

	// Extension lifecycle
	router.GET("/extensions", handlers.ListExtensions)
	router.POST("/extensions", handlers.InstallExtension)
	router.GET("/extensions/:id/status", handlers.ExtensionStatus)
	router.POST("/extensions/:id/activate", handlers.ActivateExtension)
	router.POST("/extensions/:id/deactivate", handlers.DeactivateExtension)
	router.POST("/extensions/:id/reload", handlers.ReloadExtension)

	// Commands
	router.GET("/commands", handlers.ListCommands)
	router.POST("/commands/execute", handlers.ExecuteCommand)

	// Capabilities
	router.GET("/capabilities", handlers.ListCapabilities)

	// Workspace files
	router.GET("/workspace/files", handlers.ListFiles)
	router.GET("/workspace/files/*path", handlers.ReadFile)
	router.PUT("/workspace/files/*path", handlers.WriteFile)
	router.DELETE("/workspace/files/*path", handlers.DeleteFile)

	// WebSocket event stream
	router.GET("/stream", wsHandler.HandleConnection)

	return &Server{
		router:  router,
		log:     log,
		events:  events,
		tree:    tree,
		prompts: prompts,
		manager: manager,
		bridge:  eventBridge,
		metrics: metrics,
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Manager exposes the runtime registry, mainly for tests.
func (s *Server) Manager() *registry.Manager {
	return s.manager
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run(addr string) error {
	s.httpSrv = &nethttp.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.log.Info("extension host listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if err == nethttp.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, deactivates all extensions and
// dismisses outstanding prompts.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.bridge.Stop()
	s.prompts.CancelAll()

	disposeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.manager.Dispose(disposeCtx)

	return err
}
