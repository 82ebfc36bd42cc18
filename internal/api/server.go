package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/foxzi/disparos/internal/config"
	"github.com/foxzi/disparos/internal/dispatch"
	"github.com/foxzi/disparos/internal/ipfilter"
	"github.com/foxzi/disparos/internal/metrics"
	"github.com/foxzi/disparos/internal/models"
	"github.com/foxzi/disparos/internal/ratelimit"
	"github.com/foxzi/disparos/internal/repository"
	"github.com/foxzi/disparos/internal/webhook"
)

// WebhookTester probes a webhook URL
type WebhookTester interface {
	Test(ctx context.Context, url string) *webhook.TestResult
}

// SheetFetcher downloads shared Google Sheets
type SheetFetcher interface {
	FetchGoogleSheet(ctx context.Context, link string) (*models.ParsedData, error)
}

// ServerOptions contains all options for creating a server
type ServerOptions struct {
	Config     *config.APIConfig
	Import     *config.ImportConfig
	Batches    *repository.BatchRepository
	Campaigns  *repository.CampaignRepository
	Settings   *repository.SettingsRepository
	History    *repository.HistoryRepository
	Dispatcher *dispatch.Dispatcher
	Limiter    ratelimit.Limiter
	Webhook    WebhookTester
	Sheets     SheetFetcher
	Logger     *slog.Logger
	Version    string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.APIConfig
	importCfg  *config.ImportConfig
	batches    *repository.BatchRepository
	campaigns  *repository.CampaignRepository
	settings   *repository.SettingsRepository
	history    *repository.HistoryRepository
	dispatcher *dispatch.Dispatcher
	limiter    ratelimit.Limiter
	webhook    WebhookTester
	sheets     SheetFetcher
	ipFilter   *ipfilter.Filter
	logger     *slog.Logger
	version    string
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	importCfg := opts.Import
	if importCfg == nil {
		importCfg = &config.ImportConfig{MaxUploadBytes: 10 << 20, DefaultBatchSize: 50}
	}

	s := &Server{
		router:     chi.NewRouter(),
		config:     opts.Config,
		importCfg:  importCfg,
		batches:    opts.Batches,
		campaigns:  opts.Campaigns,
		settings:   opts.Settings,
		history:    opts.History,
		dispatcher: opts.Dispatcher,
		limiter:    opts.Limiter,
		webhook:    opts.Webhook,
		sheets:     opts.Sheets,
		ipFilter:   ipfilter.New(opts.Config.AllowedIPs, opts.Logger),
		logger:     opts.Logger,
		version:    opts.Version,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.ipFilter.HTTPMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", UserIDHeader},
			MaxAge:         300,
		}))
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.userMiddleware)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Post("/settings/webhook/test", s.handleTestWebhook)
		r.Get("/usage", s.handleUsage)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Post("/{id}/archive", s.handleArchiveCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Post("/preview", s.handlePreviewImport)
			r.Post("/", s.handleCreateImport)
			r.Post("/example", s.handleExampleImport)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Get("/{id}", s.handleGetBatch)
			r.Post("/{id}/send", s.handleSendBatch)
			r.Post("/{id}/schedule", s.handleScheduleBatch)
			r.Post("/{id}/unschedule", s.handleUnscheduleBatch)
			r.Post("/{id}/reset", s.handleResetBatch)
			r.Delete("/{id}", s.handleDeleteBatch)
		})

		r.Get("/history", s.handleListHistory)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
