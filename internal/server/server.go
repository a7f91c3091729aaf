package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/events"
	"github.com/ifuryst/cascade/internal/metrics"
	"github.com/ifuryst/cascade/internal/models"
	"github.com/ifuryst/cascade/internal/service"
	"github.com/ifuryst/cascade/internal/service/assets"
	"github.com/ifuryst/cascade/internal/service/automation"
	"github.com/ifuryst/cascade/internal/service/feed"
	"github.com/ifuryst/cascade/internal/service/ingest"
	"github.com/ifuryst/cascade/internal/service/rewrite"
	"github.com/ifuryst/cascade/internal/service/store"
)

type (
	Ingestor interface {
		Ingest(ctx context.Context, item ingest.PushedItem) (*ingest.IngestResult, error)
		Sync(ctx context.Context) (*ingest.SyncResult, error)
		ImportHistory(ctx context.Context, accountID string, limit int) (*ingest.ImportResult, error)
		RewriteVariants(ctx context.Context, articleID uint, n int) ([]ingest.VariantResult, error)
		Wait()
	}

	SchedulerControl interface {
		Start(ctx context.Context) error
		Stop() error
		SetSyncInterval(ctx context.Context, minutes int) error
		SyncInterval() int
		SyncCount() int64
		Sweeping() bool
	}

	TaskService interface {
		CreateTask(ctx context.Context, task *models.PublishTask) error
		GetTask(ctx context.Context, id uint) (*models.PublishTask, error)
		ListTasks(ctx context.Context, userID uint, page, pageSize int) ([]models.PublishTask, int64, error)
		PublishChain(ctx context.Context, req service.ChainRequest) error
		DeleteRemote(ctx context.Context, userID uint, accountID *uint, title, contentPrefix string) (bool, error)
	}

	ArticleAdmin interface {
		DeleteArticlesByAccount(ctx context.Context, sourceAccountID string) (int64, error)
	}

	AccountAdmin interface {
		CreateAccount(ctx context.Context, account *models.RemoteAccount) error
		SetDefault(ctx context.Context, userID, id uint) error
	}
)

// Services are the components the HTTP surface drives.
type Services struct {
	Pipeline  Ingestor
	Scheduler SchedulerControl
	Publisher TaskService
	Articles  ArticleAdmin
	Accounts  AccountAdmin
	// Metrics serves the metrics endpoint; nil disables it.
	Metrics http.Handler
}

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Services

	bus     events.Bus
	watcher *automation.LocatorWatcher

	// background tracks follow-chains started by the HTTP surface.
	background sync.WaitGroup
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	articleStore := store.NewArticleStore(db)
	taskStore := store.NewTaskStore(db)
	accountStore := store.NewAccountStore(db)
	settingStore := store.NewSettingStore(db)
	monitoring := service.NewMonitoringService(db, logger)

	var (
		recorder      metrics.Recorder = metrics.NoopRecorder{}
		metricHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		metricHandler = metrics.Handler(reg)
	}

	var bus events.Bus = events.NopBus{}
	if cfg.Events.NATSURL != "" {
		natsBus, err := events.NewNATSBus(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		bus = natsBus
	}

	locators := automation.DefaultLocators()
	var watcher *automation.LocatorWatcher
	if cfg.Remote.LocatorsFile != "" {
		locators, err = automation.LoadLocators(cfg.Remote.LocatorsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load locators: %w", err)
		}
	}
	locatorSet := automation.NewLocatorSet(locators)
	if cfg.Remote.LocatorsFile != "" {
		watcher, err = automation.NewLocatorWatcher(cfg.Remote.LocatorsFile, locatorSet, logger)
		if err != nil {
			return nil, err
		}
	}

	timings := automation.TimingsFromConfig(cfg.Remote.Timings)
	launcher := automation.NewChromeLauncher(logger, cfg.Remote.Headless, cfg.Remote.ChromePath, timings.Navigation)
	waiter := automation.NewWaiter(logger, config.Duration(cfg.Remote.Timings.Poll, 250*time.Millisecond), recorder)
	driver := automation.NewDriver(&cfg.Remote, launcher, accountStore, locatorSet, waiter, logger)
	fetcher := assets.NewFetcher(&cfg.Assets, logger)

	publisher := service.NewPublisherService(&cfg.Ingest, taskStore, driver, fetcher, bus, recorder, monitoring, logger)

	deps := ingest.Dependencies{
		Articles: articleStore,
		Rewriter: rewrite.NewClient(&cfg.Rewrite, logger),
		Assets:   fetcher,
		Feed:     feed.NewClient(&cfg.Feed, logger),
		Failures: monitoring,
		Bus:      bus,
		Recorder: recorder,
	}
	if cfg.Ingest.PublishEnabled {
		deps.Publisher = publisher
	}
	pipeline := ingest.NewPipeline(deps, cfg.Feed.PageSize, logger)

	scheduler, err := service.NewScheduler(&cfg.Scheduler, taskStore, publisher, pipeline, settingStore, recorder, logger)
	if err != nil {
		return nil, err
	}

	srv := New(cfg, logger, Services{
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Publisher: publisher,
		Articles:  articleStore,
		Accounts:  accountStore,
		Metrics:   metricHandler,
	})
	srv.DB = db
	srv.bus = bus
	srv.watcher = watcher
	return srv, nil
}

// New builds the router around already constructed services.
func New(cfg *config.Config, logger *zap.Logger, services Services) *Server {
	srv := &Server{
		Config:   cfg,
		Router:   gin.New(),
		Logger:   logger,
		Services: services,
		bus:      events.NopBus{},
	}
	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if s.Metrics != nil {
		s.Router.GET(s.Config.Metrics.Path, gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api/v1")
	{
		api.POST("/webhook/articles", s.handleWebhookArticle)
		api.POST("/sync", s.handleSync)
		api.POST("/import-history", s.handleImportHistory)
		api.POST("/articles/:id/rewrites", s.handleRewriteVariants)
		api.DELETE("/articles", s.handleDeleteArticles)

		accounts := api.Group("/accounts")
		{
			accounts.POST("", s.handleCreateAccount)
			accounts.PUT("/:id/default", s.handleSetDefaultAccount)
		}

		scheduler := api.Group("/scheduler")
		{
			scheduler.GET("", s.handleSchedulerStatus)
			scheduler.PUT("/sync-interval", s.handleSetSyncInterval)
		}

		tasks := api.Group("/tasks")
		{
			tasks.POST("", s.handleCreateTask)
			tasks.GET("", s.handleListTasks)
			tasks.GET("/:id", s.handleGetTask)
			tasks.POST("/chain", s.handleChain)
		}

		api.DELETE("/remote-tasks", s.handleDeleteRemoteTask)
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start locator watcher: %w", err)
		}
	}

	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting work, then waits for background ingestion and
// follow-chains before closing the event bus.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Scheduler.Stop(); err != nil {
		s.Logger.Warn("Failed to stop scheduler", zap.Error(err))
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(shutdownCtx)
	}

	s.Pipeline.Wait()
	s.background.Wait()

	if cerr := s.bus.Close(); cerr != nil {
		s.Logger.Warn("Failed to close event bus", zap.Error(cerr))
	}
	return err
}
