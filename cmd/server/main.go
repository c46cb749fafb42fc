package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/handlers"
	"sure_app_go/logger"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"
	"sure_app_go/services/jobs"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log := logger.Init(cfg.Environment)

	// Initialize database
	if err := db.Initialize(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	if err := services.EnsureDefaultProtectedEndpoints(db.DB); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up guard endpoints")
	}

	services.InitializeStorage(cfg)

	sender, err := services.NewSMSSender(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SMS gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := jobs.NewRegistry(db.DB, services.Storage, cfg)
	taskQueue, closeQueue, err := jobs.NewQueue(ctx, cfg, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize task queue")
	}
	handlers.Configure(sender, taskQueue)

	scheduler, err := jobs.NewScheduler(db.DB, cfg, sender)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	scheduler.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(log))
	e.Use(middleware.Recovery(log))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderContentType, middleware.CSRFHeaderName},
	}))
	e.Use(middleware.WithConfig(cfg))
	e.Use(middleware.Locale())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Public routes (no authentication required)
	publicLimit := middleware.RateLimit(middleware.PublicLimit)

	public := e.Group("/api")
	public.Use(middleware.OptionalAuth())
	public.Use(middleware.AuditContext())
	public.Use(middleware.Guard(cfg))
	{
		cases := public.Group("/cases/:id")
		cases.Use(publicLimit)
		cases.GET("/questionnaire", handlers.GetClientQuestionnaireHandler)
		cases.POST("/answers", handlers.SubmitClientAnswersHandler)
		cases.POST("/key", handlers.SetCaseKeyHandler)
		cases.GET("/results", handlers.GetClientResultsHandler)
		cases.GET("/connection", handlers.GetConnectionHandler)
		cases.POST("/token", handlers.SendTokenHandler, middleware.RateLimit(middleware.TokenLimit))
		cases.POST("/connect", handlers.ConnectCaseHandler)

		public.GET("/locations/:id/banners", handlers.GetBannersHandler, publicLimit)

		public.POST("/auth/login", handlers.LoginHandler, middleware.RateLimit(middleware.LoginLimit))
	}

	// Session routes
	session := e.Group("/api")
	session.Use(middleware.RequireAuth())
	session.Use(middleware.CSRF(cfg))
	session.Use(middleware.AuditContext())
	{
		session.GET("/me", handlers.MeHandler)
		session.POST("/auth/logout", handlers.LogoutHandler)
	}

	// Internal routes (consultants, admins and superusers)
	internal := e.Group("/api/internal")
	internal.Use(middleware.RequireAuth())
	internal.Use(middleware.CSRF(cfg))
	internal.Use(middleware.AuditContext())
	{
		internal.GET("/questionnaires", handlers.ListQuestionnairesHandler)
		internal.GET("/locations", handlers.ListLocationsHandler)
		internal.GET("/tags", handlers.ListTagsHandler)
		internal.GET("/test-kinds", handlers.ListTestKindsHandler)

		internal.POST("/cases", handlers.CreateCaseHandler)
		internal.POST("/cases/search", handlers.SearchCasesHandler)

		cases := internal.Group("/cases/:id")
		cases.GET("", handlers.GetCaseHandler)
		cases.GET("/questionnaire", handlers.GetCaseQuestionnaireHandler)
		cases.GET("/history", handlers.GetCaseHistoryHandler)
		cases.POST("/client-answers", handlers.RecordClientAnswersHandler)
		cases.POST("/consultant-answers", handlers.RecordConsultantAnswersHandler)
		cases.PUT("/tests", handlers.SetTestsHandler)
		cases.POST("/results", handlers.RecordResultHandler)
		cases.GET("/results", handlers.GetResultsHandler)
		cases.POST("/publish", handlers.PublishResultsHandler)
		cases.PUT("/tags", handlers.SetTagsHandler)
		cases.POST("/status", handlers.ChangeCaseStatusHandler)
		cases.POST("/notes", handlers.AddNoteHandler)
		cases.POST("/documents", handlers.UploadDocumentHandler)
		cases.GET("/documents/:docId", handlers.DownloadDocumentHandler)
		cases.POST("/lab-order", handlers.CreateLabOrderHandler)
		cases.GET("/lab-orders", handlers.ListLabOrdersHandler)
		cases.POST("/lab-orders/:orderNumber/cancel", handlers.CancelLabOrderHandler)

		internal.POST("/lab/results", handlers.ReceiveLabResultHandler, middleware.RequireSuperuser())

		internal.POST("/exports", handlers.StartExportHandler)
		internal.GET("/exports/:exportId", handlers.GetExportHandler)
		internal.GET("/exports/:exportId/file", handlers.DownloadExportHandler)
		internal.GET("/cohort", handlers.CohortHandler)
	}

	// Start server
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Server starting")
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	<-scheduler.Stop().Done()
	closeQueue()
}
