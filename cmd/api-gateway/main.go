package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/registrar-api/api/swagger"
	"github.com/noah-isme/registrar-api/internal/handler"
	"github.com/noah-isme/registrar-api/internal/middleware"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/cache"
	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/database"
	"github.com/noah-isme/registrar-api/pkg/events"
	"github.com/noah-isme/registrar-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/registrar-api/pkg/middleware/requestid"
)

// @title Registrar API
// @version 0.1.0
// @description Course enrollment, approval workflow, and grading engine
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	cacheRepo := repository.NewCacheRepository(nil, logr)
	var sink events.Sink = events.NewLogSink(logr)
	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(rdb, logr)
			sink = events.NewRedisSink(rdb, cfg.Events.RedisChannel)
		}
	}
	defer cacheRepo.Close() //nolint:errcheck

	bus := events.NewBus(sink, events.BusConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		Logger:     logr,
	})
	bus.Start(context.Background())
	defer bus.Stop()

	catalogRepo := repository.NewCatalogRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db, cfg.Engine.LockTimeout)
	gradeRepo := repository.NewGradeRepository(db, cfg.Engine.LockTimeout)
	requestRepo := repository.NewRequestRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	metricsSvc := service.NewMetricsService()
	catalogSvc := service.NewCatalogService(catalogRepo, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, bus, metricsSvc, service.EngineConfig{
		MaxRetries: cfg.Engine.MaxRetries,
		MinCredits: cfg.Engine.MinCredits,
		MaxCredits: cfg.Engine.MaxCredits,
	}, nil, logr)
	scale := models.DefaultGradeScale()
	if cfg.Grading.PlusMinusBands {
		scale = models.PlusMinusGradeScale()
	}
	gradeSvc := service.NewGradeService(gradeRepo, studentRepo, cacheRepo, bus, service.GradingOptions{
		Scale:      scale,
		PassPoints: cfg.Grading.PassPoints,
	}, nil, logr)
	approvalSvc := service.NewApprovalService(requestRepo, enrollmentSvc, bus, nil, logr)

	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, metricsSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc, cacheRepo, metricsSvc, handler.CacheTTL{
		GPA:      cfg.Cache.GPATTL,
		PassRate: cfg.Cache.PassRateTTL,
	})
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	studentHandler := handler.NewStudentHandler(studentRepo)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.Actor(cfg.JWT.Secret))
	{
		api.GET("/sections", catalogHandler.ListSections)
		api.GET("/sections/:id", catalogHandler.GetSection)
		api.GET("/sections/:id/pass-rate", gradeHandler.PassRate)
		api.GET("/courses/:id/prerequisites", catalogHandler.GetPrerequisites)
		api.GET("/terms/:id/grade-distribution", gradeHandler.Distribution)

		api.GET("/enrollments", enrollmentHandler.List)
		api.GET("/enrollments/:id", enrollmentHandler.Get)
		api.POST("/enrollments", enrollmentHandler.Request)
		api.DELETE("/enrollments/:id", enrollmentHandler.Drop)

		api.GET("/requests", approvalHandler.List)
		api.GET("/requests/:id", approvalHandler.Get)
		api.POST("/requests", approvalHandler.Submit)

		api.GET("/students/:id", studentHandler.Get)
		api.GET("/students/:id/gpa", gradeHandler.GPA)
		api.GET("/students/:id/transcript", gradeHandler.Transcript)

		admin := api.Group("")
		admin.Use(middleware.RequireRole("registrar", "admin"))
		{
			admin.POST("/sections", catalogHandler.CreateSection)
			admin.PUT("/sections/:id/grades-lock", catalogHandler.SetGradesLock)
			admin.POST("/requests/:id/decision", approvalHandler.Decide)
			admin.POST("/enrollments/:id/grade", gradeHandler.Record)
			admin.PUT("/enrollments/:id/grade", gradeHandler.Amend)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
