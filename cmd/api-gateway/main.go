package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/campus-dwa-api/api/swagger"
	"github.com/noah-isme/campus-dwa-api/internal/handler"
	"github.com/noah-isme/campus-dwa-api/internal/middleware"
	"github.com/noah-isme/campus-dwa-api/internal/models"
	"github.com/noah-isme/campus-dwa-api/internal/repository"
	"github.com/noah-isme/campus-dwa-api/internal/service"
	"github.com/noah-isme/campus-dwa-api/pkg/cache"
	"github.com/noah-isme/campus-dwa-api/pkg/config"
	"github.com/noah-isme/campus-dwa-api/pkg/database"
	"github.com/noah-isme/campus-dwa-api/pkg/jobs"
	"github.com/noah-isme/campus-dwa-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-dwa-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-dwa-api/pkg/middleware/requestid"
)

// @title Campus Data Workflow Automation API
// @version 0.1.0
// @description Mediated update request workflow for institutional records
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
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	auditRepo := repository.NewAuditRepository(db)
	requestRepo := repository.NewRequestRepository(db, auditRepo)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	schema := service.NewConfigFieldSchema(cfg.Workflow.EditableFields)

	workflowOpts := []service.WorkflowServiceOption{
		service.WithTransitionObserver(metricsSvc),
	}
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		workflowOpts = append(workflowOpts, service.WithWorkflowCache(cacheRepo, cfg.Cache.TTL))
	}

	var workflowSvc *service.WorkflowService
	if cfg.Workflow.AutoApply {
		applyQueue := jobs.NewQueue("apply", func(ctx context.Context, job jobs.Job) error {
			_, err := workflowSvc.Apply(ctx, job.RequestID, models.SystemPrincipal())
			return err
		}, jobs.QueueConfig{
			Workers:    cfg.Workflow.ApplyWorkers,
			BufferSize: cfg.Workflow.ApplyQueueBuffer,
			MaxRetries: cfg.Workflow.ApplyRetries,
			RetryDelay: cfg.Workflow.ApplyRetryDelay,
			Logger:     logr,
		})
		applyQueue.Start(context.Background())
		defer applyQueue.Stop()
		workflowOpts = append(workflowOpts, service.WithApplyScheduler(queueScheduler{queue: applyQueue}))
	}
	workflowSvc = service.NewWorkflowService(requestRepo, auditRepo, studentRepo, schema, logr, workflowOpts...)

	studentSvc := service.NewStudentService(studentRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(workflowSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/auth/me", middleware.JWT(authSvc), authHandler.Me)
	api.GET("/students/:id", middleware.JWT(authSvc), studentHandler.Get)

	requests := api.Group("/requests", middleware.JWT(authSvc))
	requests.POST("", middleware.RequireRoles(models.RoleStudent), requestHandler.Submit)
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.GET("/:id/audit", requestHandler.AuditTrail)
	requests.POST("/:id/decision", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), requestHandler.Decide)
	requests.POST("/:id/apply", middleware.RequireRoles(models.RoleStaff, models.RoleAdmin), requestHandler.Apply)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// queueScheduler bridges the workflow engine to the in-memory apply queue.
type queueScheduler struct {
	queue *jobs.Queue
}

func (s queueScheduler) ScheduleApply(requestID string) error {
	return s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), RequestID: requestID})
}
