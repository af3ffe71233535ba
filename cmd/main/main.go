package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/blipee/aiqueue/src/advisor"
	"github.com/blipee/aiqueue/src/breaker"
	"github.com/blipee/aiqueue/src/budget"
	"github.com/blipee/aiqueue/src/cache"
	"github.com/blipee/aiqueue/src/config"
	"github.com/blipee/aiqueue/src/handlers"
	"github.com/blipee/aiqueue/src/ledger"
	"github.com/blipee/aiqueue/src/middleware"
	"github.com/blipee/aiqueue/src/models"
	"github.com/blipee/aiqueue/src/orchestrator"
	"github.com/blipee/aiqueue/src/providers"
	"github.com/blipee/aiqueue/src/scheduler"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	} else {
		log.Println("✅ Loaded .env file")
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("✓ Config loaded successfully")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("✓ Redis connected")

	registry := providers.NewRegistry()
	for _, pc := range cfg.Providers {
		var adapter models.Provider
		switch pc.Kind {
		case "langchain":
			adapter, err = providers.NewLangChainAdapter(pc.Name, pc.APIKey, pc.Endpoint, pc.Model)
		default:
			adapter, err = providers.NewOpenAIAdapter(pc.Name, pc.APIKey, pc.Endpoint, pc.Model)
		}
		if err != nil {
			log.Fatalf("Failed to initialize provider %s: %v", pc.Name, err)
		}
		if err := registry.Register(adapter); err != nil {
			log.Fatalf("Failed to register provider %s: %v", pc.Name, err)
		}
		log.Printf("  - %s (%s, model %s)", pc.Name, pc.Kind, pc.Model)
	}
	log.Printf("✓ Provider registry ready with %d providers", registry.Len())

	breakers := breaker.NewSet(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout)
	strategy := providers.NewCheapestAvailable(registry, breakers)

	costLedger := ledger.New(redisClient, cfg.Ledger.BucketWidth)
	guard := budget.NewGuard(redisClient, costLedger)
	adv := advisor.New(costLedger, guard)
	log.Printf("✓ Cost ledger and budget guard initialized (bucket width %s)", cfg.Ledger.BucketWidth)

	semCache := cache.NewSemanticCache(redisClient, cache.Options{
		TTL:                 cfg.Cache.TTL,
		CapacityPerScope:    cfg.Cache.CapacityPerScope,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
	})
	embedder := cache.NewOpenAIEmbedder(cfg.Embedding.APIKey)
	log.Printf("✓ Semantic cache enabled (threshold: %.2f)", cfg.Cache.SimilarityThreshold)

	orch := orchestrator.New(registry, strategy, breakers, semCache, embedder, costLedger, guard)

	sched := scheduler.New(scheduler.Config{
		Workers:         cfg.Queue.Workers,
		StarvationLimit: cfg.Queue.StarvationLimit,
		Retention:       cfg.Queue.RetentionWindow,
	}, orch)
	orch.AttachScheduler(sched)
	sched.Start()
	defer sched.Stop()
	log.Printf("✓ Scheduler running with %d workers", cfg.Queue.Workers)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(corsMiddleware())

	requestHandler := handlers.NewRequestHandler(orch)
	adminHandler := handlers.NewAdminHandler(guard, adv)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", requestHandler.HealthCheck)

		v1.POST("/requests", requestHandler.HandleSubmit)
		v1.GET("/requests/:id", requestHandler.HandleStatus)
		v1.DELETE("/requests/:id", requestHandler.HandleCancel)

		admin := v1.Group("/admin")
		{
			admin.PUT("/orgs/:org_id/budget", adminHandler.HandleSetBudget)
			admin.GET("/orgs/:org_id/budget", adminHandler.HandleGetBudget)
			admin.GET("/orgs/:org_id/alerts", adminHandler.HandleListAlerts)
			admin.POST("/alerts/:alert_id/acknowledge", adminHandler.HandleAcknowledgeAlert)
			admin.GET("/orgs/:org_id/recommendations", adminHandler.HandleRecommendations)
			admin.GET("/orgs/:org_id/usage", adminHandler.HandleUsage)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("🚀 AI orchestration queue running on port %s", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func corsMiddleware() gin.HandlerFunc {
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	var allowedOrigins []string

	if allowedOriginsEnv != "" {
		allowedOrigins = strings.Split(allowedOriginsEnv, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	} else {
		// Default for local development
		allowedOrigins = []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Allow requests without Origin header (health checks, curl, Postman)
		if origin == "" {
			c.Next()
			return
		}

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				allowed = true
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		if !allowed {
			c.AbortWithStatus(403)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
