package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/corpusvault/corpusvault/config"
	"github.com/corpusvault/corpusvault/crypto"
	"github.com/corpusvault/corpusvault/handlers"
	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
	"github.com/corpusvault/corpusvault/services/impl"
	"github.com/corpusvault/corpusvault/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	box, err := crypto.NewBox(cfg.MasterKeyBytes())
	if err != nil {
		log.Fatal("Failed to initialize crypto:", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddress(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}

	blobs, err := impl.NewBlobStore(context.Background(), cfg.Blob)
	if err != nil {
		log.Fatal("Failed to initialize blob store:", err)
	}

	// Services
	emailSender := impl.NewLogEmailSender(cfg.Email.FromAddress)
	tokenService := impl.NewTokenService(db, box, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	customerService := impl.NewCustomerService(db, box, emailSender, tokenService, cfg)
	vectorStore := impl.NewVectorStore(db)
	queue := impl.NewJobQueue(rdb, cfg.Worker.MaxAttempts)
	rateLimiter := impl.NewRateLimiter(db)
	usageTracker := impl.NewUsageTracker(db, rdb, time.Duration(cfg.Redis.UsageCacheTTL)*time.Second)
	embedder := impl.NewEmbedder(cfg.Embedder)
	documentService := impl.NewDocumentService(db, blobs, vectorStore, queue)
	searchService := impl.NewSearchService(db, vectorStore, embedder, customerService, nil)

	// Ingestion workers
	pool := worker.NewPool(cfg.Worker, queue, blobs, impl.NewParser(), embedder, vectorStore, documentService, customerService, usageTracker)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	go runSweepers(sweepCtx, tokenService, rateLimiter)

	router := setupRouter(cfg, db, rdb, queue, customerService, tokenService, documentService, searchService, vectorStore, rateLimiter, usageTracker)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.GetServerAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Stop accepting HTTP, then drain workers, then close clients.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	stopWorkers()
	pool.Stop()
	stopSweepers()

	if err := rdb.Close(); err != nil {
		log.Printf("Redis close error: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Println("Shutdown complete")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Customer{},
		&models.CustomerConfig{},
		&models.RefreshToken{},
		&models.EmailVerification{},
		&models.Document{},
		&models.DocumentChunk{},
		&models.DocumentChunk3072{},
		&models.UsageMetric{},
		&models.RateLimitWindow{},
	); err != nil {
		return err
	}

	// Partial index: soft-deleted rows release their email for re-signup,
	// live rows stay unique even under concurrent signups.
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_email_live ON customers (email) WHERE deleted_at IS NULL",
	).Error; err != nil {
		return fmt.Errorf("failed to create email uniqueness index: %w", err)
	}

	// ANN indexes. AutoMigrate cannot express these; 3072-d exceeds the
	// HNSW limit for the default vector ops, so that table relies on exact
	// scans until halfvec is adopted.
	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON document_chunks USING hnsw (embedding vector_cosine_ops)",
	).Error; err != nil {
		log.Printf("Warning: could not create ANN index: %v", err)
	}

	return nil
}

// runSweepers periodically clears expired refresh tokens and stale rate
// limit buckets.
func runSweepers(ctx context.Context, tokens services.TokenService, limiter services.RateLimiter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := tokens.SweepExpired(ctx); err != nil {
				log.Printf("Refresh token sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Swept %d expired refresh tokens", n)
			}
			if n, err := limiter.Prune(ctx, 25*time.Hour); err != nil {
				log.Printf("Rate limit prune failed: %v", err)
			} else if n > 0 {
				log.Printf("Pruned %d rate limit buckets", n)
			}
		}
	}
}

func setupRouter(
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	queue services.JobQueue,
	customerService services.CustomerService,
	tokenService services.TokenService,
	documentService services.DocumentService,
	searchService services.SearchService,
	vectorStore services.VectorStore,
	rateLimiter services.RateLimiter,
	usageTracker services.UsageTracker,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	if !corsConfig.AllowAllOrigins {
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	authHandlers := handlers.NewAuthHandlers(customerService, tokenService)
	documentHandlers := handlers.NewDocumentHandlers(documentService, searchService, queue, usageTracker)
	profileHandlers := handlers.NewProfileHandlers(customerService, usageTracker)
	mcpHandlers := handlers.NewMCPHandlers(documentService, searchService, vectorStore)

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{"database": "ok", "redis": "ok"}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/signup", authHandlers.Signup)
		authGroup.POST("/login", authHandlers.Login)
		authGroup.POST("/refresh", authHandlers.Refresh)
		authGroup.POST("/logout", authHandlers.Logout)
		authGroup.GET("/verify-email", authHandlers.VerifyEmail)
		authGroup.POST("/resend-verification", authHandlers.ResendVerification)

		authed := authGroup.Group("")
		authed.Use(handlers.JWTAuth(tokenService))
		authed.POST("/logout-all", authHandlers.LogoutAll)
		authed.GET("/me", authHandlers.Me)
	}

	protected := api.Group("")
	protected.Use(
		handlers.JWTAuth(tokenService),
		handlers.RateLimit(rateLimiter, cfg.Limits.RateLimitPerMinute, cfg.Limits.RateLimitPerDay),
		handlers.RecordAPICall(usageTracker),
	)
	{
		docs := protected.Group("/documents")
		docs.POST("/upload", documentHandlers.Upload)
		docs.POST("/url", documentHandlers.IngestURL)
		docs.GET("", documentHandlers.List)
		docs.GET("/stats", documentHandlers.Stats)
		docs.POST("/search", documentHandlers.Search)
		docs.GET("/:id", documentHandlers.Get)
		docs.GET("/:id/status", documentHandlers.Status)
		docs.GET("/:id/download", documentHandlers.Download)
		docs.DELETE("/:id", documentHandlers.Delete)

		profile := protected.Group("/profile")
		profile.GET("", profileHandlers.GetProfile)
		profile.POST("/embedder-key", profileHandlers.SetEmbedderKey)
		profile.DELETE("/embedder-key", profileHandlers.RemoveEmbedderKey)
		profile.GET("/embedder-key", profileHandlers.EmbedderKeyStatus)
		profile.POST("/api-key/regenerate", profileHandlers.RegenerateAPIKey)

		usage := protected.Group("/usage")
		usage.GET("/summary", profileHandlers.UsageSummary)
		usage.GET("/metrics", profileHandlers.UsageMetrics)
	}

	mcp := api.Group("/mcp")
	mcp.Use(
		handlers.APIKeyAuth(customerService),
		handlers.RateLimit(rateLimiter, cfg.Limits.RateLimitPerMinute, cfg.Limits.RateLimitPerDay),
		handlers.RecordAPICall(usageTracker),
	)
	{
		mcp.POST("", mcpHandlers.HandleHTTP)
		mcp.GET("/sse", mcpHandlers.HandleSSE)
		mcp.POST("/messages", mcpHandlers.HandleSSEMessage)
	}

	return router
}
