package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/verity-labs/docvox/internal/api/handlers"
	"github.com/verity-labs/docvox/internal/config"
	"github.com/verity-labs/docvox/internal/database"
	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/jobs"
	"github.com/verity-labs/docvox/internal/openai"
	"github.com/verity-labs/docvox/internal/ratelimit"
	"github.com/verity-labs/docvox/internal/repository"
	"github.com/verity-labs/docvox/internal/server"
	"github.com/verity-labs/docvox/internal/service"
	"github.com/verity-labs/docvox/internal/storage"
	"github.com/verity-labs/docvox/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docvox API server and background ingestion worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required: embeddings and chat cannot run without it")
	}
	if !cfg.HasS3() {
		return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY_ID, and S3_SECRET_ACCESS_KEY are required for document storage")
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	websiteRepo := repository.NewWebsiteRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	s3Config := storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	}
	s3Client, err := storage.NewS3Client(ctx, s3Config)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)

	openaiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:      cfg.OpenAIAPIKey,
		MaxAttempts: cfg.EmbedMaxAttempts,
	})

	uuidGen := &service.DefaultUUIDGenerator{}
	websiteSvc := service.NewWebsiteService(websiteRepo, uuidGen)
	authSvc := service.NewAuthService(apikeyRepo, websiteRepo, uuidGen)

	retrievalSvc := service.NewRetrievalService(openaiClient, chunkRepo, service.RetrievalConfig{
		TopK:                cfg.RetrievalTopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxContextChars:     cfg.MaxContextChars,
		PerDocumentCap:      cfg.PerDocumentChunkCap,
		Timeout:             cfg.RetrievalTimeout,
	})

	ingestSvc := service.NewIngestService(documentRepo, chunkRepo, s3Client, openaiClient, service.IngestConfig{
		ChunkWindow:            cfg.ChunkWindow,
		ChunkOverlap:           cfg.ChunkOverlap,
		MaxDocumentBytes:       cfg.MaxDocumentBytes,
		MaxFailureFraction:     cfg.IngestMaxFailFraction,
		EmbedRequestsPerSecond: cfg.EmbedRequestsPerSecond,
	}).WithTxRunner(repository.NewTxRunner(pool))

	limiter := ratelimit.NewLimiter(cfg.RateWindow, cfg.RateMaxRequests)

	chatSvc := service.NewChatService(retrievalSvc, &chatModelAdapter{client: openaiClient}, chatRepo, limiter, service.ChatConfig{
		HistoryLimit:    cfg.HistoryLimit,
		WatchdogTimeout: cfg.WatchdogTimeout,
	})

	ingestWorker := jobs.NewWorker("ingest", jobs.NewIngestWorker(ingestSvc), cfg.IngestPollInterval)
	go ingestWorker.Start(ctx)
	log.Println("ingest worker started")

	maintenanceWorker := jobs.NewWorker("maintenance", jobs.NewMaintenanceWorker(limiter), time.Minute)
	go maintenanceWorker.Start(ctx)

	routerCfg := server.RouterConfig{
		ChatHandler:     handlers.NewChatHandler(chatSvc, websiteSvc),
		DocumentHandler: handlers.NewDocumentHandler(ingestSvc),
		AuthValidator:   authSvc,
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ingestWorker.Stop()
	maintenanceWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// chatModelAdapter narrows the OpenAI client to the chat service's model
// interface, classifying start failures as retryable or not.
type chatModelAdapter struct {
	client *openai.Client
}

func (a *chatModelAdapter) StreamChat(ctx context.Context, messages []domain.Message) (service.TokenStream, error) {
	stream, err := a.client.StreamChat(ctx, messages)
	if err != nil {
		return nil, &service.ModelError{Retryable: openai.IsRetryable(err), Err: err}
	}
	return stream, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
