package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajsai47/AI-Calendar/internal/config"
	"github.com/ajsai47/AI-Calendar/internal/fetchers"
	"github.com/ajsai47/AI-Calendar/internal/handlers"
	"github.com/ajsai47/AI-Calendar/internal/ingest"
	"github.com/ajsai47/AI-Calendar/internal/services"
	"github.com/ajsai47/AI-Calendar/internal/storage"
)

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	env := loadEnv()

	log.Info().
		Str("host", env.Host).
		Str("port", env.Port).
		Msg("Starting AI-Calendar ingestion service")

	sources, err := config.Load(env.SourcesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", env.SourcesPath).Msg("Failed to load sources config")
	}
	log.Info().
		Int("luma_sources", len(sources.Luma.Sources)).
		Int("meetup_groups", len(sources.Meetup.Groups)).
		Str("aic_chapter", sources.AIC.Chapter).
		Msg("Sources config loaded")

	log.Info().Msg("Initializing Postgres storage...")
	eventStorage, err := storage.NewPostgresStorage(
		env.DBHost,
		env.DBPort,
		env.DBUser,
		env.DBPassword,
		env.DBName,
		env.DBSSLMode,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Postgres storage")
	}
	defer eventStorage.Close()
	log.Info().Msg("Postgres storage initialized")

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := eventStorage.SeedCommunities(seedCtx, sources.SeedCommunities()); err != nil {
		log.Error().Err(err).Msg("Failed to seed communities (will continue)")
	}
	cancelSeed()

	var mirror ingest.ImageMirror
	if env.MinIOEndpoint != "" {
		log.Info().Msg("Initializing image mirror...")
		m, err := storage.NewImageMirror(
			env.MinIOEndpoint,
			env.MinIOPublicEndpoint,
			env.MinIOAccessKey,
			env.MinIOSecretKey,
			env.MinIOBucket,
			env.MinIOUseSSL,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize image mirror (images will be hotlinked)")
		} else {
			mirror = m
		}
	}

	var notifier ingest.Notifier
	if env.RabbitMQURL != "" {
		log.Info().Msg("Initializing RabbitMQ notifier...")
		n, err := services.NewRabbitMQNotifier(env.RabbitMQURL, env.RabbitMQExchange)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize RabbitMQ notifier (run summaries disabled)")
		} else {
			defer n.Close()
			notifier = n
		}
	}

	region := sources.Region.Region()
	allFetchers := []fetchers.Fetcher{
		fetchers.NewLumaFetcher(sources.Luma, region),
		fetchers.NewMeetupFetcher(sources.Meetup),
		fetchers.NewAICFetcher(sources.AIC, region),
	}

	aggregator := ingest.NewAggregator(eventStorage, allFetchers, mirror, notifier, sources.BatchSize)

	// Built-in periodic schedule; an external scheduler can hit
	// /api/cron/ingest instead and leave INGEST_CRON empty.
	var scheduler *cron.Cron
	if env.IngestCron != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(env.IngestCron, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			aggregator.Run(ctx)
		})
		if err != nil {
			log.Fatal().Err(err).Str("cron", env.IngestCron).Msg("Invalid ingest cron spec")
		}
		scheduler.Start()
		log.Info().Str("cron", env.IngestCron).Msg("Ingestion schedule started")
	}

	handler := handlers.NewHandler(aggregator, eventStorage, env.IngestToken)
	router := setupRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", env.Host, env.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // ingest trigger runs inline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", srv.Addr).
			Msg("🚀 Server starting...")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	log.Info().Msg("✅ AI-Calendar ingestion service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

type envConfig struct {
	Host             string
	Port             string
	SourcesPath      string
	IngestCron       string
	IngestToken      string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	RabbitMQURL      string
	RabbitMQExchange string

	MinIOEndpoint       string
	MinIOPublicEndpoint string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOBucket         string
	MinIOUseSSL         bool
}

// loadEnv loads configuration from environment variables
func loadEnv() *envConfig {
	return &envConfig{
		Host:             getEnv("SERVER_HOST", "0.0.0.0"),
		Port:             getEnv("SERVER_PORT", "8080"),
		SourcesPath:      getEnv("SOURCES_CONFIG", "configs/sources.yaml"),
		IngestCron:       getEnv("INGEST_CRON", "0 * * * *"),
		IngestToken:      getEnv("INGEST_TOKEN", ""),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "aicalendar"),
		DBSSLMode:        getEnv("DB_SSL_MODE", "disable"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "aicalendar.events"),

		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinIOPublicEndpoint: getEnv("MINIO_PUBLIC_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:         getEnv("MINIO_BUCKET_NAME", "event-images"),
		MinIOUseSSL:         getEnv("MINIO_USE_SSL", "false") == "true",
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupRouter configures all routes and middleware
func setupRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cron/ingest", h.IngestHandler).Methods("GET", "POST")
	api.HandleFunc("/events", h.EventsHandler).Methods("GET")
	api.HandleFunc("/communities", h.CommunitiesHandler).Methods("GET")

	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
