package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/velebit-labs/pricefeed/internal/api"
	"github.com/velebit-labs/pricefeed/internal/cache"
	"github.com/velebit-labs/pricefeed/internal/crawler"
	"github.com/velebit-labs/pricefeed/internal/db"
	"github.com/velebit-labs/pricefeed/internal/geocode"
	"github.com/velebit-labs/pricefeed/internal/ingest"
	"github.com/velebit-labs/pricefeed/internal/notifications"
	"github.com/velebit-labs/pricefeed/internal/observability"
	"github.com/velebit-labs/pricefeed/internal/scheduler"
	"github.com/velebit-labs/pricefeed/internal/util"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config holds application-level configuration loaded from the environment.
type Config struct {
	Port                 string
	Env                  string
	SentryDSN            string
	LogLevel             string
	CacheDir             string
	CacheBackend         string
	GeocodeURL           string
	SlackWebhookURL      string
	ObservabilityEnabled bool
	MetricsAddr          string
	OTLPEndpoint         string
	OTLPHeaders          string
	OTLPInsecure         bool
}

func main() {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		CacheDir:             getEnvWithDefault("CACHE_DIR", "./cache"),
		CacheBackend:         getEnvWithDefault("CACHE_BACKEND", "csv"),
		GeocodeURL:           os.Getenv("GEOCODE_URL"),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}

	setupLogging(config)

	// Initialise Sentry for error tracking
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var obsProviders *observability.Providers
	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "pricefeed",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()
		}
	}

	// Connect to PostgreSQL
	pgDB, err := db.InitFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	// Snapshot cache with the configured serialisation backend
	var snapshotStore *cache.Store[crawler.SnapshotRow]
	switch config.CacheBackend {
	case "csv":
		snapshotStore = cache.NewStore(config.CacheDir, cache.NewCSVBackend(crawler.SnapshotSchema, cache.DefaultDelimiter))
	case "parquet":
		snapshotStore = cache.NewStore(config.CacheDir, cache.NewParquetBackend[crawler.SnapshotRow]())
	default:
		log.Fatal().Str("backend", config.CacheBackend).Msg("Unknown cache backend, expected csv or parquet")
	}
	snapshots := crawler.NewSnapshotStore(snapshotStore)

	// Source crawlers
	crawlerConfig := crawler.DefaultConfig()
	crawlerConfig.CacheDir = config.CacheDir
	fetcher := crawler.NewFetcher(crawlerConfig)

	registry := crawler.NewRegistry()
	registerCrawler := func(chain, envKey string, build func(base string) crawler.Crawler) {
		raw := os.Getenv(envKey)
		if raw == "" {
			log.Warn().Str("chain", chain).Str("env", envKey).Msg("Base URL not configured, chain disabled")
			return
		}
		base, err := util.NormaliseBaseURL(raw)
		if err != nil {
			log.Fatal().Err(err).Str("chain", chain).Msg("Invalid base URL")
		}
		registry.Register(build(base))
	}

	registerCrawler("konzum", "KONZUM_BASE_URL", func(base string) crawler.Crawler {
		return crawler.NewKonzumCrawler(base, fetcher, snapshots, crawlerConfig)
	})
	registerCrawler("tommy", "TOMMY_BASE_URL", func(base string) crawler.Crawler {
		return crawler.NewTommyCrawler(base, fetcher, snapshots)
	})
	registerCrawler("studenac", "STUDENAC_BASE_URL", func(base string) crawler.Crawler {
		return crawler.NewStudenacCrawler(base, fetcher, snapshots)
	})

	if len(registry.Chains()) == 0 {
		log.Fatal().Msg("No chains configured, set KONZUM_BASE_URL / TOMMY_BASE_URL / STUDENAC_BASE_URL")
	}
	log.Info().Strs("chains", registry.Chains()).Msg("Registered source crawlers")

	// Geocoding resolver for new store addresses
	var resolver geocode.Resolver = geocode.NopResolver{}
	if config.GeocodeURL != "" {
		resolver = geocode.NewHTTPResolver(config.GeocodeURL)
		log.Info().Str("endpoint", config.GeocodeURL).Msg("Geocoding enabled")
	}

	// Notifications
	var notifier notifications.Notifier
	if config.SlackWebhookURL != "" {
		notifier = notifications.NewSlackNotifier(config.SlackWebhookURL)
		log.Info().Msg("Slack notifications enabled")
	}

	reconciler := db.NewReconciler(pgDB.GetDB(), resolver)
	jobLogs := db.NewJobLogStore(pgDB.GetDB())
	orchestrator := ingest.NewOrchestrator(registry, reconciler, jobLogs, snapshots, notifier)

	// Single-flight scheduler for background ingestions
	sched := scheduler.New(scheduler.RunnerFunc(func(ctx context.Context, task scheduler.Task) error {
		_, err := orchestrator.Run(ctx, task.Chain, task.Date, task.Force, task.Initiator)
		return err
	}))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sched.Start(rootCtx)
	defer sched.Stop()

	// HTTP server
	limiter := newRateLimiter()
	apiHandler := api.NewHandler(pgDB, sched, orchestrator, jobLogs)

	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.getLimiter(util.GetClientIP(r)).Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Add middleware in reverse order (outermost first)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if obsProviders != nil && obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           obsProviders.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info().Str("port", config.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
		case <-gctx.Done():
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
		}
		rootCancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "pricefeed").
			Logger()
	}
}

// RateLimiter represents a rate limiting system based on client IP addresses
type RateLimiter struct {
	limits   map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

// newRateLimiter creates a new rate limiter with default settings
func newRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]*rate.Limiter),
		rate:     rate.Limit(20),
		capacity: 10,
	}
}

// getLimiter returns the rate limiter for a specific IP address
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.capacity)
		rl.limits[ip] = limiter
	}

	return limiter
}
