package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/records/internal/config"
	"github.com/ehr/records/internal/gateway"
	"github.com/ehr/records/internal/platform/auditlog"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/blobstore"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "records-server",
		Short: "Generic clinical records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(entitiesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the registered entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			withSchema, _ := cmd.Flags().GetBool("schema")
			file, _ := cmd.Flags().GetString("file")

			entries, err := loadEntries(file)
			if err != nil {
				return err
			}
			reg, err := gateway.NewRegistry(entries)
			if err != nil {
				return err
			}

			if withSchema {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 1)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				defer pool.Close()
				if err := reg.LoadSchema(ctx, db.SchemaSource{DB: pool}); err != nil {
					return err
				}
			}
			return printEntities(cmd.OutOrStdout(), reg)
		},
	}
	cmd.Flags().Bool("schema", false, "Load and print live table columns (requires DATABASE_URL)")
	cmd.Flags().String("file", os.Getenv("ENTITIES_FILE"), "YAML entity registry (defaults to the built-in list)")
	return cmd
}

func printEntities(out io.Writer, reg *gateway.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTITY\tTABLE\tDELETE\tCOLUMNS")
	for _, d := range reg.All() {
		cols := "-"
		if d.SchemaLoaded() {
			cols = fmt.Sprint(d.Columns())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.PublicName, d.TableName, d.DeleteMode, cols)
	}
	return w.Flush()
}

func loadEntries(file string) ([]gateway.Entry, error) {
	if file == "" {
		return gateway.DefaultEntities(), nil
	}
	return gateway.LoadEntries(file)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// components are the collaborators newServer wires together.
type components struct {
	Service  *gateway.Service
	Provider auth.Provider
	Fallback auth.Identity
	Audit    auditlog.Sink
	Blobs    blobstore.BlobStore
	// DBHealth serves /health/db; nil means the store has no database.
	DBHealth echo.HandlerFunc
}

func newServer(cfg *config.Config, comp components, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled || cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BulkBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Identity, then rate limiting keyed by it, then the audit hook.
	e.Use(auth.Middleware(auth.MiddlewareConfig{
		Provider:        comp.Provider,
		Fallback:        comp.Fallback,
		RequireIdentity: cfg.RequireIdentity,
		Logger:          logger,
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(middleware.Audit(comp.Audit, logger))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	dbHealth := comp.DBHealth
	if dbHealth == nil {
		dbHealth = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "store": config.StoreMemory})
		}
	}
	e.GET("/health/db", dbHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	blobstore.NewBlobHandler(comp.Blobs, cfg.PublicBaseURL, logger).RegisterRoutes(e, api)
	gateway.NewHandler(comp.Service, comp.Fallback, logger).RegisterRoutes(api)

	return e
}

func identityProvider(cfg *config.Config) (auth.Provider, error) {
	switch cfg.ResolvedAuthMode() {
	case config.AuthDevelopment:
		return auth.StaticProvider{Identity: auth.Identity{
			Subject:     "developer@localhost",
			DisplayName: "Developer",
			Role:        "admin",
		}}, nil
	case config.AuthJWT:
		return auth.NewJWTProvider(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	default:
		return auth.NoopProvider{}, nil
	}
}

// openStore returns the record store for cfg and, for PostgreSQL, the pool
// backing it. The registry's schema is loaded from the database.
func openStore(ctx context.Context, cfg *config.Config, reg *gateway.Registry) (gateway.Store, *pgxpool.Pool, error) {
	if cfg.StoreDriver == config.StoreMemory {
		return gateway.NewMemoryStore(), nil, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := reg.LoadSchema(ctx, db.SchemaSource{DB: pool}); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return gateway.NewPGStore(pool), pool, nil
}

// auditSinks always logs; it also appends to PostgreSQL when a pool is
// available and publishes to Redis when REDIS_URL is set. The returned func
// releases sink resources.
func auditSinks(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (auditlog.Sink, func(), error) {
	sinks := auditlog.Multi{auditlog.LogSink{Logger: logger}}
	closeFn := func() {}

	if pool != nil && cfg.AuditTable != "" {
		sinks = append(sinks, auditlog.NewPGSink(pool, cfg.AuditTable))
	}
	if cfg.RedisURL != "" {
		rs, err := auditlog.NewRedisSink(cfg.RedisURL, cfg.AuditStream)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, rs)
		closeFn = func() {
			if err := rs.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing redis audit sink")
			}
		}
	}
	return sinks, closeFn, nil
}

func blobStore(cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.UploadDir == "" {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	return blobstore.NewDirBlobStore(cfg.UploadDir)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in DEVELOPMENT mode; do not use this configuration in production")
	}

	// Registry
	entries, err := loadEntries(cfg.EntitiesFile)
	if err != nil {
		return err
	}
	reg, err := gateway.NewRegistry(entries)
	if err != nil {
		return err
	}

	// Store
	ctx := context.Background()
	store, pool, err := openStore(ctx, cfg, reg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	var dbHealth echo.HandlerFunc
	if pool != nil {
		defer pool.Close()
		dbHealth = db.PoolHealthHandler(pool)
		logger.Info().Int("entities", len(reg.All())).Msg("connected to database")
	} else {
		logger.Warn().Msg("using in-memory store; records are lost on restart")
	}

	provider, err := identityProvider(cfg)
	if err != nil {
		return err
	}
	sink, closeSinks, err := auditSinks(cfg, pool, logger)
	defer closeSinks()
	if err != nil {
		return err
	}
	blobs, err := blobStore(cfg)
	if err != nil {
		return err
	}

	svc := gateway.NewService(reg, store,
		gateway.WithBatchLimit(cfg.BulkMaxRecords),
		gateway.WithLogger(logger),
	)
	e := newServer(cfg, components{
		Service:  svc,
		Provider: provider,
		Fallback: auth.FallbackIdentity(cfg.FallbackIdentity),
		Audit:    sink,
		Blobs:    blobs,
		DBHealth: dbHealth,
	}, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
