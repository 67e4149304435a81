package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"profile-backend/internal/cache"
	"profile-backend/internal/config"
	"profile-backend/internal/engine"
	"profile-backend/internal/instrument"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Profile backend: user profiles assembled from typed sections",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger = instrument.NewLogger(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, bootstrapCmd, sectionsCmd, checkSchemasCmd)
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// deps is the wiring shared by every command.
type deps struct {
	store    *store.Store
	registry *metadata.Registry
	oracle   *engine.SchemaOracle
	closers  []func()
}

func connect(ctx context.Context) (*deps, error) {
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host), zap.Int("port", cfg.Database.Port), zap.String("db", cfg.Database.Name))

	rt := &deps{store: db, registry: metadata.NewRegistry(), closers: []func(){db.Close}}

	oracleCache, err := newOracleCache(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	if r, ok := oracleCache.(*cache.Redis); ok {
		rt.closers = append(rt.closers, func() { _ = r.Close() })
	}
	rt.oracle = engine.NewSchemaOracle(db.DB,
		engine.WithOracleCache(oracleCache, cfg.Oracle.CacheTTL),
		engine.WithOracleLogger(logger.Named("oracle")))
	return rt, nil
}

func newOracleCache(ctx context.Context) (cache.Cache, error) {
	if cfg.Redis.URL == "" {
		return cache.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	r, err := cache.NewRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("oracle cache on redis", zap.Duration("ttl", cfg.Oracle.CacheTTL))
	return r, nil
}

func (rt *deps) loadCatalog(ctx context.Context) error {
	return metadata.LoadSections(ctx, rt.store.DB, rt.registry, logger.Named("catalog"))
}

func (rt *deps) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
