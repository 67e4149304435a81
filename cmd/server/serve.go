package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"profile-backend/internal/admin"
	"profile-backend/internal/auth"
	"profile-backend/internal/engine"
	"profile-backend/internal/instrument"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Connect to database and build the oracle
	rt, err := connect(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	// 2. Load the section catalog
	if err := rt.loadCatalog(ctx); err != nil {
		logger.Warn("failed to load section catalog, starting with an empty one", zap.Error(err))
	}

	// 3. Engine components
	data := engine.NewSectionData(logger.Named("data"))
	sections := engine.NewSections(rt.store, rt.registry, rt.oracle, data, logger.Named("sections"))
	profiles := engine.NewProfiles(rt.store, rt.registry, rt.oracle, sections, data,
		cfg.Aggregate.Concurrency, logger.Named("profiles"))

	// 4. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(instrument.RequestLogger(logger.Named("http"), cfg.Server.RequestTimeout))

	// 5. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 6. Auth routes (before middleware, no auth required)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(rt.store, cfg.JWTSecret, logger.Named("auth")))

	authMW := auth.RequireCaller(cfg.JWTSecret)

	// 7. Admin routes (auth + admin user type)
	adminHandler := admin.NewHandler(rt.store, rt.registry, rt.oracle, logger.Named("admin"))
	admin.RegisterAdminRoutes(app, adminHandler, authMW, auth.RequireUserType(cfg.AdminUserType))

	// 8. Profile and section routes (auth required)
	engine.RegisterRoutes(app, engine.NewHandler(rt.registry, profiles, sections), authMW)

	// 9. Start server
	errCh := make(chan error, 1)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
