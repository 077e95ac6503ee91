package app

import (
	"context"

	"github.com/gin-gonic/gin"

	"canvas-gateway/internal/config"
	"canvas-gateway/internal/gateway"
	"canvas-gateway/internal/handler"
	"canvas-gateway/internal/middleware"
	"canvas-gateway/internal/ratelimit"
	"canvas-gateway/internal/session"
	"canvas-gateway/internal/upstream"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	limiter := ratelimit.New(cfg.RateCeiling, cfg.RateWindow)
	if infra.Memory != nil {
		// A destroyed session releases its rate-limit window with it.
		infra.Memory.OnDestroy = limiter.Forget
	}

	client := upstream.NewHTTPClient(cfg.VerifyTimeout, cfg.InvokeTimeout)
	registry := gateway.NewRegistry(gateway.DefaultOperations()...)

	gw := gateway.New(
		infra.Store,
		limiter,
		client,
		registry,
		cfg.MaxCredentialLength,
		cfg.MaxEndpointLength,
	)

	sweeper := session.NewSweeper(infra.Store, cfg.SweepInterval)
	sweeper.Start()

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())

	handler.NewHandler(gw).RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Cleanup
	// ----------------------------

	return router, func() error {
		sweeper.Stop()
		if infra.Redis != nil {
			return infra.Redis.Close()
		}
		return nil
	}, nil
}
