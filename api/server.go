package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"netsweep/config"
	"netsweep/logging"
	"netsweep/scanner"
)

// Run builds the router and serves the API until the listener fails.
// redisClient may be nil; per-IP request limiting is skipped without it.
func Run(cfg config.Config, orch *scanner.Orchestrator, redisClient *redis.Client) error {
	logger := logging.Logger()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware(logger))
	router.Use(SecurityHeadersMiddleware())
	if redisClient != nil {
		router.Use(RequestLimitMiddleware(redisClient, 120, time.Minute, logger))
	}

	var routes gin.IRoutes = router
	if cfg.APIKey != "" {
		routes = router.Group("/", AuthMiddleware(cfg.APIKey, logger))
	}

	NewServer(orch).RegisterRoutes(routes)

	logger.Info("api server listening", "addr", cfg.ListenAddr)
	return router.Run(cfg.ListenAddr)
}
