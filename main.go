package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"netsweep/api"
	"netsweep/cachestore"
	"netsweep/cli"
	"netsweep/config"
	"netsweep/logging"
	"netsweep/scanner"
	"netsweep/tui"
)

func main() {
	cfg := config.Load()
	logging.Configure(cfg.LogLevel)
	logger := logging.Logger()

	limiter := scanner.NewRateLimiter(cfg.Rate, cfg.Burst)

	// Redis is optional. Without it the port cache is memory-only and the
	// API skips per-IP request limiting.
	var redisClient *redis.Client
	var store scanner.Store
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable, continuing without persistence", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		} else {
			store = cachestore.New(redisClient)
			logger.Info("port cache persistence enabled", "addr", cfg.RedisAddr)
		}
	}

	orch := scanner.New(scanner.Config{
		HostConcurrency: cfg.HostConcurrency,
		PortConcurrency: cfg.PortConcurrency,
		PingTimeout:     cfg.PingTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		PortRangeStart:  cfg.PortRangeStart,
		PortRangeEnd:    cfg.PortRangeEnd,
		CacheTTL:        cfg.CacheTTL,
		Store:           store,
		Logger:          logger,
	}, limiter)

	mode := "tui"
	args := os.Args[1:]
	if len(args) > 0 {
		mode = args[0]
		args = args[1:]
	}

	var err error
	switch mode {
	case "tui":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		err = tui.Run(orch, target)
	case "scan":
		err = cli.Run(orch, args)
	case "serve":
		err = api.Run(cfg, orch, redisClient)
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "netsweep: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: netsweep [mode] [args]")
	fmt.Fprintln(os.Stderr, "Modes:")
	fmt.Fprintln(os.Stderr, "  tui [target]    Interactive dashboard (default)")
	fmt.Fprintln(os.Stderr, "  scan [flags] <target>")
	fmt.Fprintln(os.Stderr, "                  One-shot sweep, see: netsweep scan -h")
	fmt.Fprintln(os.Stderr, "  serve           HTTP API server")
	fmt.Fprintln(os.Stderr, "Profiles (NETSWEEP_PROFILE):", config.Profiles())
}
