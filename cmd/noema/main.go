package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/noema-ai/noema"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("NOEMA_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	var (
		seedAdmin   bool
		seedTenant  string
		seedAgentID string
	)
	redisURL := os.Getenv("NOEMA_REDIS_URL")
	flag.BoolVar(&seedAdmin, "seed-admin", false, "create the bootstrap admin agent for -tenant/-agent-id and exit")
	flag.StringVar(&seedTenant, "tenant", "", "tenant (org) UUID to seed the admin agent under")
	flag.StringVar(&seedAgentID, "agent-id", "admin", "agent id for the seeded admin agent")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := noema.New(
		noema.WithVersion(version),
		noema.WithLogger(logger),
		noema.WithRedisURL(redisURL),
	)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}

	if seedAdmin {
		if seedTenant == "" {
			slog.Error("-seed-admin requires -tenant")
			return 1
		}
		result, err := app.SeedAdmin(ctx, seedTenant, seedAgentID)
		if err != nil {
			slog.Error("seed admin failed", "error", err)
			return 1
		}
		if result.APIKey == "" {
			fmt.Printf("admin agent %q already exists for tenant %s\n", result.AgentID, seedTenant)
		} else {
			fmt.Printf("seeded admin agent %q for tenant %s\napi key (save this, it will not be shown again): %s\n",
				result.AgentID, seedTenant, result.APIKey)
		}
		return 0
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
