package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/colquisiri/teamsgw/common/environment"
	"github.com/colquisiri/teamsgw/common/version"
	"github.com/colquisiri/teamsgw/internal/gateway/app"
	"github.com/colquisiri/teamsgw/internal/gateway/matrixgw"
	"github.com/colquisiri/teamsgw/internal/gateway/n2sql"
)

func main() {
	fmt.Printf("Teams NL2SQL Gateway %s\n", version.Info())
	fmt.Println()

	// A local .env is a development convenience; its absence is normal.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	setupLogging()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	gateway, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gateway: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running gateway: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures the default slog logger from LOG_LEVEL.
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// loadConfig assembles the runtime configuration from environment variables.
func loadConfig() (app.Config, error) {
	baseURL, err := environment.RequiredString("N2SQL_URL")
	if err != nil {
		return app.Config{}, err
	}

	cfg := app.Config{
		HTTPAddr: environment.StringOr("HTTP_ADDR", ":3978"),
		N2SQL: n2sql.Config{
			BaseURL:        baseURL,
			QueryPath:      environment.StringOr("N2SQL_QUERY_PATH", "/query"),
			APIKey:         environment.StringOr("N2SQL_API_KEY", ""),
			DefaultDataset: environment.StringOr("N2SQL_DATASET", "odoo"),
			Timeout:        environment.DurationOr("N2SQL_TIMEOUT", 30*time.Second),
		},
		TriggerPrefixes: environment.StringSliceOr("TRIGGER_PREFIXES", nil),
		InitialRows:     environment.IntOr("N2SQL_MAX_ROWS", 20),
		ExpandedRows:    environment.IntOr("N2SQL_EXPANDED_ROWS", 50),
		HistoryLimit:    environment.IntOr("HISTORY_LIMIT", 5),
		ShowSQL:         environment.BoolOr("N2SQL_SHOW_SQL", false),

		SessionBackend: environment.StringOr("SESSION_BACKEND", app.SessionBackendMemory),
		DatabasePath:   environment.StringOr("DATABASE_PATH", "./teamsgw.db"),

		CannedQueriesPath: environment.StringOr("CANNED_QUERIES_PATH", ""),

		TeamsAppID:       environment.StringOr("TEAMS_APP_ID", ""),
		TeamsAppPassword: environment.StringOr("TEAMS_APP_PASSWORD", ""),

		Matrix: matrixgw.Config{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       environment.StringSliceOr("MATRIX_ROOMS", nil),
		},
	}

	if cfg.TeamsAppID == "" {
		slog.Warn("TEAMS_APP_ID not set; Teams webhook runs in emulator mode")
	}
	if cfg.Matrix.Homeserver != "" && len(cfg.Matrix.Rooms) == 0 {
		return app.Config{}, fmt.Errorf("MATRIX_HOMESERVER is set but MATRIX_ROOMS is empty")
	}

	return cfg, nil
}
