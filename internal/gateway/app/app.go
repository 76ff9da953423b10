// Package app wires the gateway together: configuration in, running
// transports out.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/colquisiri/teamsgw/internal/gateway/canned"
	"github.com/colquisiri/teamsgw/internal/gateway/controller"
	"github.com/colquisiri/teamsgw/internal/gateway/matrixgw"
	"github.com/colquisiri/teamsgw/internal/gateway/n2sql"
	"github.com/colquisiri/teamsgw/internal/gateway/session"
	"github.com/colquisiri/teamsgw/internal/gateway/store"
	"github.com/colquisiri/teamsgw/internal/gateway/teams"
	"github.com/colquisiri/teamsgw/internal/gateway/trigger"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
)

// Config is the assembled runtime configuration.
type Config struct {
	// HTTPAddr is the listen address for the webhook and the operational
	// endpoints.
	HTTPAddr string

	N2SQL n2sql.Config

	// TriggerPrefixes overrides trigger.DefaultPrefixes when non-empty.
	TriggerPrefixes []string

	InitialRows  int
	ExpandedRows int
	HistoryLimit int
	ShowSQL      bool

	// SessionBackend selects "memory" or "sqlite".
	SessionBackend string
	// DatabasePath is the SQLite file, used when SessionBackend is sqlite.
	DatabasePath string

	// CannedQueriesPath points at the optional canned-query catalog.
	CannedQueriesPath string

	// Teams credentials. An empty app ID runs the webhook in emulator mode.
	TeamsAppID       string
	TeamsAppPassword string

	// Matrix is the optional second chat surface, enabled when a homeserver
	// is configured.
	Matrix matrixgw.Config
}

// App owns the wired components and their lifecycles.
type App struct {
	cfg      Config
	db       *store.Store
	sessions session.Store
	health   *HealthServer
	matrix   *matrixgw.Adapter
}

// New wires the gateway from cfg. It opens the database (when configured),
// loads the canned catalog and mounts the Teams webhook, but does not listen
// yet.
func New(cfg Config) (*App, error) {
	a := &App{cfg: cfg}

	switch cfg.SessionBackend {
	case SessionBackendSQLite:
		db, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.sessions = session.NewSQLiteStore(db.DB())
	case "", SessionBackendMemory:
		a.sessions = session.NewMemoryStore()
	default:
		return nil, fmt.Errorf("app: unknown session backend %q", cfg.SessionBackend)
	}

	var cannedQueries []controller.CannedQuery
	if cfg.CannedQueriesPath != "" {
		loaded, err := canned.Load(cfg.CannedQueriesPath)
		if err != nil {
			a.closeDB()
			return nil, err
		}
		for _, q := range loaded {
			cannedQueries = append(cannedQueries, controller.CannedQuery{
				Title:   q.Title,
				Query:   q.Query,
				Dataset: q.Dataset,
			})
		}
		slog.Info("canned queries loaded", "path", cfg.CannedQueriesPath, "count", len(loaded))
	}

	ctrl := controller.New(
		trigger.NewParser(cfg.TriggerPrefixes),
		n2sql.New(cfg.N2SQL),
		a.sessions,
		controller.Config{
			InitialRows:   cfg.InitialRows,
			ExpandedRows:  cfg.ExpandedRows,
			HistoryLimit:  cfg.HistoryLimit,
			ShowSQL:       cfg.ShowSQL,
			CannedQueries: cannedQueries,
		},
	)

	a.health = NewHealthServer(cfg.HTTPAddr, a.sessions, envReport(cfg))

	connector := teams.NewConnector(cfg.TeamsAppID, cfg.TeamsAppPassword)
	webhook := teams.NewWebhook(connector, cfg.TeamsAppID, ctrl.HandleEvent)
	a.health.Handle("/api/messages", webhook)

	if cfg.Matrix.Homeserver != "" {
		adapter, err := matrixgw.New(cfg.Matrix, ctrl.HandleEvent)
		if err != nil {
			a.closeDB()
			return nil, err
		}
		a.matrix = adapter
	}

	return a, nil
}

// Start brings up the HTTP server and, when configured, the Matrix sync.
func (a *App) Start(ctx context.Context) error {
	if err := a.health.Start(ctx); err != nil {
		return err
	}
	if a.matrix != nil {
		if err := a.matrix.Start(ctx); err != nil {
			a.health.Stop()
			return err
		}
		slog.Info("matrix surface started", "homeserver", a.cfg.Matrix.Homeserver)
	}
	return nil
}

// Run starts the gateway and blocks until ctx is cancelled, then shuts
// down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

// Stop tears everything down in reverse order of Start.
func (a *App) Stop() {
	if a.matrix != nil {
		a.matrix.Stop()
	}
	a.health.Stop()
	a.closeDB()
}

func (a *App) closeDB() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
	a.db = nil
}

// envReport summarizes which configuration is present, for /__env. Only
// booleans — never values.
func envReport(cfg Config) map[string]bool {
	return map[string]bool{
		"n2sql_url":          cfg.N2SQL.BaseURL != "",
		"n2sql_api_key":      cfg.N2SQL.APIKey != "",
		"teams_app_id":       cfg.TeamsAppID != "",
		"teams_app_password": cfg.TeamsAppPassword != "",
		"matrix_homeserver":  cfg.Matrix.Homeserver != "",
		"sqlite_sessions":    cfg.SessionBackend == SessionBackendSQLite,
		"canned_queries":     cfg.CannedQueriesPath != "",
		"show_sql":           cfg.ShowSQL,
	}
}
