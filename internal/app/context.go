package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"khata/internal/config"
	"khata/internal/db"
	"khata/internal/engine"
	"khata/internal/logger"
	"khata/internal/migrate"
)

// Options tune workspace bootstrap. Empty values fall back to the config file.
type Options struct {
	Workspace string
	LogLevel  string
}

// Workspace bundles everything a command needs to act on one workspace.
type Workspace struct {
	DB            *sql.DB
	Config        *config.Config
	Engine        engine.Engine
	Log           *slog.Logger
	SchemaVersion int
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open loads khata.yml (defaults when absent), opens and migrates the
// database, and builds an engine wired to a structured logger.
func Open(opts Options) (*Workspace, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log := logger.Init(level)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	version, err := migrate.Current(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("schema version: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Log = log
	return &Workspace{DB: conn, Config: cfg, Engine: e, Log: log, SchemaVersion: version}, nil
}

// Init creates the workspace directory and writes a default khata.yml unless
// one exists. It reports whether the config file was written.
func Init(workspace, businessName string) (bool, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return false, err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if businessName == "" {
		businessName = "My Shop"
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(businessName)), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
