package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"khata/internal/config"
	"khata/internal/domain"
	"khata/internal/events"
	"khata/internal/ledger"
	"khata/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// local is the current time in the business timezone.
func (e Engine) local() time.Time {
	return e.now().In(e.Config.Location())
}

func (e Engine) today() time.Time {
	return domain.Day(e.local())
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) window() int {
	if e.Config != nil && e.Config.Ledger.VisibleEntries > 0 {
		return e.Config.Ledger.VisibleEntries
	}
	return ledger.DefaultWindow
}

func (e Engine) currency() string {
	if e.Config != nil && e.Config.Business.CurrencySymbol != "" {
		return e.Config.Business.CurrencySymbol
	}
	return ledger.Rupee
}

// storeErr wraps persistence failures, leaving typed errors untouched.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *domain.ConflictError
	if errors.Is(err, repo.ErrNotFound) || errors.As(err, &conflict) {
		return err
	}
	var dse *domain.DataSourceError
	if errors.As(err, &dse) {
		return err
	}
	return &domain.DataSourceError{Op: op, Err: err}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func requireActor(actorID string) string {
	if actorID == "" {
		return "local"
	}
	return actorID
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}
