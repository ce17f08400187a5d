package engine

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"craftline/internal/config"
	"craftline/internal/demand"
	"craftline/internal/events"
	"craftline/internal/repo"
	"craftline/internal/stock"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Bus    *events.Bus
	Stock  stock.Backend
	Demand demand.Backend
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Bus:    events.NewBus(log),
		Demand: demand.Zero{},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// publish fans a committed event out to in-process subscribers. Only
// call after tx.Commit succeeded.
func (e Engine) publish(n events.Notification) {
	if e.Bus != nil {
		e.Bus.Publish(n)
	}
}

// InvalidTransitionError reports an operation applied to an entity in
// the wrong state. The entity is left untouched.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %s", e.Entity, e.ID, e.Op, e.From)
}

// ValidationError reports rejected input.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

func validationf(format string, args ...any) ValidationError {
	return ValidationError(fmt.Sprintf(format, args...))
}
