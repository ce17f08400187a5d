package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"craftline/internal/config"
	"craftline/internal/db"
	"craftline/internal/engine"
	"craftline/internal/migrate"
	"craftline/internal/stock"
)

// Context holds everything a command or server needs for a workspace.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    *zap.Logger
}

// Open boots a workspace: database, schema, config and engine. The
// in-memory stock backend is wired so reservation and stock movement
// work out of the box; deployments with a real inventory system swap
// it after Open.
func Open(workspace string, log *zap.Logger) (*Context, error) {
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg, log)
	mem := stock.NewMemory()
	eng.Stock = mem
	stock.Subscriber{Backend: mem}.Register(eng.Bus)
	return &Context{DB: conn, Config: cfg, Engine: eng, Log: log}, nil
}

func (c *Context) Close() error {
	return c.DB.Close()
}
