package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"folderwatch/internal/config"
	"folderwatch/internal/logging"
	"folderwatch/internal/services"
)

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Gateway is the single owner of the database connection pool.
type Gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	dialect dialect

	mu sync.RWMutex
	db *sql.DB
}

// New builds a disconnected gateway for the configured database.
func New(cfg *config.Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "storage"),
		dialect: dialectFor(cfg.Database.Driver),
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// Connect opens and pings the database. Calling it on a connected gateway is
// a no-op.
func (g *Gateway) Connect(ctx context.Context) error {
	ctx = ensureContext(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db != nil {
		return nil
	}

	driverName, dsn := g.cfg.DataSource()
	if g.dialect.name == config.DriverSQLite {
		if err := g.cfg.EnsureDirectories(); err != nil {
			return services.Wrap(services.ErrConnection, "storage", "connect", "ensure database directory", err)
		}
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return services.Wrap(services.ErrConnection, "storage", "connect", "open database", err)
	}

	if g.dialect.name == config.DriverSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return services.Wrap(services.ErrConnection, "storage", "connect", fmt.Sprintf("apply %q", pragma), err)
			}
		}
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx := ctx
	if timeout := time.Duration(g.cfg.Database.ConnectTimeout) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return services.Wrap(services.ErrConnection, "storage", "connect", "ping "+g.cfg.RedactedDataSource(), err)
	}

	g.db = db
	g.logger.Info("database connected",
		logging.String(logging.FieldEventType, "db_connected"),
		logging.String("driver", g.dialect.name),
		logging.String("dsn", g.cfg.RedactedDataSource()),
	)
	return nil
}

// Disconnect releases the pool. It is safe to call on a gateway that was never
// connected and to call repeatedly.
func (g *Gateway) Disconnect() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	db := g.db
	g.db = nil
	g.mu.Unlock()
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return services.Wrap(services.ErrConnection, "storage", "disconnect", "close database", err)
	}
	g.logger.Info("database disconnected", logging.String(logging.FieldEventType, "db_disconnected"))
	return nil
}

// Connected reports whether Connect has succeeded and Disconnect has not run since.
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.db != nil
}

func (g *Gateway) handle() *sql.DB {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.db
}

func (g *Gateway) retryOnBusy(ctx context.Context, op func() error) error {
	if g.dialect.name != config.DriverSQLite {
		return op()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (g *Gateway) execWithRetry(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	query = g.dialect.rebind(query)
	if err := g.retryOnBusy(ctx, func() error {
		res, execErr = db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// withTx runs fn inside one transaction, retrying the whole unit on
// SQLITE_BUSY. Any error rolls the transaction back.
func (g *Gateway) withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return g.retryOnBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
