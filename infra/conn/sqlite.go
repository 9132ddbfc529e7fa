package conn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// OpenSQLite opens the SQLite database at path, creating its directory, and
// pings it until it answers or the attempts run out
func OpenSQLite(path string, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// WAL lets the payment API and the credential store share one file
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_timeout=20000&_txlock=immediate", path)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if path == ":memory:" {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		} else {
			db.SetMaxOpenConns(10)
			db.SetMaxIdleConns(5)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			logger.Info("sqlite connected", zap.String("path", path))
			return db, nil
		}

		lastErr = err
		logger.Warn("sqlite ping failed", zap.Int("attempt", attempt), zap.Error(err))
		db.Close()
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", path, lastErr)
}
