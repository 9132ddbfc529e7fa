package config

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SQLiteStorage persists gateway credentials
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.Mutex
}

// ErrNotFound is returned when a gateway has no stored credentials
var ErrNotFound = errors.New("gateway config not found")

// NewSQLiteStorage creates the credentials table on db
func NewSQLiteStorage(db *sql.DB, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_credentials (
		gateway TEXT PRIMARY KEY,
		config_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// retryOperation retries operation while SQLite reports the database as busy
func (s *SQLiteStorage) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "SQLITE_BUSY") && !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		if attempt < maxRetries {
			// 10ms, 20ms, 40ms
			backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
			s.logger.Debug("sqlite busy, retrying", zap.Duration("backoff", backoff), zap.Int("attempt", attempt+1))
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// SaveGatewayConfig inserts or replaces the credentials of gateway
func (s *SQLiteStorage) SaveGatewayConfig(gateway string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return s.retryOperation(func() error {
		query := `
		INSERT INTO gateway_credentials (gateway, config_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(gateway)
		DO UPDATE SET
			config_data = excluded.config_data,
			updated_at = CURRENT_TIMESTAMP
		`
		if _, err := s.db.Exec(query, gateway, string(configJSON)); err != nil {
			return fmt.Errorf("failed to save gateway config: %w", err)
		}
		s.logger.Info("saved gateway config", zap.String("gateway", gateway))
		return nil
	}, 3)
}

// LoadGatewayConfig loads the credentials of gateway
func (s *SQLiteStorage) LoadGatewayConfig(gateway string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var config map[string]string
	err := s.retryOperation(func() error {
		var configJSON string
		err := s.db.QueryRow(`SELECT config_data FROM gateway_credentials WHERE gateway = ?`, gateway).Scan(&configJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, gateway)
		}
		if err != nil {
			return fmt.Errorf("failed to load gateway config: %w", err)
		}
		return json.Unmarshal([]byte(configJSON), &config)
	}, 3)
	return config, err
}

// LoadAllGatewayConfigs loads every stored gateway, keyed by name
func (s *SQLiteStorage) LoadAllGatewayConfigs() (map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var configs map[string]map[string]string
	err := s.retryOperation(func() error {
		rows, err := s.db.Query(`SELECT gateway, config_data FROM gateway_credentials ORDER BY gateway`)
		if err != nil {
			return fmt.Errorf("failed to query gateway configs: %w", err)
		}
		defer rows.Close()

		configs = make(map[string]map[string]string)
		for rows.Next() {
			var gateway, configJSON string
			if err := rows.Scan(&gateway, &configJSON); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			var config map[string]string
			if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
				s.logger.Warn("skipping unreadable gateway config", zap.String("gateway", gateway), zap.Error(err))
				continue
			}
			configs[gateway] = config
		}
		return rows.Err()
	}, 3)
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// DeleteGatewayConfig removes the credentials of gateway
func (s *SQLiteStorage) DeleteGatewayConfig(gateway string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		result, err := s.db.Exec(`DELETE FROM gateway_credentials WHERE gateway = ?`, gateway)
		if err != nil {
			return fmt.Errorf("failed to delete gateway config: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, gateway)
		}
		return nil
	}, 3)
}

// GetStats returns the number of stored gateways
func (s *SQLiteStorage) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM gateway_credentials").Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count gateway configs: %w", err)
	}
	return map[string]any{"stored_gateways": total}, nil
}
