package properties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqliteDriverNameConstant             = "sqlite"
	stateDirectoryPermissionsConstant    = 0o755
	writeRetryMaxElapsedConstant         = 10 * time.Second
	busyTimeoutPragmaConstant            = "PRAGMA busy_timeout = 5000"
	journalModePragmaConstant            = "PRAGMA journal_mode = WAL"
	synchronousPragmaConstant            = "PRAGMA synchronous = FULL"
	createPropertiesTableConstant        = "CREATE TABLE IF NOT EXISTS properties (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)"
	selectPropertyStatementConstant      = "SELECT value FROM properties WHERE key = ?"
	upsertPropertyStatementConstant      = "INSERT INTO properties (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	insertPropertyStatementConstant      = "INSERT INTO properties (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING"
	deletePropertyStatementConstant      = "DELETE FROM properties WHERE key = ?"
	openStoreErrorTemplateConstant       = "unable to open property store %s: %w"
	initializeStoreErrorTemplateConstant = "unable to initialize property store: %w"
	readPropertyErrorTemplateConstant    = "unable to read property %s: %w"
	writePropertyErrorTemplateConstant   = "unable to write property %s: %w"
	deletePropertyErrorTemplateConstant  = "unable to delete property %s: %w"
	retryingWriteMessageConstant         = "Retrying property write"
	logFieldPropertyKeyConstant          = "property_key"
	logFieldRetryDelayConstant           = "retry_delay"
)

var busyErrorMarkers = []string{"database is locked", "sqlite_busy", "database table is locked"}

// SQLiteStore persists properties in a single SQLite table.
type SQLiteStore struct {
	mutex    sync.RWMutex
	database *sql.DB
	logger   *zap.Logger
}

// OpenSQLiteStore opens (creating when absent) the SQLite database at databasePath.
func OpenSQLiteStore(executionContext context.Context, databasePath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if directoryError := os.MkdirAll(filepath.Dir(databasePath), stateDirectoryPermissionsConstant); directoryError != nil {
		return nil, fmt.Errorf(openStoreErrorTemplateConstant, databasePath, directoryError)
	}

	database, openError := sql.Open(sqliteDriverNameConstant, databasePath)
	if openError != nil {
		return nil, fmt.Errorf(openStoreErrorTemplateConstant, databasePath, openError)
	}
	database.SetMaxOpenConns(1)

	for _, statement := range []string{busyTimeoutPragmaConstant, journalModePragmaConstant, synchronousPragmaConstant, createPropertiesTableConstant} {
		if _, execError := database.ExecContext(executionContext, statement); execError != nil {
			database.Close()
			return nil, fmt.Errorf(initializeStoreErrorTemplateConstant, execError)
		}
	}

	return &SQLiteStore{database: database, logger: logger}, nil
}

// Get reads a property.
func (store *SQLiteStore) Get(executionContext context.Context, key string) (string, bool, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.database == nil {
		return "", false, ErrStoreClosed
	}

	var value string
	scanError := store.database.QueryRowContext(executionContext, selectPropertyStatementConstant, key).Scan(&value)
	if errors.Is(scanError, sql.ErrNoRows) {
		return "", false, nil
	}
	if scanError != nil {
		return "", false, fmt.Errorf(readPropertyErrorTemplateConstant, key, scanError)
	}
	return value, true, nil
}

// Set upserts a property, retrying while the database is busy.
func (store *SQLiteStore) Set(executionContext context.Context, key string, value string) error {
	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if writeError := store.execWithRetry(executionContext, key, nil, upsertPropertyStatementConstant, key, value, updatedAt); writeError != nil {
		return fmt.Errorf(writePropertyErrorTemplateConstant, key, writeError)
	}
	return nil
}

// SetIfAbsent inserts a property only when the key does not exist yet.
func (store *SQLiteStore) SetIfAbsent(executionContext context.Context, key string, value string) (bool, error) {
	var rowsAffected int64
	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	insertError := store.execWithRetry(executionContext, key, func(result sql.Result) {
		rowsAffected, _ = result.RowsAffected()
	}, insertPropertyStatementConstant, key, value, updatedAt)
	if insertError != nil {
		return false, fmt.Errorf(writePropertyErrorTemplateConstant, key, insertError)
	}
	return rowsAffected == 1, nil
}

// Delete removes a property. Deleting an absent key succeeds.
func (store *SQLiteStore) Delete(executionContext context.Context, key string) error {
	if deleteError := store.execWithRetry(executionContext, key, nil, deletePropertyStatementConstant, key); deleteError != nil {
		return fmt.Errorf(deletePropertyErrorTemplateConstant, key, deleteError)
	}
	return nil
}

// Close releases the database handle. Close is idempotent.
func (store *SQLiteStore) Close() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.database == nil {
		return nil
	}
	closeError := store.database.Close()
	store.database = nil
	return closeError
}

func (store *SQLiteStore) execWithRetry(executionContext context.Context, key string, inspectResult func(sql.Result), statement string, arguments ...any) error {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	if store.database == nil {
		return ErrStoreClosed
	}

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = writeRetryMaxElapsedConstant

	return backoff.RetryNotify(func() error {
		result, execError := store.database.ExecContext(executionContext, statement, arguments...)
		if execError == nil {
			if inspectResult != nil {
				inspectResult(result)
			}
			return nil
		}
		if isBusyError(execError) {
			return execError
		}
		return backoff.Permanent(execError)
	}, backoff.WithContext(retryPolicy, executionContext), func(retryError error, delay time.Duration) {
		store.logger.Debug(retryingWriteMessageConstant, zap.String(logFieldPropertyKeyConstant, key), zap.Duration(logFieldRetryDelayConstant, delay), zap.Error(retryError))
	})
}

func isBusyError(candidate error) bool {
	loweredMessage := strings.ToLower(candidate.Error())
	for _, marker := range busyErrorMarkers {
		if strings.Contains(loweredMessage, marker) {
			return true
		}
	}
	return false
}
