package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
	_ "modernc.org/sqlite"
)

// ErrReadOnly is returned when a mutation is attempted inside Read
var ErrReadOnly = errors.New("write attempted in read transaction")

// SQLiteManager owns the connection pool and the single write serialization point
type SQLiteManager struct {
	db     *sql.DB
	logger *utils.LogsManager

	// All write transactions are funnelled through writeMu so control
	// messages for a group can never interleave.
	writeMu sync.Mutex
}

// NewSQLiteManager opens the database file configured under `database_file`
func NewSQLiteManager(cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	dbFileName := filepath.FromSlash(cm.GetConfigWithDefault("database_file", "secure-groups.db"))

	path := dbFileName
	if !filepath.IsAbs(path) {
		path = filepath.Join(paths.DataDir, dbFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	return OpenSQLite(path, logger)
}

// OpenSQLite opens the database at path and applies the schema. ":memory:"
// yields a private in-memory database pinned to a single connection.
func OpenSQLite(path string, logger *utils.LogsManager) (*SQLiteManager, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1&_synchronous=NORMAL", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error(fmt.Sprintf("Can not create database connection. (%s)", err.Error()), "database")
		return nil, err
	}

	if path == ":memory:" {
		// Every new connection to :memory: is a different database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(0)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		logger.Error(fmt.Sprintf("Failed to enable foreign keys: %s", err.Error()), "database")
		db.Close()
		return nil, err
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
			logger.Warn(fmt.Sprintf("Failed to enable WAL mode: %s", err.Error()), "database")
		}
	}

	sqlm := &SQLiteManager{db: db, logger: logger}
	if err := sqlm.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %v", err)
	}

	return sqlm, nil
}

// Read runs fn in a transaction that is always rolled back
func (sqlm *SQLiteManager) Read(fn func(tx *Tx) error) error {
	sqlTx, err := sqlm.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %v", err)
	}
	defer sqlTx.Rollback()

	return fn(&Tx{tx: sqlTx, readOnly: true})
}

// Write runs fn in a serialized read-write transaction. The transaction
// commits only when fn returns nil; AfterCommit hooks run after a successful
// commit and are discarded otherwise.
func (sqlm *SQLiteManager) Write(fn func(tx *Tx) error) error {
	tx, err := sqlm.commitWrite(fn)
	if err != nil {
		return err
	}

	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

func (sqlm *SQLiteManager) commitWrite(fn func(tx *Tx) error) (*Tx, error) {
	sqlm.writeMu.Lock()
	defer sqlm.writeMu.Unlock()

	sqlTx, err := sqlm.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin write transaction: %v", err)
	}

	committed := false
	defer func() {
		// Also runs while a panic from fn unwinds
		if !committed {
			sqlTx.Rollback()
		}
	}()

	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	committed = true

	// Still under writeMu, so the next write sees these effects
	for _, hook := range tx.onCommit {
		hook()
	}

	return tx, nil
}

// WriteAsync runs Write on a new goroutine and reports the result to completion
func (sqlm *SQLiteManager) WriteAsync(fn func(tx *Tx) error, completion func(error)) {
	go func() {
		err := sqlm.Write(fn)
		if err != nil {
			sqlm.logger.Warn(fmt.Sprintf("Async write failed: %v", err), "database")
		}
		if completion != nil {
			completion(err)
		}
	}()
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

// Close closes the database
func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}

// PerformMaintenance runs SQLite housekeeping
func (sqlm *SQLiteManager) PerformMaintenance() {
	if _, err := sqlm.db.Exec("PRAGMA optimize;"); err != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to optimize database: %v", err), "database")
	}
}

// Tx is a transaction handle passed to every state mutation
type Tx struct {
	tx          *sql.Tx
	readOnly    bool
	onCommit    []func()
	afterCommit []func()
	values      map[interface{}]interface{}
}

// ReadOnly reports whether the transaction was opened by Read
func (tx *Tx) ReadOnly() bool {
	return tx.readOnly
}

// Value returns state stashed on the transaction with SetValue
func (tx *Tx) Value(key interface{}) (interface{}, bool) {
	v, ok := tx.values[key]
	return v, ok
}

// SetValue stashes transaction-local state. It is dropped with the Tx.
func (tx *Tx) SetValue(key, value interface{}) {
	if tx.values == nil {
		tx.values = make(map[interface{}]interface{})
	}
	tx.values[key] = value
}

// OnCommit schedules fn to run right after commit, before the next write can
// begin. fn must be quick and must not open a transaction.
func (tx *Tx) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// AfterCommit schedules fn to run once the enclosing write commits and the
// write lock is released
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

func (tx *Tx) exec(query string, args ...interface{}) (sql.Result, error) {
	if tx.readOnly {
		return nil, ErrReadOnly
	}
	return tx.tx.Exec(query, args...)
}

func (tx *Tx) query(query string, args ...interface{}) (*sql.Rows, error) {
	return tx.tx.Query(query, args...)
}

func (tx *Tx) queryRow(query string, args ...interface{}) *sql.Row {
	return tx.tx.QueryRow(query, args...)
}

// boolToInt converts bool to int for SQLite storage
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
