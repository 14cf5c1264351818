package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/slipway/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

// deploymentRow represents a deployment history row in the database.
type deploymentRow struct {
	ID           string  `db:"id"`
	AppName      string  `db:"app_name"`
	Artifact     string  `db:"artifact"`
	State        string  `db:"state"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	UndeployedAt *string `db:"undeployed_at"`
}

// instanceRow represents an instance history row in the database.
type instanceRow struct {
	RowID        int64   `db:"id"`
	DeploymentID string  `db:"deployment_id"`
	Index        int     `db:"idx"`
	PID          int     `db:"pid"`
	Port         int     `db:"port"`
	GUID         string  `db:"guid"`
	WorkDir      string  `db:"work_dir"`
	StartedAt    string  `db:"started_at"`
	ExitedAt     *string `db:"exited_at"`
	ExitCode     *int    `db:"exit_code"`
}

// =============================================================================
// Deployment Operations
// =============================================================================

func (s *SQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.db, record)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateDeploymentState(ctx context.Context, id string, state domain.DeploymentState, errorMessage string) error {
	return updateDeploymentState(ctx, s.db, id, state, errorMessage)
}

func (s *SQLiteStore) MarkUndeployed(ctx context.Context, id string, at time.Time) error {
	return markUndeployed(ctx, s.db, id, at)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.db, opts)
}

// =============================================================================
// Instance Operations
// =============================================================================

func (s *SQLiteStore) CreateInstance(ctx context.Context, record *domain.InstanceRecord) error {
	return createInstance(ctx, s.db, record)
}

func (s *SQLiteStore) MarkInstanceExited(ctx context.Context, deploymentID string, index int, exitedAt time.Time, exitCode int) error {
	return markInstanceExited(ctx, s.db, deploymentID, index, exitedAt, exitCode)
}

func (s *SQLiteStore) ListInstances(ctx context.Context, deploymentID string) ([]domain.InstanceRecord, error) {
	return listInstances(ctx, s.db, deploymentID)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.tx, record)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateDeploymentState(ctx context.Context, id string, state domain.DeploymentState, errorMessage string) error {
	return updateDeploymentState(ctx, s.tx, id, state, errorMessage)
}

func (s *txSQLiteStore) MarkUndeployed(ctx context.Context, id string, at time.Time) error {
	return markUndeployed(ctx, s.tx, id, at)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateInstance(ctx context.Context, record *domain.InstanceRecord) error {
	return createInstance(ctx, s.tx, record)
}

func (s *txSQLiteStore) MarkInstanceExited(ctx context.Context, deploymentID string, index int, exitedAt time.Time, exitCode int) error {
	return markInstanceExited(ctx, s.tx, deploymentID, index, exitedAt, exitCode)
}

func (s *txSQLiteStore) ListInstances(ctx context.Context, deploymentID string) ([]domain.InstanceRecord, error) {
	return listInstances(ctx, s.tx, deploymentID)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createDeployment(ctx context.Context, exec executor, record *domain.DeploymentRecord) error {
	query := `
		INSERT INTO deployments (
			id, app_name, artifact, state, error_message, created_at, updated_at, undeployed_at
		) VALUES (
			:id, :app_name, :artifact, :state, :error_message, :created_at, :updated_at, :undeployed_at
		)`

	var undeployedAt *string
	if record.UndeployedAt != nil {
		s := record.UndeployedAt.Format(time.RFC3339)
		undeployedAt = &s
	}

	row := map[string]any{
		"id":            record.ID,
		"app_name":      record.AppName,
		"artifact":      record.Artifact,
		"state":         string(record.State),
		"error_message": record.ErrorMessage,
		"created_at":    record.CreatedAt.Format(time.RFC3339),
		"updated_at":    record.UpdatedAt.Format(time.RFC3339),
		"undeployed_at": undeployedAt,
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.id") {
			return NewStoreError("CreateDeployment", "deployment", record.ID, "deployment with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", "deployment", record.ID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, id string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", id, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

func updateDeploymentState(ctx context.Context, exec executor, id string, state domain.DeploymentState, errorMessage string) error {
	query := `UPDATE deployments SET state = ?, error_message = ?, updated_at = ? WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, string(state), errorMessage, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return NewStoreError("UpdateDeploymentState", "deployment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeploymentState", "deployment", id, "deployment not found", ErrNotFound)
	}

	return nil
}

func markUndeployed(ctx context.Context, exec executor, id string, at time.Time) error {
	query := `UPDATE deployments SET undeployed_at = ?, updated_at = ? WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, at.Format(time.RFC3339), at.Format(time.RFC3339), id)
	if err != nil {
		return NewStoreError("MarkUndeployed", "deployment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("MarkUndeployed", "deployment", id, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	records := make([]domain.DeploymentRecord, 0, len(rows))
	for _, row := range rows {
		record, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

func createInstance(ctx context.Context, exec executor, record *domain.InstanceRecord) error {
	query := `
		INSERT INTO instances (
			deployment_id, idx, pid, port, guid, work_dir, started_at, exited_at, exit_code
		) VALUES (
			:deployment_id, :idx, :pid, :port, :guid, :work_dir, :started_at, :exited_at, :exit_code
		)`

	var exitedAt *string
	if record.ExitedAt != nil {
		s := record.ExitedAt.Format(time.RFC3339)
		exitedAt = &s
	}

	row := map[string]any{
		"deployment_id": record.DeploymentID,
		"idx":           record.Index,
		"pid":           record.PID,
		"port":          record.Port,
		"guid":          record.GUID,
		"work_dir":      record.WorkDir,
		"started_at":    record.StartedAt.Format(time.RFC3339),
		"exited_at":     exitedAt,
		"exit_code":     record.ExitCode,
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateInstance", "instance", record.DeploymentID, "deployment not found", ErrNotFound)
		}
		return NewStoreError("CreateInstance", "instance", record.DeploymentID, err.Error(), err)
	}

	return nil
}

func markInstanceExited(ctx context.Context, exec executor, deploymentID string, index int, exitedAt time.Time, exitCode int) error {
	// Only the still-open row for this index is closed; exited rows are
	// immutable history.
	query := `
		UPDATE instances SET exited_at = ?, exit_code = ?
		WHERE deployment_id = ? AND idx = ? AND exited_at IS NULL`

	result, err := exec.ExecContext(ctx, query, exitedAt.Format(time.RFC3339), exitCode, deploymentID, index)
	if err != nil {
		return NewStoreError("MarkInstanceExited", "instance", deploymentID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("MarkInstanceExited", "instance", deploymentID, "no running instance at this index", ErrNotFound)
	}

	return nil
}

func listInstances(ctx context.Context, exec executor, deploymentID string) ([]domain.InstanceRecord, error) {
	query := `SELECT * FROM instances WHERE deployment_id = ? ORDER BY idx ASC, id ASC`

	var rows []instanceRow
	err := exec.SelectContext(ctx, &rows, query, deploymentID)
	if err != nil {
		return nil, NewStoreError("ListInstances", "instance", deploymentID, err.Error(), err)
	}

	records := make([]domain.InstanceRecord, 0, len(rows))
	for _, row := range rows {
		record, err := rowToInstance(&row)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}

// =============================================================================
// Row Conversions
// =============================================================================

func rowToDeployment(row *deploymentRow) (*domain.DeploymentRecord, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid created_at", ErrInvalidData)
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid updated_at", ErrInvalidData)
	}

	record := &domain.DeploymentRecord{
		ID:           row.ID,
		AppName:      row.AppName,
		Artifact:     row.Artifact,
		State:        domain.DeploymentState(row.State),
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if row.UndeployedAt != nil {
		undeployedAt, err := parseTime(*row.UndeployedAt)
		if err != nil {
			return nil, NewStoreError("rowToDeployment", "deployment", row.ID, "invalid undeployed_at", ErrInvalidData)
		}
		record.UndeployedAt = &undeployedAt
	}

	return record, nil
}

func rowToInstance(row *instanceRow) (*domain.InstanceRecord, error) {
	startedAt, err := parseTime(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToInstance", "instance", row.DeploymentID, "invalid started_at", ErrInvalidData)
	}

	record := &domain.InstanceRecord{
		DeploymentID: row.DeploymentID,
		Index:        row.Index,
		PID:          row.PID,
		Port:         row.Port,
		GUID:         row.GUID,
		WorkDir:      row.WorkDir,
		StartedAt:    startedAt,
		ExitCode:     row.ExitCode,
	}

	if row.ExitedAt != nil {
		exitedAt, err := parseTime(*row.ExitedAt)
		if err != nil {
			return nil, NewStoreError("rowToInstance", "instance", row.DeploymentID, "invalid exited_at", ErrInvalidData)
		}
		record.ExitedAt = &exitedAt
	}

	return record, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
