package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
	"github.com/personal/interstitial-ad-coordinator/pkg/monitoring"
)

const operationsTable = "interstitial_operations"

const selectOperationColumns = `
	SELECT operation_id, kind, placement_id, status, result, error_code, error_message, created_at, completed_at
	FROM interstitial_operations`

// PostgresOperationRepository implements operation.Repository using PostgreSQL
type PostgresOperationRepository struct {
	db *sql.DB
}

// NewPostgresOperationRepository creates a new PostgresOperationRepository
func NewPostgresOperationRepository(db *sql.DB) *PostgresOperationRepository {
	return &PostgresOperationRepository{db: db}
}

// operationRow represents an operation row in the database
type operationRow struct {
	OperationID  string         `db:"operation_id"`
	Kind         string         `db:"kind"`
	PlacementID  string         `db:"placement_id"`
	Status       string         `db:"status"`
	Result       bool           `db:"result"`
	ErrorCode    sql.NullString `db:"error_code"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	CompletedAt  *time.Time     `db:"completed_at"`
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s scanner) (*operation.Operation, error) {
	var row operationRow
	if err := s.Scan(
		&row.OperationID,
		&row.Kind,
		&row.PlacementID,
		&row.Status,
		&row.Result,
		&row.ErrorCode,
		&row.ErrorMessage,
		&row.CreatedAt,
		&row.CompletedAt,
	); err != nil {
		return nil, err
	}
	return row.toOperation()
}

// toOperation converts a database row to an operation
func (r *operationRow) toOperation() (*operation.Operation, error) {
	id, err := operation.ParseID(r.OperationID)
	if err != nil {
		return nil, fmt.Errorf("invalid operation ID %q: %w", r.OperationID, err)
	}

	kind, err := operation.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("invalid operation kind %q: %w", r.Kind, err)
	}

	return operation.Reconstruct(
		id,
		kind,
		r.PlacementID,
		operation.Status(r.Status),
		r.Result,
		r.ErrorCode.String,
		r.ErrorMessage.String,
		r.CreatedAt,
		r.CompletedAt,
	), nil
}

// Save inserts or updates an operation. A completed row is never reopened.
func (r *PostgresOperationRepository) Save(ctx context.Context, op *operation.Operation) error {
	query := `
		INSERT INTO interstitial_operations (operation_id, kind, placement_id, status, result, error_code, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (operation_id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
		WHERE interstitial_operations.status = 'pending'
	`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		op.ID().String(),
		string(op.Kind()),
		op.PlacementID(),
		string(op.Status()),
		op.Result(),
		nullString(op.ErrorCode()),
		nullString(op.ErrorMessage()),
		op.CreatedAt(),
		op.CompletedAt(),
	)
	monitoring.RecordDatabaseQuery("upsert", operationsTable, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}

	return nil
}

// FindByID finds an operation by its ID
func (r *PostgresOperationRepository) FindByID(ctx context.Context, id operation.ID) (*operation.Operation, error) {
	query := selectOperationColumns + `
	WHERE operation_id = $1`

	start := time.Now()
	op, err := scanOperation(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		monitoring.RecordDatabaseQuery("select", operationsTable, time.Since(start), nil)
		return nil, operation.ErrOperationNotFound
	}
	monitoring.RecordDatabaseQuery("select", operationsTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to find operation: %w", err)
	}

	return op, nil
}

// FindRecent returns the most recent operations
func (r *PostgresOperationRepository) FindRecent(ctx context.Context, limit int) ([]*operation.Operation, error) {
	query := selectOperationColumns + `
	ORDER BY created_at DESC
	LIMIT $1`

	return r.query(ctx, query, limit)
}

// FindByPlacement returns the most recent operations for a placement
func (r *PostgresOperationRepository) FindByPlacement(ctx context.Context, placementID string, limit int) ([]*operation.Operation, error) {
	query := selectOperationColumns + `
	WHERE placement_id = $1
	ORDER BY created_at DESC
	LIMIT $2`

	return r.query(ctx, query, placementID, limit)
}

func (r *PostgresOperationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*operation.Operation, error) {
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, args...)
	monitoring.RecordDatabaseQuery("select", operationsTable, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}

	return ops, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
