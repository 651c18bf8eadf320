// ABOUTME: Agency execution and seat persistence for the SQLite store
// ABOUTME: Save/update/get/list for agency_executions and agency_seats rows

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveExecution inserts a new agency execution record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agency_executions (agency_id, workflow_id, conversation_id, strategy, aggregate_status, aggregate_cost, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.AgencyID,
		exec.WorkflowID,
		exec.ConversationID,
		exec.Strategy,
		exec.AggregateStatus,
		exec.AggregateCost,
		exec.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatNullableTime(exec.CompletedAt),
	)
	if err != nil {
		return NewStorageError("save execution", err)
	}
	s.logger.Debug("saved execution", "agency_id", exec.AgencyID, "strategy", exec.Strategy)
	return nil
}

// UpdateExecution updates the mutable fields of an execution record.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agency_executions
		SET aggregate_status = ?, aggregate_cost = ?, completed_at = ?
		WHERE agency_id = ?
	`,
		exec.AggregateStatus,
		exec.AggregateCost,
		formatNullableTime(exec.CompletedAt),
		exec.AgencyID,
	)
	if err != nil {
		return NewStorageError("update execution", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("update execution", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution retrieves an execution record and its seats.
// Returns ErrNotFound if the agency does not exist.
func (s *SQLiteStore) GetExecution(ctx context.Context, agencyID string) (*Execution, []Seat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agency_id, workflow_id, conversation_id, strategy, aggregate_status, aggregate_cost, created_at, completed_at
		FROM agency_executions
		WHERE agency_id = ?
	`, agencyID)

	exec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, NewStorageError("get execution", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agency_id, role_id, gmi_instance_id, status, retry_count, cost, output_summary, last_error, created_at, updated_at
		FROM agency_seats
		WHERE agency_id = ?
		ORDER BY role_id ASC
	`, agencyID)
	if err != nil {
		return nil, nil, NewStorageError("get execution", err)
	}
	defer rows.Close()

	var seats []Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, nil, NewStorageError("get execution", err)
		}
		seats = append(seats, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, NewStorageError("get execution", err)
	}

	return exec, seats, nil
}

// ListExecutions returns executions matching the filter, most recent first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	query := `
		SELECT agency_id, workflow_id, conversation_id, strategy, aggregate_status, aggregate_cost, created_at, completed_at
		FROM agency_executions
	`
	var conditions []string
	var args []any
	if f.Status != "" {
		conditions = append(conditions, "aggregate_status = ?")
		args = append(args, f.Status)
	}
	if f.ConversationID != "" {
		conditions = append(conditions, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("list executions", err)
	}
	defer rows.Close()

	var execs []Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, NewStorageError("list executions", err)
		}
		execs = append(execs, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list executions", err)
	}
	return execs, nil
}

// SaveSeat inserts or replaces a seat record. Upsert semantics keep redundant
// coordinator writes safe.
func (s *SQLiteStore) SaveSeat(ctx context.Context, seat *Seat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agency_seats (agency_id, role_id, gmi_instance_id, status, retry_count, cost, output_summary, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agency_id, role_id) DO UPDATE SET
			gmi_instance_id = excluded.gmi_instance_id,
			status = excluded.status,
			retry_count = excluded.retry_count,
			cost = excluded.cost,
			output_summary = excluded.output_summary,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`,
		seat.AgencyID,
		seat.RoleID,
		seat.GMIInstanceID,
		seat.Status,
		seat.RetryCount,
		seat.Cost,
		nullString(seat.OutputSummary),
		nullString(seat.LastError),
		seat.CreatedAt.UTC().Format(time.RFC3339Nano),
		seat.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return NewStorageError("save seat", err)
	}
	return nil
}

// UpdateSeat updates the mutable fields of a seat record.
func (s *SQLiteStore) UpdateSeat(ctx context.Context, seat *Seat) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE agency_seats
		SET status = ?, retry_count = ?, cost = ?, output_summary = ?, last_error = ?, updated_at = ?
		WHERE agency_id = ? AND role_id = ?
	`,
		seat.Status,
		seat.RetryCount,
		seat.Cost,
		nullString(seat.OutputSummary),
		nullString(seat.LastError),
		seat.UpdatedAt.UTC().Format(time.RFC3339Nano),
		seat.AgencyID,
		seat.RoleID,
	)
	if err != nil {
		return NewStorageError("update seat", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("update seat", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// scanExecution reads one execution row from a row or rows scanner.
func scanExecution(scan func(dest ...any) error) (*Execution, error) {
	exec := &Execution{}
	var createdAt string
	var completedAt sql.NullString
	err := scan(&exec.AgencyID, &exec.WorkflowID, &exec.ConversationID, &exec.Strategy,
		&exec.AggregateStatus, &exec.AggregateCost, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if exec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		exec.CompletedAt = &t
	}
	return exec, nil
}

// scanSeat reads one seat row.
func scanSeat(rows *sql.Rows) (Seat, error) {
	var seat Seat
	var output, lastError sql.NullString
	var createdAt, updatedAt string
	err := rows.Scan(&seat.AgencyID, &seat.RoleID, &seat.GMIInstanceID, &seat.Status,
		&seat.RetryCount, &seat.Cost, &output, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return seat, err
	}
	seat.OutputSummary = output.String
	seat.LastError = lastError.String
	if seat.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return seat, fmt.Errorf("parsing seat created_at: %w", err)
	}
	if seat.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return seat, fmt.Errorf("parsing seat updated_at: %w", err)
	}
	return seat, nil
}

// formatNullableTime renders an optional time for a nullable DATETIME column.
func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
