// Package audit persists one immutable record per chat request and answers
// usage queries over them.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// Store is the persistence surface for audit records.
type Store interface {
	Insert(ctx context.Context, record *models.AuditRecord) error
	Recent(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error)
	GetByID(ctx context.Context, id string) (*models.AuditRecord, error)
	UsageSummary(ctx context.Context, userID string, since time.Time) (*models.UsageSummary, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	// DefaultRecentLimit applies when a listing request does not set one.
	DefaultRecentLimit = 50
	// MaxRecentLimit caps a single listing request.
	MaxRecentLimit = 500
)

// PostgresStore persists audit records with raw SQL over the shared pool.
// tools_used and mcps_accessed are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const auditColumns = `id, user_id, message, iterations, tool_calls_count,
	tools_used, mcps_accessed,
	tokens_input, tokens_output, tokens_cached, cost_estimate,
	status, warning, duration_ms, source_tag, conversation_ref, created_at`

// Insert writes one record. A missing ID or timestamp is filled in, never
// overwritten.
func (s *PostgresStore) Insert(ctx context.Context, record *models.AuditRecord) error {
	id := record.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	toolsUsed, err := marshalStringList(record.ToolsUsed)
	if err != nil {
		return fmt.Errorf("failed to encode tools_used: %w", err)
	}
	mcpsAccessed, err := marshalStringList(record.MCPsAccessed)
	if err != nil {
		return fmt.Errorf("failed to encode mcps_accessed: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		id, record.UserID, record.Message,
		record.Iterations, record.ToolCallsCount,
		toolsUsed, mcpsAccessed,
		record.TokensInput, record.TokensOutput, record.TokensCached, record.CostEstimate,
		string(record.Status), nullIfEmpty(record.Warning), record.DurationMs,
		record.SourceTag, nullIfEmpty(record.ConversationRef), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first, optionally filtered by
// user. limit <= 0 falls back to DefaultRecentLimit.
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+`
		FROM audit_records
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// GetByID fetches one record. Unknown or malformed IDs map to
// services.ErrNotFound so the API layer answers 404 rather than 500.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*models.AuditRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: audit record %s", services.ErrNotFound, id)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_records WHERE id = $1`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: audit record %s", services.ErrNotFound, id)
		}
		return nil, err
	}
	return record, nil
}

// UsageSummary aggregates one user's requests since the given time.
func (s *PostgresStore) UsageSummary(ctx context.Context, userID string, since time.Time) (*models.UsageSummary, error) {
	summary := &models.UsageSummary{UserID: userID, Since: since}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(tool_calls_count), 0),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(tokens_cached), 0),
			COALESCE(SUM(cost_estimate), 0)
		FROM audit_records
		WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(
		&summary.Requests, &summary.ToolCalls,
		&summary.TokensInput, &summary.TokensOutput, &summary.TokensCached,
		&summary.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return summary, nil
}

// PurgeBefore deletes records older than cutoff and reports how many went.
// The retention sweep calls this; it is idempotent and safe across replicas.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return result.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.AuditRecord, error) {
	var (
		record          models.AuditRecord
		status          string
		toolsUsed       []byte
		mcpsAccessed    []byte
		warning         sql.NullString
		conversationRef sql.NullString
	)

	err := row.Scan(
		&record.ID, &record.UserID, &record.Message,
		&record.Iterations, &record.ToolCallsCount,
		&toolsUsed, &mcpsAccessed,
		&record.TokensInput, &record.TokensOutput, &record.TokensCached, &record.CostEstimate,
		&status, &warning, &record.DurationMs,
		&record.SourceTag, &conversationRef, &record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	record.Status = models.AuditStatus(status)
	record.Warning = warning.String
	record.ConversationRef = conversationRef.String
	if err := json.Unmarshal(toolsUsed, &record.ToolsUsed); err != nil {
		return nil, fmt.Errorf("failed to decode tools_used: %w", err)
	}
	if err := json.Unmarshal(mcpsAccessed, &record.MCPsAccessed); err != nil {
		return nil, fmt.Errorf("failed to decode mcps_accessed: %w", err)
	}
	return &record, nil
}

// marshalStringList encodes a string slice as JSONB input, mapping nil to
// the empty array so the column never stores SQL-visible nulls.
func marshalStringList(values []string) ([]byte, error) {
	if values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(values)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
