package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Work files ---

// RecordWorkFile inserts an upload record. Re-recording the same file ID is a no-op.
func (s *PostgresStore) RecordWorkFile(ctx context.Context, rec *models.WorkFileRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO work_files (file_id, affinity_token, format, size, digest, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (file_id) DO NOTHING`,
		rec.FileID, rec.AffinityToken, rec.Format, rec.Size, rec.Digest, rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("record work file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkFile(ctx context.Context, fileID string) (*models.WorkFileRecord, error) {
	var r models.WorkFileRecord
	err := s.pool.QueryRow(ctx,
		`SELECT file_id, affinity_token, format, size, digest, uploaded_at
		 FROM work_files WHERE file_id = $1`, fileID,
	).Scan(&r.FileID, &r.AffinityToken, &r.Format, &r.Size, &r.Digest, &r.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work file: %w", err)
	}
	return &r, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, processor, process_id, affinity_token, state, error_code, expires_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Processor, job.ProcessID, job.AffinityToken, job.State, job.ErrorCode,
		job.ExpiresAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, processor, process_id, affinity_token, state, error_code, expires_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var j models.JobRecord
	err := row.Scan(&j.ID, &j.Processor, &j.ProcessID, &j.AffinityToken, &j.State, &j.ErrorCode,
		&j.ExpiresAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJobByProcessID(ctx context.Context, processor, processID string) (*models.JobRecord, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE processor = $1 AND process_id = $2`, processor, processID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Processor != "" {
		conditions = append(conditions, fmt.Sprintf("processor = $%d", argIdx))
		args = append(args, filter.Processor)
		argIdx++
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, filter.State)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.JobRecord{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

var validTransitions = map[models.JobState][]models.JobState{
	models.JobStateProcessing: {models.JobStateComplete, models.JobStateError, models.JobStateUnexpected},
}

// UpdateJobState moves a job out of processing. Terminal jobs cannot change state again.
func (s *PostgresStore) UpdateJobState(ctx context.Context, processor, processID string, state models.JobState, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var current models.JobState
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM jobs WHERE processor = $1 AND process_id = $2`, processor, processID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job state: %w", err)
	}

	valid := false
	for _, a := range validTransitions[current] {
		if a == state {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job state transition: %s -> %s", current, state)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET state = $3, updated_at = $4, completed_at = $4`
	args := []any{processor, processID, state, now}

	if params.ErrorCode != nil {
		query += `, error_code = $5`
		args = append(args, *params.ErrorCode)
	}
	query += " WHERE processor = $1 AND process_id = $2"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
