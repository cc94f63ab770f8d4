package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/psp-hub/platform/internal/shared/errors"
)

const uniqueViolation = "23505"

// querier is the subset of *pgxpool.Pool the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores the chain in the audit_entries table. The table
// rejects UPDATE and DELETE through a trigger.
type PostgresRepository struct {
	pool     querier
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewPostgresRepository creates a new audit repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Initialize loads the last hash and sequence from the database
func (r *PostgresRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadTailLocked(ctx)
}

func (r *PostgresRepository) loadTailLocked(ctx context.Context) error {
	var (
		seq  int64
		hash string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT sequence, hash FROM audit_entries
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(err, "failed to get last audit hash")
	}

	r.sequence = seq
	r.lastHash = hash
	return nil
}

// Append implements Repository. If another process extended the chain first
// the tail is reloaded and the append retried once.
func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.insertLocked(ctx, entry)
	if isUniqueViolation(err) {
		if err := r.loadTailLocked(ctx); err != nil {
			return err
		}
		err = r.insertLocked(ctx, entry)
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to append audit entry")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PostgresRepository) insertLocked(ctx context.Context, entry *Entry) error {
	entry.seal(r.sequence+1, r.lastHash)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_entries (
			sequence, id, actor_name, actor_role, action,
			timestamp, local_date, local_time, hash, prev_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Sequence, entry.ID, entry.ActorName, entry.ActorRole, entry.Action,
		entry.Timestamp, entry.LocalDate, entry.LocalTime, entry.Hash, entry.PrevHash,
	)
	if err != nil {
		return err
	}

	r.sequence = entry.Sequence
	r.lastHash = entry.Hash
	return nil
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT sequence, id, actor_name, actor_role, action,
			timestamp, local_date, local_time, hash, prev_hash
		FROM audit_entries
		ORDER BY sequence DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.Sequence, &e.ID, &e.ActorName, &e.ActorRole, &e.Action,
			&e.Timestamp, &e.LocalDate, &e.LocalTime, &e.Hash, &e.PrevHash,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan audit entry")
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit entries")
	}

	return entries, nil
}

// VerifyChain implements Repository.
func (r *PostgresRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	entries, err := r.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails), nil
}
