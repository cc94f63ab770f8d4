package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/psp-hub/platform/internal/shared/types"
)

// NotifyChannel is the Postgres channel carrying collection change notices.
// The payload is the collection name.
const NotifyChannel = "docstore_changes"

// Postgres stores documents as JSONB rows in the documents table and pushes
// snapshots by LISTENing for notices sent in the writing transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store over an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// GetDocument implements Reader.
func (p *Postgres) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var fields map[string]any
	err := p.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&fields)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Fields: fields}, nil
}

// Add implements Writer.
func (p *Postgres) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := types.NewID().String()
	err := p.CommitBatch(ctx, []Write{{Op: OpSet, Collection: collection, ID: id, Fields: fields}})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set implements Writer.
func (p *Postgres) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return p.CommitBatch(ctx, []Write{{Op: OpSet, Collection: collection, ID: id, Fields: fields}})
}

// Update implements Writer.
func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return p.CommitBatch(ctx, []Write{{Op: OpUpdate, Collection: collection, ID: id, Fields: fields}})
}

// Delete implements Writer.
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	return p.CommitBatch(ctx, []Write{{Op: OpDelete, Collection: collection, ID: id}})
}

// CommitBatch runs every write in one transaction and notifies each touched
// collection once. Postgres delivers the notices only on commit.
func (p *Postgres) CommitBatch(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyBatch(ctx, tx, writes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// execer is the part of a transaction the write path uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// applyBatch runs writes in order, then sends one notice per touched
// collection. The notices are delivered only if the transaction commits.
func applyBatch(ctx context.Context, tx execer, writes []Write) error {
	touched := make(map[string]bool)
	var collections []string
	for _, w := range writes {
		if err := execWrite(ctx, tx, w); err != nil {
			return err
		}
		if !touched[w.Collection] {
			touched[w.Collection] = true
			collections = append(collections, w.Collection)
		}
	}

	for _, collection := range collections {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, collection); err != nil {
			return fmt.Errorf("failed to notify %s: %w", collection, err)
		}
	}
	return nil
}

func execWrite(ctx context.Context, tx execer, w Write) error {
	switch w.Op {
	case OpSet:
		_, err := tx.Exec(ctx, `
			INSERT INTO documents (collection, id, fields)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, id)
			DO UPDATE SET fields = EXCLUDED.fields, updated_at = NOW()`,
			w.Collection, w.ID, cloneFields(w.Fields))
		if err != nil {
			return fmt.Errorf("failed to set %s/%s: %w", w.Collection, w.ID, err)
		}
	case OpUpdate:
		tag, err := tx.Exec(ctx, `
			UPDATE documents
			SET fields = fields || $3::jsonb, updated_at = NOW()
			WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID, cloneFields(w.Fields))
		if err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", w.Collection, w.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	case OpDelete:
		_, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID)
		if err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", w.Collection, w.ID, err)
		}
	default:
		return fmt.Errorf("unsupported write op %s", w.Op)
	}
	return nil
}

// Subscribe pins one pool connection for LISTEN and re-reads the whole
// collection on every notice for it.
func (p *Postgres) Subscribe(ctx context.Context, collection, orderBy string) (<-chan Snapshot, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	first, err := p.snapshot(ctx, collection, orderBy)
	if err != nil {
		unlisten(conn)
		return nil, err
	}

	ch := make(chan Snapshot, 1)
	ch <- first

	go func() {
		defer close(ch)
		defer unlisten(conn)

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("docstore: listen on %s ended: %v", collection, err)
				}
				return
			}
			if n.Payload != collection {
				continue
			}

			snap, err := p.snapshot(ctx, collection, orderBy)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("docstore: snapshot of %s failed: %v", collection, err)
				}
				return
			}
			deliverLatest(ch, snap)
		}
	}()

	return ch, nil
}

func (p *Postgres) snapshot(ctx context.Context, collection, orderBy string) (Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, fields FROM documents
		WHERE collection = $1
		ORDER BY fields -> $2 ASC NULLS LAST, id ASC`,
		collection, orderBy)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Fields); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s: %w", collection, err)
	}

	return Snapshot{Collection: collection, Documents: docs, ReadAt: time.Now()}, nil
}

// unlisten clears the LISTEN before handing the connection back to the pool.
func unlisten(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		conn.Conn().Close(ctx)
	}
	conn.Release()
}

var _ Store = (*Postgres)(nil)
