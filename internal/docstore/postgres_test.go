package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeTx records statements and answers from a per-prefix table.
type fakeTx struct {
	sql  []string
	args [][]any
	tags map[string]string
	fail map[string]error
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = strings.Join(strings.Fields(sql), " ")
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	for prefix, err := range f.fail {
		if strings.HasPrefix(sql, prefix) {
			return pgconn.CommandTag{}, err
		}
	}
	for prefix, tag := range f.tags {
		if strings.HasPrefix(sql, prefix) {
			return pgconn.NewCommandTag(tag), nil
		}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func TestExecWriteUpdateMissingIsNotFound(t *testing.T) {
	tx := &fakeTx{tags: map[string]string{"UPDATE": "UPDATE 0"}}
	err := execWrite(context.Background(), tx, Write{Op: OpUpdate, Collection: "members", ID: "A", Fields: map[string]any{"order": 1}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	tx = &fakeTx{tags: map[string]string{"UPDATE": "UPDATE 1"}}
	if err := execWrite(context.Background(), tx, Write{Op: OpUpdate, Collection: "members", ID: "A"}); err != nil {
		t.Errorf("Expected update to succeed, got %v", err)
	}
}

func TestExecWriteStatements(t *testing.T) {
	tests := []struct {
		name   string
		write  Write
		prefix string
	}{
		{"set", Write{Op: OpSet, Collection: "members", ID: "A", Fields: map[string]any{"name": "A"}}, "INSERT INTO documents"},
		{"delete", Write{Op: OpDelete, Collection: "members", ID: "A"}, "DELETE FROM documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeTx{}
			if err := execWrite(context.Background(), tx, tt.write); err != nil {
				t.Fatalf("execWrite failed: %v", err)
			}
			if len(tx.sql) != 1 || !strings.HasPrefix(tx.sql[0], tt.prefix) {
				t.Errorf("Unexpected statements: %v", tx.sql)
			}
			if tx.args[0][0] != "members" || tx.args[0][1] != "A" {
				t.Errorf("Unexpected args: %v", tx.args[0])
			}
		})
	}
}

func TestExecWriteErrors(t *testing.T) {
	boom := errors.New("connection reset")
	tx := &fakeTx{fail: map[string]error{"DELETE": boom}}
	err := execWrite(context.Background(), tx, Write{Op: OpDelete, Collection: "members", ID: "A"})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "members/A") {
		t.Errorf("Expected wrapped error, got %v", err)
	}

	if err := execWrite(context.Background(), &fakeTx{}, Write{Op: WriteOp(42)}); err == nil {
		t.Error("Expected error for unknown op")
	}
}

// TestApplyBatchNotifiesOncePerCollection tests that notices follow the writes and are not repeated
func TestApplyBatchNotifiesOncePerCollection(t *testing.T) {
	tx := &fakeTx{tags: map[string]string{"UPDATE": "UPDATE 1"}}
	writes := []Write{
		{Op: OpUpdate, Collection: "members", ID: "A"},
		{Op: OpUpdate, Collection: "members", ID: "B"},
		{Op: OpSet, Collection: "roles", ID: "u-1"},
	}
	if err := applyBatch(context.Background(), tx, writes); err != nil {
		t.Fatalf("applyBatch failed: %v", err)
	}

	if len(tx.sql) != 5 {
		t.Fatalf("Expected 3 writes and 2 notices, got %v", tx.sql)
	}
	for i, want := range []string{"members", "roles"} {
		stmt, args := tx.sql[3+i], tx.args[3+i]
		if !strings.HasPrefix(stmt, "SELECT pg_notify") || args[0] != NotifyChannel || args[1] != want {
			t.Errorf("Notice %d: %s %v", i, stmt, args)
		}
	}
}

func TestApplyBatchStopsAtMissingDocument(t *testing.T) {
	tx := &fakeTx{tags: map[string]string{"UPDATE": "UPDATE 0"}}
	writes := []Write{
		{Op: OpUpdate, Collection: "members", ID: "gone"},
		{Op: OpUpdate, Collection: "members", ID: "B"},
	}
	if err := applyBatch(context.Background(), tx, writes); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if len(tx.sql) != 1 {
		t.Errorf("Expected the batch to stop without notices, got %v", tx.sql)
	}
}
