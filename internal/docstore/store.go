// Package docstore is the document collaborator behind the roster and role
// lookups: named collections of JSON documents with full-snapshot push
// subscriptions and atomic multi-document batches.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("document store closed")
)

// Document is one stored record. Fields never contain the id.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Snapshot is the complete, ordered content of a collection at one instant.
type Snapshot struct {
	Collection string
	Documents  []Document
	ReadAt     time.Time
}

// WriteOp is the kind of a batched write.
type WriteOp int

const (
	// OpUpdate merges Fields into an existing document. The batch fails if it is missing.
	OpUpdate WriteOp = iota
	// OpSet creates or replaces the document.
	OpSet
	// OpDelete removes the document if present.
	OpDelete
)

func (op WriteOp) String() string {
	switch op {
	case OpUpdate:
		return "update"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("WriteOp(%d)", int(op))
	}
}

// Write is one element of a batch.
type Write struct {
	Op         WriteOp
	Collection string
	ID         string
	Fields     map[string]any
}

// Reader reads single documents.
type Reader interface {
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
}

// Subscriber streams full snapshots of a collection ordered by one field
// ascending (ties broken by id). The first snapshot is sent immediately. The
// channel is closed when ctx ends or the underlying stream fails; callers
// tell the two apart with ctx.Err(). A slow reader skips intermediate
// snapshots but always receives the latest one.
type Subscriber interface {
	Subscribe(ctx context.Context, collection, orderBy string) (<-chan Snapshot, error)
}

// Writer mutates documents. CommitBatch is all-or-nothing.
type Writer interface {
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	CommitBatch(ctx context.Context, writes []Write) error
}

// Store is the full document store.
type Store interface {
	Reader
	Subscriber
	Writer
}

// deliverLatest hands snap to ch, replacing an undelivered older snapshot.
// Only the owner of ch may call it.
func deliverLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}
