package audit

import (
	"context"
)

// Repository is append-only audit storage. Implementations serialize
// appends so the hash chain stays linear.
type Repository interface {
	// Initialize loads the chain tail (last hash, sequence).
	Initialize(ctx context.Context) error

	// Append seals entry after the current tail and stores it.
	Append(ctx context.Context, entry *Entry) error

	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]*Entry, error)

	// VerifyChain checks content hashes and linkage of the newest limit entries.
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)
}

// Watcher is implemented by repositories that can push new entries.
type Watcher interface {
	// Watch delivers entries appended after the call. The channel closes
	// when ctx ends or the backend drops the feed.
	Watch(ctx context.Context) (<-chan *Entry, error)
}

var (
	_ Repository = (*KurrentDBRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
	_ Watcher    = (*KurrentDBRepository)(nil)
	_ Watcher    = (*MemoryRepository)(nil)
)
