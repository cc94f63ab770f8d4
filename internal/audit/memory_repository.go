package audit

import (
	"context"
	"log"
	"sync"
)

// MemoryRepository keeps the chain in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	entries  []*Entry
	watchers map[int]chan *Entry
	next     int
}

// NewMemoryRepository creates an empty in-memory chain.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{watchers: make(map[int]chan *Entry)}
}

// Initialize implements Repository.
func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

// Append implements Repository.
func (r *MemoryRepository) Append(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev string
	if n := len(r.entries); n > 0 {
		prev = r.entries[n-1].Hash
	}
	entry.seal(int64(len(r.entries)+1), prev)

	stored := *entry
	r.entries = append(r.entries, &stored)

	for id, ch := range r.watchers {
		out := stored
		select {
		case ch <- &out:
		default:
			log.Printf("audit: watcher %d is behind, dropped entry %d", id, stored.Sequence)
		}
	}
	return nil
}

// List implements Repository.
func (r *MemoryRepository) List(ctx context.Context, limit int) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]*Entry, 0, limit)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := *r.entries[i]
		out = append(out, &e)
	}
	return out, nil
}

// VerifyChain implements Repository.
func (r *MemoryRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	entries, err := r.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails), nil
}

// Watch implements Watcher.
func (r *MemoryRepository) Watch(ctx context.Context) (<-chan *Entry, error) {
	ch := make(chan *Entry, 16)

	r.mu.Lock()
	id := r.next
	r.next++
	r.watchers[id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers, id)
		close(ch)
		r.mu.Unlock()
	}()

	return ch, nil
}
