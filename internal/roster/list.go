package roster

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"
)

// ErrIndexOutOfRange is returned for a position outside the list.
var ErrIndexOutOfRange = stderrors.New("index out of range")

// View is a consistent copy of the list.
type View struct {
	Records []Record `json:"records"`
	// Stale is set while the remote subscription is down.
	Stale bool `json:"stale"`
	// Optimistic is set after a local move until the next remote snapshot.
	Optimistic bool      `json:"optimistic"`
	Synced     bool      `json:"synced"`
	SyncedAt   time.Time `json:"syncedAt,omitempty"`
	Version    uint64    `json:"version"`
}

// List is the local ordered mirror of the member collection. It is written
// by the synchronizer (whole snapshots) and by the reorder controller (single
// moves). A snapshot always replaces whatever local order is present.
type List struct {
	mu         sync.Mutex
	records    []Record
	stale      bool
	optimistic bool
	synced     bool
	syncedAt   time.Time
	version    uint64
	subs       map[int]chan View
	next       int
}

// NewList creates an empty, unsynced list.
func NewList() *List {
	return &List{subs: make(map[int]chan View)}
}

// Replace installs a remote snapshot.
func (l *List) Replace(records []Record, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append([]Record(nil), records...)
	l.stale = false
	l.optimistic = false
	l.synced = true
	l.syncedAt = at
	l.version++
	l.publishLocked()
}

// Move removes the record at from and reinserts it at to.
func (l *List) Move(from, to int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.records)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move %d to %d in list of %d: %w", from, to, n, ErrIndexOutOfRange)
	}
	if from == to {
		return nil
	}

	moved := l.records[from]
	l.records = append(l.records[:from], l.records[from+1:]...)
	l.records = append(l.records[:to], append([]Record{moved}, l.records[to:]...)...)
	l.optimistic = true
	l.version++
	l.publishLocked()
	return nil
}

// SetStale marks the list as no longer receiving remote updates.
func (l *List) SetStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stale {
		return
	}
	l.stale = true
	l.version++
	l.publishLocked()
}

// Len returns the number of records.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Snapshot returns a copy of the current state.
func (l *List) Snapshot() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewLocked()
}

// Subscribe delivers the current view and every later change, latest wins.
// The channel closes when ctx ends.
func (l *List) Subscribe(ctx context.Context) <-chan View {
	ch := make(chan View, 1)

	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = ch
	ch <- l.viewLocked()
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()

	return ch
}

func (l *List) viewLocked() View {
	return View{
		Records:    append([]Record{}, l.records...),
		Stale:      l.stale,
		Optimistic: l.optimistic,
		Synced:     l.synced,
		SyncedAt:   l.syncedAt,
		Version:    l.version,
	}
}

func (l *List) publishLocked() {
	if len(l.subs) == 0 {
		return
	}
	v := l.viewLocked()
	for _, ch := range l.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
