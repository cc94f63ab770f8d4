package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/psp-hub/platform/internal/kurrentdb"
	apperrors "github.com/psp-hub/platform/internal/shared/errors"
)

const (
	// DefaultStream is the stream holding audit entries when none is configured.
	DefaultStream = "hub-audit"
	// EntryEventType is the event type for audit entries
	EntryEventType = "AuditEntry"
)

// KurrentDBRepository appends entries to a single KurrentDB stream. Event
// number n holds sequence n+1, and appends use that as the expected
// revision so two writers cannot fork the chain.
type KurrentDBRepository struct {
	client   *kurrentdb.Client
	stream   string
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBRepository creates a repository over stream.
func NewKurrentDBRepository(client *kurrentdb.Client, stream string) *KurrentDBRepository {
	if stream == "" {
		stream = DefaultStream
	}
	return &KurrentDBRepository{client: client, stream: stream}
}

// Initialize loads the last hash and sequence from the stream
func (r *KurrentDBRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadTailLocked(ctx)
}

func (r *KurrentDBRepository) loadTailLocked(ctx context.Context) error {
	last, err := r.client.LastEvent(ctx, r.stream)
	if err != nil {
		return apperrors.Wrap(err, "failed to read audit stream")
	}

	r.lastHash = ""
	r.sequence = 0
	if last == nil {
		return nil
	}

	entry, err := decodeEntry(last)
	if err != nil {
		return apperrors.Wrap(err, "failed to decode last audit entry")
	}
	r.lastHash = entry.Hash
	r.sequence = entry.Sequence
	return nil
}

// Append implements Repository.
func (r *KurrentDBRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.appendLocked(ctx, entry)
	if errors.Is(err, kurrentdb.ErrConcurrencyConflict) {
		if err := r.loadTailLocked(ctx); err != nil {
			return err
		}
		err = r.appendLocked(ctx, entry)
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to append audit entry")
	}
	return nil
}

func (r *KurrentDBRepository) appendLocked(ctx context.Context, entry *Entry) error {
	entry.seal(r.sequence+1, r.lastHash)

	metadata := map[string]any{"sequence": entry.Sequence, "hash": entry.Hash}
	if err := r.client.Append(ctx, r.stream, uint64(r.sequence), EntryEventType, entry, metadata); err != nil {
		return err
	}

	r.sequence = entry.Sequence
	r.lastHash = entry.Hash
	return nil
}

// List implements Repository.
func (r *KurrentDBRepository) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	events, err := r.client.ReadBackwards(ctx, r.stream, uint64(limit))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read audit stream")
	}

	entries := make([]*Entry, 0, len(events))
	for _, ev := range events {
		if ev.EventType != EntryEventType {
			continue
		}
		entry, err := decodeEntry(ev)
		if err != nil {
			log.Printf("audit: skipping undecodable event %d: %v", ev.EventNumber, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// VerifyChain implements Repository.
func (r *KurrentDBRepository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	entries, err := r.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return verifyEntries(entries, includeDetails), nil
}

// Watch implements Watcher with a catch-up subscription from the stream end.
func (r *KurrentDBRepository) Watch(ctx context.Context) (<-chan *Entry, error) {
	events, err := r.client.Follow(ctx, r.stream)
	if err != nil {
		return nil, err
	}

	out := make(chan *Entry, 16)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.EventType != EntryEventType {
				continue
			}
			entry, err := decodeEntry(ev)
			if err != nil {
				log.Printf("audit: skipping undecodable event %d: %v", ev.EventNumber, err)
				continue
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeEntry(ev *esdb.RecordedEvent) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(ev.Data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
