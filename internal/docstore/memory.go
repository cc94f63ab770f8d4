package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/psp-hub/platform/internal/shared/types"
)

// Memory is an in-process Store. Every committed change publishes a fresh
// snapshot to the subscribers of the touched collections.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[int]*memorySub
	next        int
	closed      bool
	now         func() time.Time
}

type memorySub struct {
	collection string
	orderBy    string
	ch         chan Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*memorySub),
		now:         time.Now,
	}
}

// GetDocument returns a copy of the stored document.
func (m *Memory) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	fields, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(ctx context.Context, collection, orderBy string) (<-chan Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &memorySub{collection: collection, orderBy: orderBy, ch: make(chan Snapshot, 1)}
	id := m.next
	m.next++
	m.subs[id] = sub
	sub.ch <- m.snapshotLocked(collection, orderBy)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub.ch)
		}
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

// Add stores a new document under a generated id.
func (m *Memory) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := types.NewID().String()
	err := m.apply(ctx, []Write{{Op: OpSet, Collection: collection, ID: id, Fields: fields}})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Set creates or replaces a document.
func (m *Memory) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.apply(ctx, []Write{{Op: OpSet, Collection: collection, ID: id, Fields: fields}})
}

// Update merges fields into an existing document.
func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return m.apply(ctx, []Write{{Op: OpUpdate, Collection: collection, ID: id, Fields: fields}})
}

// Delete removes a document. Deleting a missing document is not an error.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	return m.apply(ctx, []Write{{Op: OpDelete, Collection: collection, ID: id}})
}

// CommitBatch applies all writes or none of them.
func (m *Memory) CommitBatch(ctx context.Context, writes []Write) error {
	return m.apply(ctx, writes)
}

// Close ends every subscription. Further calls fail with ErrClosed.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subs {
		delete(m.subs, id)
		close(sub.ch)
	}
}

// DropSubscriptions closes all open subscription channels without closing
// the store, as a broken connection would.
func (m *Memory) DropSubscriptions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		delete(m.subs, id)
		close(sub.ch)
	}
}

func (m *Memory) apply(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, w := range writes {
		if w.Op == OpUpdate {
			if _, ok := m.collections[w.Collection][w.ID]; !ok {
				return ErrNotFound
			}
		}
	}

	touched := make(map[string]bool)
	for _, w := range writes {
		coll := m.collections[w.Collection]
		if coll == nil {
			coll = make(map[string]map[string]any)
			m.collections[w.Collection] = coll
		}
		switch w.Op {
		case OpSet:
			coll[w.ID] = cloneFields(w.Fields)
		case OpUpdate:
			doc := coll[w.ID]
			for k, v := range cloneFields(w.Fields) {
				doc[k] = v
			}
		case OpDelete:
			delete(coll, w.ID)
		}
		touched[w.Collection] = true
	}

	for _, sub := range m.subs {
		if touched[sub.collection] {
			deliverLatest(sub.ch, m.snapshotLocked(sub.collection, sub.orderBy))
		}
	}
	return nil
}

func (m *Memory) snapshotLocked(collection, orderBy string) Snapshot {
	coll := m.collections[collection]
	docs := make([]Document, 0, len(coll))
	for id, fields := range coll {
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}
	sortDocuments(docs, orderBy)
	return Snapshot{Collection: collection, Documents: docs, ReadAt: m.now()}
}

// sortDocuments orders docs by field ascending. Numbers sort before strings,
// missing values sort last, ties fall back to the id.
func sortDocuments(docs []Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		if c := compareValues(docs[i].Fields[field], docs[j].Fields[field]); c != 0 {
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 1:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	}
	return 0
}

func valueRank(v any) int {
	if _, ok := toFloat(v); ok {
		return 0
	}
	if _, ok := v.(string); ok {
		return 1
	}
	return 2
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var _ Store = (*Memory)(nil)
