package roster

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/shared/config"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// Synchronizer keeps a List equal to the remote collection ordered by
// OrderField. A dropped subscription marks the list stale and is reopened,
// paced by a token bucket.
type Synchronizer struct {
	store      docstore.Subscriber
	list       *List
	collection string
	limiter    *rate.Limiter
}

// NewSynchronizer creates a synchronizer for cfg.Collection.
func NewSynchronizer(store docstore.Subscriber, list *List, cfg config.RosterConfig) *Synchronizer {
	interval := cfg.ResubscribeInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	burst := cfg.ResubscribeBurst
	if burst <= 0 {
		burst = 1
	}
	return &Synchronizer{
		store:      store,
		list:       list,
		collection: cfg.Collection,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Run subscribes and applies snapshots until ctx ends. Cancelling ctx tears
// the subscription down.
func (s *Synchronizer) Run(ctx context.Context) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		err := s.follow(ctx)
		if ctx.Err() != nil {
			return
		}

		s.list.SetStale()
		metrics.RecordResubscribe()
		if err != nil {
			log.Printf("roster: subscribe to %s failed: %v", s.collection, err)
		} else {
			log.Printf("roster: subscription to %s dropped, resubscribing", s.collection)
		}
	}
}

// follow runs one subscription until its channel closes.
func (s *Synchronizer) follow(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots, err := s.store.Subscribe(subCtx, s.collection, OrderField)
	if err != nil {
		return err
	}

	for snap := range snapshots {
		s.apply(snap)
	}
	return nil
}

func (s *Synchronizer) apply(snap docstore.Snapshot) {
	records := make([]Record, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		records = append(records, FromDocument(doc))
	}
	s.list.Replace(records, snap.ReadAt)
	metrics.RecordSnapshotApplied(len(records))
}
