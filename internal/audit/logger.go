package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// recordTimeout bounds a background append.
const recordTimeout = 10 * time.Second

// Logger stamps and appends audit entries.
type Logger struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
	wg   sync.WaitGroup
}

// NewLogger creates a logger rendering local dates in loc.
func NewLogger(repo Repository, loc *time.Location) *Logger {
	if loc == nil {
		loc = time.UTC
	}
	return &Logger{repo: repo, loc: loc, now: time.Now}
}

// Write appends an entry and waits for the repository. Callers that must
// order an entry before a later step use it; everyone else uses Record.
func (l *Logger) Write(ctx context.Context, actor *auth.Identity, action string) (*Entry, error) {
	entry := NewEntry(actor, action, l.now(), l.loc)
	if err := l.repo.Append(ctx, entry); err != nil {
		metrics.RecordAuditFailure()
		return nil, fmt.Errorf("audit %q: %w", action, err)
	}
	metrics.RecordAuditEntry()
	return entry, nil
}

// Record appends in the background. Failures, panics included, are logged
// and counted but never reach the caller.
func (l *Logger) Record(actor *auth.Identity, action string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordAuditFailure()
				log.Printf("audit: panic recording %q: %v", action, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if _, err := l.Write(ctx, actor, action); err != nil {
			log.Printf("audit: %v", err)
		}
	}()
}

// Wait blocks until background records have finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// Repository returns the backing repository.
func (l *Logger) Repository() Repository {
	return l.repo
}
