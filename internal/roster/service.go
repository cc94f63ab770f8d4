package roster

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/shared/errors"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// Auditor records privileged actions without blocking.
type Auditor interface {
	Record(actor *auth.Identity, action string)
}

// Service performs member mutations and audits the ones that succeed.
// Authorization is the caller's job.
type Service struct {
	list       *List
	store      docstore.Store
	collection string
	auditor    Auditor
	loc        *time.Location
	now        func() time.Time
}

// NewService creates a member service. loc renders default join dates.
func NewService(list *List, store docstore.Store, collection string, auditor Auditor, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		list:       list,
		store:      store,
		collection: collection,
		auditor:    auditor,
		loc:        loc,
		now:        time.Now,
	}
}

// Add registers a member at the end of the list.
func (s *Service) Add(ctx context.Context, actor *auth.Identity, in MemberInput) (Record, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	if in.JoinDate == "" {
		in.JoinDate = s.now().In(s.loc).Format("02/01/2006")
	}

	view := s.list.Snapshot()
	if !view.Synced {
		return Record{}, errors.Unavailable("roster is not synchronized yet, try again", nil)
	}

	fields := in.fields()
	fields[OrderField] = nextOrder(view.Records)

	id, err := s.store.Add(ctx, s.collection, fields)
	metrics.RecordRosterMutation("add", err == nil)
	if err != nil {
		return Record{}, errors.Unavailable("failed to register member, try again", err)
	}

	s.auditor.Record(actor, audit.MemberAdded(in.Name))
	return FromDocument(docstore.Document{ID: id, Fields: fields}), nil
}

// nextOrder returns one past the largest order in records. Deletes leave
// gaps, so the count of records can collide with a survivor.
func nextOrder(records []Record) int {
	next := 0
	for _, rec := range records {
		if rec.Order >= next {
			next = rec.Order + 1
		}
	}
	return next
}

// Update replaces the editable fields of a member. The order is untouched.
func (s *Service) Update(ctx context.Context, actor *auth.Identity, id string, in MemberInput) error {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}

	err := s.store.Update(ctx, s.collection, id, in.fields())
	metrics.RecordRosterMutation("update", err == nil)
	if err != nil {
		if stderrors.Is(err, docstore.ErrNotFound) {
			return errors.NotFound("member", id)
		}
		return errors.Unavailable("failed to update member, try again", err)
	}

	s.auditor.Record(actor, audit.MemberEdited(in.Name))
	return nil
}

// Delete removes a member. Remaining orders are not renumbered.
func (s *Service) Delete(ctx context.Context, actor *auth.Identity, id string) error {
	doc, err := s.store.GetDocument(ctx, s.collection, id)
	if err != nil {
		if stderrors.Is(err, docstore.ErrNotFound) {
			return errors.NotFound("member", id)
		}
		return errors.Unavailable("failed to read member, try again", err)
	}

	err = s.store.Delete(ctx, s.collection, id)
	metrics.RecordRosterMutation("delete", err == nil)
	if err != nil {
		return errors.Unavailable("failed to remove member, try again", err)
	}

	s.auditor.Record(actor, audit.MemberRemoved(FromDocument(*doc).Name))
	return nil
}
