package roster

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/shared/errors"
	"github.com/psp-hub/platform/internal/shared/metrics"
)

// ErrNotDragging is returned by End when no drag is in progress.
var ErrNotDragging = stderrors.New("no drag in progress")

// ReorderController moves records in the local list as a drag proceeds and
// writes the whole order back in one batch when it ends. It performs no
// authorization; callers gate it.
type ReorderController struct {
	list       *List
	writer     docstore.Writer
	collection string

	mu       sync.Mutex
	dragging bool
	source   int
}

// NewReorderController creates a controller over list writing to collection.
func NewReorderController(list *List, writer docstore.Writer, collection string) *ReorderController {
	return &ReorderController{list: list, writer: writer, collection: collection}
}

// Begin starts a drag at index. A drag already in progress is replaced.
func (c *ReorderController) Begin(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= c.list.Len() {
		return ErrIndexOutOfRange
	}
	c.dragging = true
	c.source = index
	return nil
}

// DragOver moves the dragged record to target. It does nothing when no drag
// is active or target is the current position.
func (c *ReorderController) DragOver(target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dragging || target == c.source {
		return nil
	}
	if err := c.list.Move(c.source, target); err != nil {
		return err
	}
	c.source = target
	return nil
}

// Dragging reports whether a drag is active and the dragged record's index.
func (c *ReorderController) Dragging() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging, c.source
}

// End finishes the drag and commits order = index for every record in one
// atomic batch. On failure the local order is left as is; the next remote
// snapshot restores the stored one. Once sent the batch is not cancelled
// with ctx.
func (c *ReorderController) End(ctx context.Context) error {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return ErrNotDragging
	}
	c.dragging = false
	c.mu.Unlock()

	batch := OrderBatch(c.collection, c.list.Snapshot().Records)
	if len(batch) == 0 {
		return nil
	}

	err := c.writer.CommitBatch(context.WithoutCancel(ctx), batch)
	metrics.RecordReorderCommit(err == nil)
	if err != nil {
		return errors.Unavailable("failed to save the new order, try again", err)
	}
	return nil
}

// OrderBatch builds the writes that set each record's order to its index.
func OrderBatch(collection string, records []Record) []docstore.Write {
	batch := make([]docstore.Write, 0, len(records))
	for i, r := range records {
		batch = append(batch, docstore.Write{
			Op:         docstore.OpUpdate,
			Collection: collection,
			ID:         r.ID,
			Fields:     map[string]any{OrderField: i},
		})
	}
	return batch
}
