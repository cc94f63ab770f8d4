package kurrentdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
)

// ErrConcurrencyConflict means the stream moved past the expected version.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// Append writes one JSON event to stream. expectedVersion is the number of
// events the caller believes the stream already holds; zero requires the
// stream not to exist yet.
func (c *Client) Append(ctx context.Context, stream string, expectedVersion uint64, eventType string, data, metadata any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	var meta []byte
	if metadata != nil {
		if meta, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	var options esdb.AppendToStreamOptions
	if expectedVersion == 0 {
		options.ExpectedRevision = esdb.NoStream{}
	} else {
		options.ExpectedRevision = esdb.Revision(expectedVersion - 1)
	}

	_, err = c.DB().AppendToStream(ctx, stream, options, esdb.EventData{
		EventID:     uuid.New(),
		EventType:   eventType,
		ContentType: esdb.ContentTypeJson,
		Data:        payload,
		Metadata:    meta,
	})
	if err != nil {
		if esdbErr, _ := esdb.FromError(err); esdbErr != nil && esdbErr.Code() == esdb.ErrorCodeWrongExpectedVersion {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to append to %s: %w", stream, err)
	}
	return nil
}

// ReadBackwards returns up to max events from the end of stream, newest
// first. A missing stream reads as empty.
func (c *Client) ReadBackwards(ctx context.Context, stream string, max uint64) ([]*esdb.RecordedEvent, error) {
	return c.read(ctx, stream, esdb.ReadStreamOptions{
		From:      esdb.End{},
		Direction: esdb.Backwards,
	}, max)
}

// ReadForwards returns up to max events from the start of stream.
func (c *Client) ReadForwards(ctx context.Context, stream string, max uint64) ([]*esdb.RecordedEvent, error) {
	return c.read(ctx, stream, esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, max)
}

func (c *Client) read(ctx context.Context, stream string, opts esdb.ReadStreamOptions, max uint64) ([]*esdb.RecordedEvent, error) {
	rs, err := c.DB().ReadStream(ctx, stream, opts, max)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", stream, err)
	}
	defer rs.Close()

	var events []*esdb.RecordedEvent
	for {
		resolved, err := rs.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read %s: %w", stream, err)
		}
		if resolved.Event != nil {
			events = append(events, resolved.Event)
		}
	}
}
