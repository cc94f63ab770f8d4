package kurrentdb

import (
	"context"
	"fmt"
	"log"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
)

// Follow opens a catch-up subscription on stream starting after the current
// end, so only events appended from now on are delivered. The channel closes
// when ctx ends or the server drops the subscription.
func (c *Client) Follow(ctx context.Context, stream string) (<-chan *esdb.RecordedEvent, error) {
	sub, err := c.DB().SubscribeToStream(ctx, stream, esdb.SubscribeToStreamOptions{
		From: esdb.End{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", stream, err)
	}

	out := make(chan *esdb.RecordedEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			subEvent := sub.Recv()
			if subEvent.SubscriptionDropped != nil {
				if ctx.Err() == nil {
					log.Printf("kurrentdb: subscription to %s dropped: %v", stream, subEvent.SubscriptionDropped.Error)
				}
				return
			}
			if subEvent.EventAppeared == nil || subEvent.EventAppeared.Event == nil {
				continue
			}

			select {
			case out <- subEvent.EventAppeared.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
