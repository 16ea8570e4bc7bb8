package coordinator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/lagom/internal/handshake"
)

// Pair names one negotiation in a batch.
type Pair struct {
	InitiatorID string `json:"initiator_id"`
	ReceiverID  string `json:"receiver_id"`
}

// BatchItem is the result of one pair. Error is set when the pair could not
// be negotiated at all, for example an unknown participant.
type BatchItem struct {
	Pair   Pair    `json:"pair"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// NegotiateMany runs independent pairs concurrently. Items keep input order.
// Only an abandoned context fails the whole batch.
func (c *Coordinator) NegotiateMany(ctx context.Context, pairs []Pair) ([]BatchItem, error) {
	items := make([]BatchItem, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, pair := range pairs {
		i, pair := i, pair
		items[i].Pair = pair
		g.Go(func() error {
			res, err := c.Negotiate(gctx, pair.InitiatorID, pair.ReceiverID, nil)
			if errors.Is(err, handshake.ErrAbandoned) {
				return err
			}
			if err != nil {
				items[i].Error = err.Error()
				if !errors.Is(err, ErrPersist) {
					return nil
				}
			}
			items[i].Result = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	return items, nil
}
