package stock

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"craftline/internal/domain"
	"craftline/internal/events"
)

func parseQty(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// Subscriber moves stock in response to production events: inputs are
// consumed when a work order signals its materials are needed, output
// is received and any remaining holds released when it completes, and
// holds are given back on cancellation.
type Subscriber struct {
	Backend Backend
}

// Register attaches the handlers to a bus.
func (s Subscriber) Register(bus *events.Bus) {
	bus.Subscribe(events.TypeMaterialsNeeded, s.onMaterialsNeeded)
	bus.Subscribe(events.TypeProductionCompleted, s.onCompleted)
	bus.Subscribe(events.TypeWorkOrderCancelled, s.onCancelled)
}

// onMaterialsNeeded settles consumption when a work order starts. With
// holds in place each hold closes as its quantity is drawn down, so the
// materials are never counted against availability twice. Plan-level
// materials-needed events are informational and move nothing.
func (s Subscriber) onMaterialsNeeded(n events.Notification) error {
	if n.EntityKind != "workorder" {
		return nil
	}
	ctx := context.Background()
	if holds, ok := n.Payload["holds"].([]domain.Hold); ok && len(holds) > 0 {
		for _, h := range holds {
			if err := s.Backend.ConsumeHold(ctx, h.Ref); err != nil {
				return fmt.Errorf("consume hold %s: %w", h.Ref, err)
			}
		}
		return nil
	}
	reqs, ok := n.Payload["requirements"].([]domain.Requirement)
	if !ok {
		return nil
	}
	for _, req := range reqs {
		if err := s.Backend.Consume(ctx, req.Item, req.Quantity, req.Location); err != nil {
			return fmt.Errorf("consume %s/%s: %w", req.Item.Kind, req.Item.ID, err)
		}
	}
	return nil
}

func (s Subscriber) onCompleted(n events.Notification) error {
	ctx := context.Background()
	if item, ok := n.Payload["output_item"].(domain.ItemRef); ok {
		if qty, ok := n.Payload["actual_quantity"].(string); ok {
			d, err := parseQty(qty)
			if err != nil {
				return err
			}
			location, _ := n.Payload["location"].(string)
			if err := s.Backend.Receive(ctx, item, d, location); err != nil {
				return fmt.Errorf("receive output: %w", err)
			}
		}
	}
	return s.releaseHolds(ctx, n)
}

func (s Subscriber) onCancelled(n events.Notification) error {
	return s.releaseHolds(context.Background(), n)
}

func (s Subscriber) releaseHolds(ctx context.Context, n events.Notification) error {
	holds, ok := n.Payload["holds"].([]domain.Hold)
	if !ok {
		return nil
	}
	var firstErr error
	for _, h := range holds {
		if err := s.Backend.Release(ctx, h.Ref); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release hold %s: %w", h.Ref, err)
		}
	}
	return firstErr
}
