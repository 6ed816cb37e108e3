package queue

import (
	"context"
	"fmt"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/mirror"
)

// Applier replays one queued action. Returning an error marked with
// domain.Permanent drops the action immediately.
type Applier interface {
	Apply(ctx context.Context, action domain.QueuedAction) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, action domain.QueuedAction) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, action domain.QueuedAction) error {
	return f(ctx, action)
}

// MirrorApplier applies actions to the local mirror.
type MirrorApplier struct {
	Mirror *mirror.Mirror
}

// Apply merges action into its entity's mirror.
func (a MirrorApplier) Apply(ctx context.Context, action domain.QueuedAction) error {
	if a.Mirror == nil {
		return fmt.Errorf("mirror is not configured")
	}
	if !action.Action.Valid() {
		return domain.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownAction, action.Action))
	}
	op := action.Action.Op()
	return a.Mirror.Update(ctx, action.Action.Entity(), func(records []domain.Record) ([]domain.Record, bool, error) {
		return domain.Apply(records, op, action.Payload)
	})
}

// RewritingApplier is an Applier whose replay can change the action, such
// as swapping inline photo data for the stored object's url.
type RewritingApplier interface {
	Applier
	ApplyRewritten(ctx context.Context, action domain.QueuedAction) (domain.QueuedAction, error)
}

// Chain runs appliers in order and stops at the first error. Each applier
// sees the action as rewritten by the RewritingAppliers before it.
func Chain(appliers ...Applier) Applier {
	return ApplierFunc(func(ctx context.Context, action domain.QueuedAction) error {
		for _, applier := range appliers {
			if applier == nil {
				continue
			}
			if rewriter, ok := applier.(RewritingApplier); ok {
				rewritten, err := rewriter.ApplyRewritten(ctx, action)
				if err != nil {
					return err
				}
				action = rewritten
				continue
			}
			if err := applier.Apply(ctx, action); err != nil {
				return err
			}
		}
		return nil
	})
}
