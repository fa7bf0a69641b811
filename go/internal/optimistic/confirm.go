package optimistic

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/retry"
)

// Confirm submits a mutation under policy and settles its chain. On success the chain
// is committed; on failure the baseline is handed to rollback and a *MutationError is
// returned. rollback is not called when a newer failure already rolled the chain back.
func Confirm[T any](
	ctx context.Context,
	clock clockwork.Clock,
	policy retry.Policy,
	tracker *Tracker[T],
	ticket Ticket,
	submit func(ctx context.Context) error,
	rollback func(baseline T),
) error {
	err := retry.Do(ctx, clock, policy, func(ctx context.Context, _ int) error {
		return submit(ctx)
	})
	if err == nil {
		tracker.Commit(ticket)
		return nil
	}

	if baseline, ok := tracker.Fail(ticket); ok && rollback != nil {
		rollback(baseline)
	}
	return &MutationError{Kind: ticket.Kind, Entity: ticket.Entity, Err: err}
}
