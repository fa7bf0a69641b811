package reconcile

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/optimistic"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/mcdev12/cardsync/go/internal/turn"
)

var errBoom = errors.New("boom")

func TestGatedActionsSendNothing(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		setup  func(h *harness)
		action func(e *Engine) error
		want   error
	}{
		{
			name:   "waiting match",
			setup:  func(h *harness) { h.engine.Apply(twoPlayers(models.MatchStatusWaiting)) },
			action: func(e *Engine) error { return e.SelectAttribute(ctx, "power") },
			want:   turn.ErrNotInProgress,
		},
		{
			name: "other player's turn",
			setup: func(h *harness) {
				inProgress(h)
				h.engine.Apply(events.TurnChanged{ExpectedPlayerID: "P1"})
			},
			action: func(e *Engine) error { return e.SelectAttribute(ctx, "power") },
			want:   turn.ErrNotYourTurn,
		},
		{
			name:   "play before attribute",
			setup:  inProgress,
			action: func(e *Engine) error { return e.PlayCard(ctx, "C1") },
			want:   turn.ErrSelectAttributeFirst,
		},
		{
			name: "attribute locked once the table has cards",
			setup: func(h *harness) {
				inProgress(h)
				h.engine.Apply(events.AttributeSelected{Attribute: "power"})
				h.engine.Apply(events.CardPlayed{PlayerID: "P1", CardCode: "X1"})
				h.engine.Apply(events.TurnChanged{ExpectedPlayerID: local})
			},
			action: func(e *Engine) error { return e.SelectAttribute(ctx, "speed") },
			want:   turn.ErrAttributeLocked,
		},
		{
			name: "card not in hand",
			setup: func(h *harness) {
				inProgress(h)
				h.engine.Apply(events.AttributeSelected{Attribute: "power"})
			},
			action: func(e *Engine) error { return e.PlayCard(ctx, "C9") },
			want:   ErrCardNotInHand,
		},
		{
			name:   "reorder with other cards",
			setup:  inProgress,
			action: func(e *Engine) error { return e.ReorderHand(ctx, []string{"C1", "C2", "C9"}) },
			want:   ErrInvalidOrder,
		},
		{
			name:   "blank attribute",
			setup:  inProgress,
			action: func(e *Engine) error { return e.SelectAttribute(ctx, "") },
			want:   ErrEmptyAttribute,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			if err := tc.action(h.engine); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if got := h.push.Published(""); len(got) != 0 {
				t.Fatalf("published %d messages for a rejected action", len(got))
			}
		})
	}
}

func TestDuplicatePlayIsSubmittedOnce(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.AttributeSelected{Attribute: "power"})
	ctx := context.Background()

	if err := h.engine.PlayCard(ctx, "C1"); err != nil {
		t.Fatalf("first PlayCard: %v", err)
	}
	if err := h.engine.PlayCard(ctx, "C1"); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("second PlayCard = %v, want ErrDuplicateSubmission", err)
	}
	if n := len(h.actions(t)); n != 1 {
		t.Fatalf("actions = %d, want 1", n)
	}
}

func TestConcurrentPlaysOfSameCard(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.AttributeSelected{Attribute: "power"})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.engine.PlayCard(context.Background(), "C2")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 || len(h.actions(t)) != 1 {
		t.Fatalf("successful plays = %d, actions = %d, want 1 each", ok, len(h.actions(t)))
	}
}

func TestFailedPlayRestoresCard(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.AttributeSelected{Attribute: "power"})
	h.push.PublishErr = func(string) error { return errBoom }

	err := h.engine.PlayCard(context.Background(), "C2")
	var mErr *optimistic.MutationError
	if !errors.As(err, &mErr) || mErr.Kind != optimistic.KindPlayCard || !errors.Is(err, errBoom) {
		t.Fatalf("PlayCard = %v, want play mutation error", err)
	}
	if got := h.engine.View().State.MyHandOrder; !slices.Equal(got, []string{"C1", "C2", "C3"}) {
		t.Fatalf("hand = %v, want card back at its position", got)
	}

	// The guard is released so the player may try again.
	h.push.PublishErr = nil
	if err := h.engine.PlayCard(context.Background(), "C2"); err != nil {
		t.Fatalf("retry PlayCard: %v", err)
	}
}

func TestFailedReorderRestoresBaseline(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.push.PublishErr = func(string) error { return errBoom }

	err := h.engine.ReorderHand(context.Background(), []string{"C3", "C1", "C2"})
	var mErr *optimistic.MutationError
	if !errors.As(err, &mErr) || mErr.Kind != optimistic.KindReorderHand {
		t.Fatalf("ReorderHand = %v, want reorder mutation error", err)
	}
	v := h.engine.View()
	if !slices.Equal(v.State.MyHandOrder, []string{"C1", "C2", "C3"}) || v.PendingReorder {
		t.Fatalf("view = %+v, want exact baseline", v)
	}
}

func TestSameOrderIsNoop(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	if err := h.engine.ReorderHand(context.Background(), []string{"C1", "C2", "C3"}); err != nil {
		t.Fatalf("ReorderHand: %v", err)
	}
	if len(h.actions(t)) != 0 {
		t.Fatal("unchanged order was sent")
	}
}

func TestReorderIsAllowedOutOfTurn(t *testing.T) {
	h := newHarness(t)
	h.engine.Apply(twoPlayers(models.MatchStatusWaiting))
	order := []string{"C2", "C3", "C1"}
	if err := h.engine.ReorderHand(context.Background(), order); err != nil {
		t.Fatalf("ReorderHand: %v", err)
	}
	actions := h.actions(t)
	if len(actions) != 1 || actions[0].Action != "REORDER_HAND" || !slices.Equal(actions[0].Order, order) {
		t.Fatalf("actions = %+v", actions)
	}
	if v := h.engine.View(); !slices.Equal(v.State.MyHandOrder, order) || v.PendingReorder {
		t.Fatalf("view = %+v, want confirmed order", v)
	}
}

func TestFailedSelectionRestoresAttribute(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.push.PublishErr = func(string) error { return errBoom }

	if err := h.engine.SelectAttribute(context.Background(), "power"); err == nil {
		t.Fatal("SelectAttribute succeeded with a failing channel")
	}
	if got := h.engine.View().State.SelectedAttribute; got != "" {
		t.Fatalf("selectedAttribute = %q, want rollback to none", got)
	}
}

func TestUserErrorRollsBackPendingPlay(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.AttributeSelected{Attribute: "power"})

	// The rejection arrives before the publish returns.
	h.push.PublishErr = func(string) error {
		h.engine.HandleUserError([]byte(`{"message":"not your turn","code":"NOT_YOUR_TURN"}`))
		return nil
	}
	if err := h.engine.PlayCard(context.Background(), "C1"); err != nil {
		t.Fatalf("PlayCard: %v", err)
	}

	v := h.engine.View()
	if !slices.Equal(v.State.MyHandOrder, []string{"C1", "C2", "C3"}) {
		t.Fatalf("hand = %v, want rejected card restored", v.State.MyHandOrder)
	}
	h.events.mu.Lock()
	rejections := len(h.events.rejections)
	h.events.mu.Unlock()
	if rejections != 1 {
		t.Fatalf("rejections = %d, want 1", rejections)
	}
	eventually(t, "resync after rejection", func() bool { return h.pull.fetchCount() == 1 })

	h.push.PublishErr = nil
	if err := h.engine.PlayCard(context.Background(), "C1"); err != nil {
		t.Fatalf("PlayCard after rejection: %v", err)
	}
}

func TestActionsFallBackToPull(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.push.Drop()
	ctx := context.Background()

	if err := h.engine.SelectAttribute(ctx, "power"); err != nil {
		t.Fatalf("SelectAttribute: %v", err)
	}
	if err := h.engine.ReorderHand(ctx, []string{"C3", "C2", "C1"}); err != nil {
		t.Fatalf("ReorderHand: %v", err)
	}

	h.pull.mu.Lock()
	defer h.pull.mu.Unlock()
	if len(h.pull.actions) != 1 {
		t.Fatalf("pull actions = %d, want 1", len(h.pull.actions))
	}
	if msg, ok := h.pull.actions[0].(ActionMessage); !ok || msg.Action != "SELECT_ATTRIBUTE" {
		t.Fatalf("pull action = %+v", h.pull.actions[0])
	}
	if len(h.pull.orders) != 1 || !slices.Equal(h.pull.orders[0], []string{"C3", "C2", "C1"}) {
		t.Fatalf("pull orders = %v", h.pull.orders)
	}
	if len(h.push.Published("")) != 0 {
		t.Fatal("published on a dropped channel")
	}
}

func TestPublishNotConnectedFallsBack(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.push.PublishErr = func(string) error { return transport.ErrNotConnected }

	if err := h.engine.SelectAttribute(context.Background(), "power"); err != nil {
		t.Fatalf("SelectAttribute: %v", err)
	}
	h.pull.mu.Lock()
	defer h.pull.mu.Unlock()
	if len(h.pull.actions) != 1 {
		t.Fatalf("pull actions = %d, want 1", len(h.pull.actions))
	}
}

func TestNoSubmitter(t *testing.T) {
	e := NewEngine(testConfig(), clockwork.NewFakeClock(), models.PlayerSession{MatchCode: code, PlayerID: local}, nil, nil)
	defer e.Close()
	e.Apply(twoPlayers(models.MatchStatusInProgress))

	if err := e.SelectAttribute(context.Background(), "power"); !errors.Is(err, ErrNoSubmitter) {
		t.Fatalf("SelectAttribute = %v, want ErrNoSubmitter", err)
	}
}

func TestRestoreOrder(t *testing.T) {
	cases := []struct {
		name              string
		baseline, current []string
		want              []string
	}{
		{"same cards", []string{"a", "b", "c"}, []string{"c", "a", "b"}, []string{"a", "b", "c"}},
		{"card gone", []string{"a", "b", "c"}, []string{"c", "a"}, []string{"a", "c"}},
		{"card added", []string{"a", "b"}, []string{"b", "d", "a"}, []string{"a", "b", "d"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := restoreOrder(tc.baseline, tc.current); !slices.Equal(got, tc.want) {
				t.Fatalf("restoreOrder = %v, want %v", got, tc.want)
			}
		})
	}
}
