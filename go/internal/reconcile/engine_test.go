package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/retry"
	"github.com/mcdev12/cardsync/go/internal/transport"
	"github.com/mcdev12/cardsync/go/internal/transport/transporttest"
)

const (
	code  = "AB12"
	local = "P0"
)

type fakePull struct {
	mu        sync.Mutex
	snapshot  events.FullSnapshot
	fetchErr  error
	fetches   int
	actions   []any
	orders    [][]string
	submitErr error
}

func (f *fakePull) GetMatchDetail(ctx context.Context, code, playerID string) (events.FullSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.snapshot, f.fetchErr
}

func (f *fakePull) SubmitAction(ctx context.Context, code string, action any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return f.submitErr
}

func (f *fakePull) UpdateHandOrder(ctx context.Context, code, playerID string, order []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	return f.submitErr
}

func (f *fakePull) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type recorder struct {
	mu         sync.Mutex
	changes    []View
	evictions  int
	rejections []events.UserError
	unknown    []events.Unrecognized
	degraded   []error
	finished   int
}

func (r *recorder) StateChanged(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, v)
}

func (r *recorder) Evicted(View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions++
}

func (r *recorder) ActionRejected(ev events.UserError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, ev)
}

func (r *recorder) Unrecognized(ev events.Unrecognized) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknown = append(r.unknown, ev)
}

func (r *recorder) Degraded(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, err)
}

func (r *recorder) Finished(View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *recorder) changeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

func (r *recorder) evictionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictions
}

type harness struct {
	engine *Engine
	clock  *clockwork.FakeClock
	push   *transporttest.Channel
	pull   *fakePull
	events *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConfirmPolicy = retry.Once()
	cfg.ResyncPolicy = retry.Once()
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClock(),
		push:   transporttest.NewChannel(),
		pull:   &fakePull{},
		events: &recorder{},
	}
	if err := h.push.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	session := models.PlayerSession{MatchCode: code, PlayerID: local}
	h.engine = NewEngine(cfg, h.clock, session, transport.NewClient(h.push), h.pull)
	h.engine.AddListener(h.events)
	t.Cleanup(func() {
		h.engine.Close()
		h.engine.Wait()
	})
	return h
}

func (h *harness) frame(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	h.engine.HandleFrame(data)
}

func (h *harness) actions(t *testing.T) []ActionMessage {
	t.Helper()
	var out []ActionMessage
	for _, p := range h.push.Published(transport.ActionDestination(code)) {
		var msg ActionMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("action payload: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func twoPlayers(status models.MatchStatus) events.FullSnapshot {
	return events.FullSnapshot{
		Code:   code,
		Status: status,
		Players: []models.Player{
			{ID: "P0", DisplayName: "Ann", TurnOrder: 0, CardCount: models.IntPtr(5), Connected: true},
			{ID: "P1", DisplayName: "Bea", TurnOrder: 1, CardCount: models.IntPtr(5), Connected: true},
		},
		MyHandOrder: []string{"C1", "C2", "C3"},
		Present:     events.FieldStatus | events.FieldPlayers | events.FieldHand,
	}
}

func inProgress(h *harness) {
	h.engine.Apply(twoPlayers(models.MatchStatusInProgress))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	h := newHarness(t)
	snap := twoPlayers(models.MatchStatusWaiting)

	h.engine.Apply(snap)
	first := h.engine.View().State
	h.engine.Apply(snap)
	second := h.engine.View().State

	if len(second.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(second.Players))
	}
	if !models.PlayersEqual(first.Players, second.Players) || !models.SameCards(first.MyHandOrder, second.MyHandOrder) {
		t.Fatalf("state changed on rebroadcast: %+v vs %+v", first, second)
	}
	if n := h.events.changeCount(); n != 1 {
		t.Fatalf("state changes = %d, want 1", n)
	}
}

func TestTwoPlayerRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.Apply(twoPlayers(models.MatchStatusWaiting))
	if v := h.engine.View(); v.Expected.PlayerID != "P0" {
		t.Fatalf("expected actor = %q, want P0", v.Expected.PlayerID)
	}

	h.frame(t, map[string]any{"type": "MATCH_STATE", "data": map[string]any{"state": "IN_PROGRESS"}})

	if err := h.engine.SelectAttribute(ctx, "power"); err != nil {
		t.Fatalf("SelectAttribute: %v", err)
	}
	if got := h.engine.View().State.SelectedAttribute; got != "power" {
		t.Fatalf("selectedAttribute = %q, want power", got)
	}

	if err := h.engine.PlayCard(ctx, "C1"); err != nil {
		t.Fatalf("PlayCard: %v", err)
	}
	h.frame(t, map[string]any{"type": "CARD_PLAYED", "data": map[string]any{"playerId": "P0", "cardCode": "C1"}})

	v := h.engine.View()
	want := []models.TableEntry{{PlayerID: "P0", CardCode: "C1", AttributeSelected: "power"}}
	if !models.TableEqual(v.State.TableEntries, want) {
		t.Fatalf("table = %+v, want %+v", v.State.TableEntries, want)
	}
	if p, _ := v.State.Player("P0"); p.Cards() != 4 {
		t.Fatalf("P0 card count = %d, want 4", p.Cards())
	}
	if v.Expected.PlayerID != "P1" {
		t.Fatalf("expected actor = %q, want P1", v.Expected.PlayerID)
	}
	if v.State.HasCard("C1") {
		t.Fatal("played card still in hand")
	}

	actions := h.actions(t)
	if len(actions) != 2 {
		t.Fatalf("actions = %+v, want select and play", actions)
	}
	if actions[0].Action != "SELECT_ATTRIBUTE" || actions[0].Attribute != "power" || actions[0].PlayerID != local {
		t.Fatalf("select action = %+v", actions[0])
	}
	if actions[1].Action != "PLAY_CARD" || actions[1].CardCode != "C1" || actions[1].RequestID == "" {
		t.Fatalf("play action = %+v", actions[1])
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	h.engine.HandleFrame([]byte(`not json`))
	h.engine.HandleFrame([]byte(`{"data":{"playerId":"P0"}}`))

	if len(h.engine.Recent()) != 0 || h.events.changeCount() != 0 {
		t.Fatal("malformed frames must not reach the projection")
	}
}

func TestUnrecognizedEventsAreForwarded(t *testing.T) {
	h := newHarness(t)
	h.frame(t, map[string]any{"type": "EMOTE", "emote": "wave"})

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.unknown) != 1 || h.events.unknown[0].RawType != "EMOTE" {
		t.Fatalf("unrecognized = %+v", h.events.unknown)
	}
}

func TestRecentEventsAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.RecentEvents = 3
	h := newHarnessWithConfig(t, cfg)

	for _, id := range []string{"A", "B", "C", "D", "E"} {
		h.engine.Apply(events.TurnChanged{ExpectedPlayerID: id})
	}
	recent := h.engine.Recent()
	if len(recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(recent))
	}
	for i, want := range []string{"C", "D", "E"} {
		if got := recent[i].Event.(events.TurnChanged).ExpectedPlayerID; got != want {
			t.Fatalf("recent[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestDegradeNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	h.engine.Degrade(context.DeadlineExceeded)
	h.engine.Degrade(context.DeadlineExceeded)

	if !h.engine.View().Degraded {
		t.Fatal("view should report degraded mode")
	}
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if len(h.events.degraded) != 1 {
		t.Fatalf("degraded notifications = %d, want 1", len(h.events.degraded))
	}
}

func TestListenersMayReenter(t *testing.T) {
	h := newHarness(t)
	var seen []string
	h.engine.AddListener(reentrant{onChange: func(v View) {
		seen = append(seen, v.State.SelectedAttribute)
		if v.State.SelectedAttribute == "power" {
			// Nested apply from inside a notification.
			h.engine.Apply(events.AttributeSelected{Attribute: "speed"})
		}
	}})

	h.engine.Apply(events.AttributeSelected{Attribute: "power"})

	if len(seen) != 2 || seen[0] != "power" || seen[1] != "speed" {
		t.Fatalf("notifications = %v, want [power speed]", seen)
	}
}

type reentrant struct {
	NopListener
	onChange func(View)
}

func (r reentrant) StateChanged(v View) { r.onChange(v) }

func TestCloseStopsTimersAndKeepsProjection(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.CardPlayed{PlayerID: "P1", CardCode: "X9"})
	h.engine.Apply(events.RoundResolved{WinnerID: "P1"})

	h.engine.Close()
	h.clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)

	v := h.engine.View()
	if !v.Resolving || len(v.State.TableEntries) != 1 {
		t.Fatalf("closed engine changed state: %+v", v)
	}
	if err := h.engine.PlayCard(context.Background(), "C1"); err != ErrClosed {
		t.Fatalf("PlayCard after Close = %v, want ErrClosed", err)
	}
}

func TestFinishedMatchStopsTimers(t *testing.T) {
	h := newHarness(t)
	inProgress(h)
	h.engine.Apply(events.RoundResolved{WinnerID: "P0"})
	h.engine.Apply(events.FullSnapshot{Status: models.MatchStatusFinished, Present: events.FieldStatus})
	h.engine.Apply(events.FullSnapshot{Status: models.MatchStatusFinished, Present: events.FieldStatus})

	v := h.engine.View()
	if v.Resolving || v.CanAct {
		t.Fatalf("finished view = %+v", v)
	}
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	if h.events.finished != 1 {
		t.Fatalf("finished notifications = %d, want 1", h.events.finished)
	}
}

func TestRefreshStopsOnClientErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		fetches int
	}{
		{"gone match", http.StatusNotFound, 1},
		{"forbidden", http.StatusForbidden, 1},
		{"rate limited", http.StatusTooManyRequests, 3},
		{"server error", http.StatusServiceUnavailable, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ResyncPolicy = retry.Policy{MaxAttempts: 3}
			h := newHarnessWithConfig(t, cfg)
			h.pull.fetchErr = &clients.StatusError{StatusCode: tc.status}

			err := h.engine.Refresh(context.Background())
			if !errors.Is(err, clients.ErrStatus) {
				t.Fatalf("Refresh = %v, want a status error", err)
			}
			if n := h.pull.fetchCount(); n != tc.fetches {
				t.Fatalf("fetches = %d, want %d", n, tc.fetches)
			}
		})
	}
}
