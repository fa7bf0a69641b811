package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCloneIsDeep(t *testing.T) {
	orig := &MatchState{
		Code:   "ABC",
		Status: MatchStatusInProgress,
		Players: []Player{
			{ID: "p0", TurnOrder: 0, CardCount: IntPtr(3)},
		},
		MyHandOrder:  []string{"C1", "C2"},
		TableEntries: []TableEntry{{PlayerID: "p0", CardCode: "C0", AttributeValue: IntPtr(7)}},
	}
	cp := orig.Clone()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	*cp.Players[0].CardCount = 0
	cp.MyHandOrder[0] = "X"
	*cp.TableEntries[0].AttributeValue = 1

	if *orig.Players[0].CardCount != 3 || orig.MyHandOrder[0] != "C1" || *orig.TableEntries[0].AttributeValue != 7 {
		t.Fatalf("mutating the clone leaked into the original: %+v", orig)
	}
}

func TestPlayersEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b []Player
		want bool
	}{
		{"both empty", nil, []Player{}, true},
		{"same", []Player{{ID: "a", CardCount: IntPtr(2)}}, []Player{{ID: "a", CardCount: IntPtr(2)}}, true},
		{"count differs", []Player{{ID: "a", CardCount: IntPtr(2)}}, []Player{{ID: "a", CardCount: IntPtr(1)}}, false},
		{"unknown vs known", []Player{{ID: "a"}}, []Player{{ID: "a", CardCount: IntPtr(1)}}, false},
		{"order differs", []Player{{ID: "a"}, {ID: "b"}}, []Player{{ID: "b"}, {ID: "a"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PlayersEqual(tc.a, tc.b); got != tc.want {
				t.Fatalf("PlayersEqual = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAdjustCardCountFloorsAtZero(t *testing.T) {
	m := &MatchState{Players: []Player{{ID: "a", CardCount: IntPtr(1)}, {ID: "b"}}}
	if !m.AdjustCardCount("a", -2) {
		t.Fatal("expected adjustment for known count")
	}
	if got := m.Players[0].Cards(); got != 0 {
		t.Fatalf("card count = %d, want 0", got)
	}
	if m.AdjustCardCount("b", -1) {
		t.Fatal("unknown count must not be adjusted")
	}
}

func TestSameCards(t *testing.T) {
	if !SameCards([]string{"a", "b"}, []string{"b", "a"}) {
		t.Fatal("expected same cards")
	}
	if SameCards([]string{"a", "b"}, []string{"a", "c"}) {
		t.Fatal("expected different cards")
	}
}
