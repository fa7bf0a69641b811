package match_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/events"
	"github.com/mcdev12/cardsync/go/internal/models"
)

type recorded struct {
	method, path, query, auth string
	body                      string
}

func newTestServer(t *testing.T, status int, response string) (*MatchApiClient, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get(AuthorizationHeader),
			body:   string(body),
		})
		w.Header().Set("Content-Type", JsonContentType)
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return NewMatchApiClient(srv.URL, "secret"), &calls
}

func TestGetMatchDetail(t *testing.T) {
	c, calls := newTestServer(t, http.StatusOK, `{"state":"WAITING","players":[{"id":"p0","turnOrder":0}]}`)

	snap, err := c.GetMatchDetail(context.Background(), "AB12", "p0")
	if err != nil {
		t.Fatalf("GetMatchDetail: %v", err)
	}
	want := events.FullSnapshot{
		Code:    "AB12",
		Status:  models.MatchStatusWaiting,
		Players: []models.Player{{ID: "p0", Connected: true}},
		Present: events.FieldStatus | events.FieldPlayers,
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot (-want +got):\n%s", diff)
	}

	got := (*calls)[0]
	if got.method != http.MethodGet || got.path != "/api/matches/AB12" || got.query != "playerId=p0" {
		t.Fatalf("request = %+v", got)
	}
	if got.auth != "Bearer secret" {
		t.Fatalf("authorization = %q", got.auth)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	cases := []struct {
		name       string
		call       func(c *MatchApiClient) error
		method     string
		path       string
		bodyFields map[string]any
	}{
		{
			name: "create",
			call: func(c *MatchApiClient) error {
				_, err := c.CreateMatch(context.Background(), CreateMatchRequest{DisplayName: "Ann"})
				return err
			},
			method:     http.MethodPost,
			path:       "/api/matches",
			bodyFields: map[string]any{"displayName": "Ann"},
		},
		{
			name: "join",
			call: func(c *MatchApiClient) error {
				_, err := c.JoinMatch(context.Background(), "AB12", JoinMatchRequest{DisplayName: "Bea"})
				return err
			},
			method:     http.MethodPost,
			path:       "/api/matches/AB12/join",
			bodyFields: map[string]any{"displayName": "Bea"},
		},
		{
			name: "start",
			call: func(c *MatchApiClient) error {
				return c.StartMatch(context.Background(), "AB12", StartMatchRequest{PlayerID: "p0"})
			},
			method:     http.MethodPost,
			path:       "/api/matches/AB12/start",
			bodyFields: map[string]any{"playerId": "p0"},
		},
		{
			name: "reconnect",
			call: func(c *MatchApiClient) error {
				_, err := c.ReconnectMatch(context.Background(), "AB12", ReconnectMatchRequest{PlayerID: "p0"})
				return err
			},
			method:     http.MethodPost,
			path:       "/api/matches/AB12/reconnect",
			bodyFields: map[string]any{"playerId": "p0"},
		},
		{
			name: "action",
			call: func(c *MatchApiClient) error {
				return c.SubmitAction(context.Background(), "AB12", map[string]string{"action": "PLAY_CARD"})
			},
			method:     http.MethodPost,
			path:       "/api/matches/AB12/actions",
			bodyFields: map[string]any{"action": "PLAY_CARD"},
		},
		{
			name: "hand order",
			call: func(c *MatchApiClient) error {
				return c.UpdateHandOrder(context.Background(), "AB12", "p0", []string{"C2", "C1"})
			},
			method:     http.MethodPut,
			path:       "/api/matches/AB12/players/p0/hand",
			bodyFields: map[string]any{"order": []any{"C2", "C1"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, calls := newTestServer(t, http.StatusOK, `{"matchCode":"AB12","playerId":"p9"}`)
			if err := tc.call(c); err != nil {
				t.Fatalf("call: %v", err)
			}
			got := (*calls)[0]
			if got.method != tc.method || got.path != tc.path {
				t.Fatalf("request = %s %s, want %s %s", got.method, got.path, tc.method, tc.path)
			}
			var body map[string]any
			if err := json.Unmarshal([]byte(got.body), &body); err != nil {
				t.Fatalf("body %q: %v", got.body, err)
			}
			if diff := cmp.Diff(tc.bodyFields, body); diff != "" {
				t.Fatalf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSessionResponseDecoding(t *testing.T) {
	c, _ := newTestServer(t, http.StatusCreated, `{"code":"ZX90","playerId":"p1"}`)
	resp, err := c.CreateMatch(context.Background(), CreateMatchRequest{DisplayName: "Ann"})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if resp.Match() != "ZX90" || resp.PlayerID != "p1" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestNon2xxIsStatusError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusConflict, `{"message":"match already started"}`)
	err := c.StartMatch(context.Background(), "AB12", StartMatchRequest{PlayerID: "p0"})

	var se *clients.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusConflict {
		t.Fatalf("err = %v, want StatusError 409", err)
	}
	if !errors.Is(err, clients.ErrStatus) {
		t.Fatalf("err = %v, want to match ErrStatus", err)
	}
}
