package match_api_client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/cardsync/go/internal/events"
)

// CreateMatchRequest opens a new match hosted by the caller
type CreateMatchRequest struct {
	DisplayName string `json:"displayName"`
}

// JoinMatchRequest joins an existing match
type JoinMatchRequest struct {
	DisplayName string `json:"displayName"`
}

// ReconnectMatchRequest asks the server to resume a known player
type ReconnectMatchRequest struct {
	PlayerID string `json:"playerId"`
}

// StartMatchRequest starts a waiting match
type StartMatchRequest struct {
	PlayerID string `json:"playerId"`
}

// SessionResponse is returned by create, join and reconnect. Only the player id is
// guaranteed; the embedded state may be partial.
type SessionResponse struct {
	MatchCode string `json:"matchCode"`
	Code      string `json:"code"`
	PlayerID  string `json:"playerId"`
}

// Match returns whichever code field the server filled in
func (r SessionResponse) Match() string {
	if r.MatchCode != "" {
		return r.MatchCode
	}
	return r.Code
}

// HandOrderRequest persists the local hand order
type HandOrderRequest struct {
	Order []string `json:"order"`
}

// GetMatchDetail fetches the canonical state of a match as seen by playerID
func (c *MatchApiClient) GetMatchDetail(ctx context.Context, code, playerID string) (events.FullSnapshot, error) {
	endpoint := fmt.Sprintf(matchPath, url.PathEscape(code))
	if playerID != "" {
		endpoint += "?" + url.Values{playerIDQueryName: {playerID}}.Encode()
	}

	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return events.FullSnapshot{}, fmt.Errorf("failed to get match %s: %w", code, err)
	}

	snapshot, err := events.ParseSnapshot(body)
	if err != nil {
		return events.FullSnapshot{}, fmt.Errorf("failed to parse match %s: %w", code, err)
	}
	if snapshot.Code == "" {
		snapshot.Code = code
	}
	return snapshot, nil
}

// CreateMatch opens a new match
func (c *MatchApiClient) CreateMatch(ctx context.Context, req CreateMatchRequest) (SessionResponse, error) {
	var resp SessionResponse
	if err := c.DoJSON(ctx, http.MethodPost, MatchesEndpoint, req, &resp); err != nil {
		return SessionResponse{}, fmt.Errorf("failed to create match: %w", err)
	}
	return resp, nil
}

// JoinMatch joins match code
func (c *MatchApiClient) JoinMatch(ctx context.Context, code string, req JoinMatchRequest) (SessionResponse, error) {
	var resp SessionResponse
	endpoint := fmt.Sprintf(joinPath, url.PathEscape(code))
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return SessionResponse{}, fmt.Errorf("failed to join match %s: %w", code, err)
	}
	return resp, nil
}

// StartMatch moves a waiting match to in progress
func (c *MatchApiClient) StartMatch(ctx context.Context, code string, req StartMatchRequest) error {
	endpoint := fmt.Sprintf(startPath, url.PathEscape(code))
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, req, nil); err != nil {
		return fmt.Errorf("failed to start match %s: %w", code, err)
	}
	return nil
}

// ReconnectMatch resumes a known player. The server may answer with a new player id.
func (c *MatchApiClient) ReconnectMatch(ctx context.Context, code string, req ReconnectMatchRequest) (SessionResponse, error) {
	var resp SessionResponse
	endpoint := fmt.Sprintf(reconnectPath, url.PathEscape(code))
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return SessionResponse{}, fmt.Errorf("failed to reconnect to match %s: %w", code, err)
	}
	return resp, nil
}

// SubmitAction posts an action body when the push channel is unavailable
func (c *MatchApiClient) SubmitAction(ctx context.Context, code string, action any) error {
	endpoint := fmt.Sprintf(actionsPath, url.PathEscape(code))
	if err := c.DoJSON(ctx, http.MethodPost, endpoint, action, nil); err != nil {
		return fmt.Errorf("failed to submit action to match %s: %w", code, err)
	}
	return nil
}

// UpdateHandOrder persists the hand order of playerID
func (c *MatchApiClient) UpdateHandOrder(ctx context.Context, code, playerID string, order []string) error {
	endpoint := fmt.Sprintf(handOrderPath, url.PathEscape(code), url.PathEscape(playerID))
	if err := c.DoJSON(ctx, http.MethodPut, endpoint, HandOrderRequest{Order: order}, nil); err != nil {
		return fmt.Errorf("failed to update hand order in match %s: %w", code, err)
	}
	return nil
}
