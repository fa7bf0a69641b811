package match_api_client

import (
	"github.com/mcdev12/cardsync/go/clients"
)

// MatchApiClient is the pull channel of a match: canonical fetches and the
// request/response lifecycle calls.
type MatchApiClient struct {
	*clients.BaseClient
}

func NewMatchApiClient(baseURL, token string) *MatchApiClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	client := &MatchApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(JsonHeader, JsonContentType)
	if token != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+token)
	}

	return client
}
