package match_api_client

const (
	// Base URL of a local backend
	BaseURL = "http://localhost:8080"

	// API Endpoints
	MatchesEndpoint   = "/api/matches"
	matchPath         = MatchesEndpoint + "/%s"
	joinPath          = matchPath + "/join"
	startPath         = matchPath + "/start"
	reconnectPath     = matchPath + "/reconnect"
	actionsPath       = matchPath + "/actions"
	handOrderPath     = matchPath + "/players/%s/hand"
	playerIDQueryName = "playerId"

	// Headers
	AuthorizationHeader = "Authorization"
	JsonHeader          = "Accept"
	JsonContentType     = "application/json"
)
