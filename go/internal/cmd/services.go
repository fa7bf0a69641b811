package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/clients/match_api_client"
	"github.com/mcdev12/cardsync/go/internal/bridge"
	"github.com/mcdev12/cardsync/go/internal/identity"
	"github.com/mcdev12/cardsync/go/internal/matchclient"
	"github.com/mcdev12/cardsync/go/internal/transport"
)

type Services struct {
	Identity  *identity.BoltStore
	Transport *transport.Client
	Matches   *matchclient.Client
	Bridge    *bridge.Service
}

func setupServices(cfg Config) (*Services, error) {
	// Wire up dependency injection chain
	// Identity store → Push + pull transport → Match client → UI bridge
	clock := clockwork.NewRealClock()

	store, err := identity.OpenBoltStore(cfg.Identity.Path)
	if err != nil {
		return nil, err
	}

	push, err := setupPushChannel(cfg, clock)
	if err != nil {
		store.Close()
		return nil, err
	}
	tc := transport.NewClient(push)

	api := match_api_client.NewMatchApiClient(cfg.API.BaseURL, cfg.API.Token)
	if cfg.API.Timeout > 0 {
		api.SetTimeout(cfg.API.Timeout)
	}

	matches := matchclient.New(engineConfig(cfg), clock, tc, api, identity.NewSessions(store))

	bridgeService := bridge.NewService(bridge.DefaultConfig(), matches)
	matches.AddListener(bridgeService.Listener())

	return &Services{
		Identity:  store,
		Transport: tc,
		Matches:   matches,
		Bridge:    bridgeService,
	}, nil
}

func setupPushChannel(cfg Config, clock clockwork.Clock) (transport.PushChannel, error) {
	switch cfg.Push.Transport {
	case "nats":
		natsCfg := transport.DefaultNATSConfig()
		natsCfg.URL = cfg.Push.NATSURL
		if cfg.Push.ReconnectDelay > 0 {
			natsCfg.ReconnectWait = cfg.Push.ReconnectDelay
		}
		return transport.NewNATSChannel(natsCfg), nil
	case "websocket":
		wsCfg := transport.DefaultWebSocketConfig()
		wsCfg.URL = cfg.Push.WebSocketURL
		if cfg.Push.ReconnectDelay > 0 {
			wsCfg.ReconnectDelay = cfg.Push.ReconnectDelay
		}
		if cfg.API.Token != "" {
			wsCfg.Header = http.Header{match_api_client.AuthorizationHeader: {"Bearer " + cfg.API.Token}}
		}
		return transport.NewWebSocketChannel(wsCfg, clock), nil
	}
	return nil, fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
}

func engineConfig(cfg Config) matchclient.Config {
	mc := matchclient.DefaultConfig()
	overrideDuration(&mc.Engine.RefetchCooldown, cfg.Engine.RefetchCooldown)
	overrideDuration(&mc.Engine.SafetyTimeout, cfg.Engine.SafetyTimeout)
	overrideDuration(&mc.Engine.LatencyWindow, cfg.Engine.LatencyWindow)
	overrideDuration(&mc.Engine.SubmissionWindow, cfg.Engine.SubmissionWindow)
	if cfg.Engine.RecentEvents > 0 {
		mc.Engine.RecentEvents = cfg.Engine.RecentEvents
	}
	return mc
}

func overrideDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// Close releases the match session, the push channel and the identity store
func (s *Services) Close() {
	s.Matches.Close()
	if err := s.Transport.Disconnect(); err != nil {
		logError(err, "failed to disconnect push channel")
	}
	if err := s.Identity.Close(); err != nil {
		logError(err, "failed to close identity store")
	}
}
