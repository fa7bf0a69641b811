package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
push:
  transport: websocket
  websocket_url: ws://match.example:9000/ws
engine:
  safety_timeout: 2s
  recent_events: 16
bridge:
  allowed_origins: [http://localhost:5173]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENGINE_RECENT_EVENTS", "32")
	t.Setenv("BRIDGE_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Push.Transport != "websocket" || cfg.Push.WebSocketURL != "ws://match.example:9000/ws" {
		t.Fatalf("push config not read from file: %+v", cfg.Push)
	}
	if cfg.Engine.SafetyTimeout != 2*time.Second {
		t.Fatalf("safety timeout = %v, want 2s", cfg.Engine.SafetyTimeout)
	}
	if cfg.Engine.RecentEvents != 32 {
		t.Fatalf("recent events = %d, env must override the file", cfg.Engine.RecentEvents)
	}
	if len(cfg.Bridge.AllowedOrigins) != 2 || cfg.Bridge.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("allowed origins = %v", cfg.Bridge.AllowedOrigins)
	}
	if cfg.Push.ReconnectDelay != 2*time.Second {
		t.Fatalf("default reconnect delay lost: %v", cfg.Push.ReconnectDelay)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Engine.RefetchCooldown != 0 {
		t.Fatalf("unset engine overrides must stay zero, got %v", cfg.Engine.RefetchCooldown)
	}
	mc := engineConfig(cfg)
	if mc.Engine.RefetchCooldown != 700*time.Millisecond || mc.Engine.SafetyTimeout != 1400*time.Millisecond {
		t.Fatalf("engine defaults not kept: %+v", mc.Engine)
	}
}

func TestLoadConfigRejectsUnknownTransport(t *testing.T) {
	t.Setenv("PUSH_TRANSPORT", "carrier-pigeon")
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for an unknown push transport")
	}
}
