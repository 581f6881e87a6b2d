package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PULSE_ADDR", "BROKER_URL", "STUN_SERVERS", "TURN_SERVERS", "CALL_TIMEOUT", "RETRY_LIMIT", "RETRY_DELAY", "RECONNECT_DELAY"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("got addr %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Call.StreamTimeout != 10*time.Second {
		t.Errorf("got stream timeout %v, want 10s", cfg.Call.StreamTimeout)
	}
	if cfg.Call.RetryLimit != 2 {
		t.Errorf("got retry limit %d, want 2", cfg.Call.RetryLimit)
	}
	if cfg.Call.RetryDelay != 800*time.Millisecond {
		t.Errorf("got retry delay %v, want 800ms", cfg.Call.RetryDelay)
	}
	if cfg.Broker.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("got reconnect delay %v, want 500ms", cfg.Broker.ReconnectDelay)
	}
	if got := len(cfg.Broker.ICEServers()); got != 15 {
		t.Errorf("got %d ice servers, want 15", got)
	}
	if cfg.Broker.InProcess() {
		t.Error("default broker should not be in-process")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BROKER_URL", "memory")
	t.Setenv("STUN_SERVERS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("TURN_SERVERS", "turn:relay.example:80|alice|secret")
	t.Setenv("CALL_TIMEOUT", "3s")
	t.Setenv("RETRY_LIMIT", "not-a-number")

	cfg := Load()
	if !cfg.Broker.InProcess() {
		t.Error("BROKER_URL=memory should select the in-process broker")
	}
	if cfg.Call.StreamTimeout != 3*time.Second {
		t.Errorf("got stream timeout %v, want 3s", cfg.Call.StreamTimeout)
	}
	if cfg.Call.RetryLimit != 2 {
		t.Errorf("got retry limit %d, want fallback 2", cfg.Call.RetryLimit)
	}

	ice := cfg.Broker.ICEServers()
	if len(ice) != 3 {
		t.Fatalf("got %d ice servers, want 3", len(ice))
	}
	if ice[1].URLs[0] != "stun:b.example:3478" {
		t.Errorf("got %q, want trimmed stun url", ice[1].URLs[0])
	}
	turn := ice[2]
	if turn.URLs[0] != "turn:relay.example:80" || turn.Username != "alice" || turn.Credential != "secret" {
		t.Errorf("got %+v, want parsed turn entry", turn)
	}
}
