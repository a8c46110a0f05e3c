package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DOMAIN", "BACKEND", "STORE_URL", "MQTT_BROKER", "NAMESPACE",
		"STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD", "FORCE_RELAY"} {
		t.Setenv(k, "")
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{EnvFile: noEnvFile(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendWebSocket || cfg.Namespace != DefaultNamespace {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.StoreURL != "ws://localhost:8080/ws" {
		t.Fatalf("StoreURL = %q", cfg.StoreURL)
	}
	if got := cfg.GetTURNServers(); got != nil {
		t.Fatalf("expected no TURN servers, got %v", got)
	}
}

func TestLoadPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("NAMESPACE", "from-env")
	t.Setenv("DOMAIN", "signal.example.com")

	cfg, err := Load(Options{Namespace: "from-flag", EnvFile: noEnvFile(t)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace != "from-flag" {
		t.Fatalf("flag should win, got %q", cfg.Namespace)
	}
	if cfg.StoreURL != "wss://signal.example.com/ws" {
		t.Fatalf("StoreURL = %q", cfg.StoreURL)
	}
	if link := cfg.GetRoomLink("ab12cd34"); link != "https://signal.example.com/r/ab12cd34" {
		t.Fatalf("GetRoomLink = %q", link)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("BACKEND")
	os.Unsetenv("MQTT_BROKER")
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BACKEND=mqtt\nMQTT_BROKER=tcp://broker:1883\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("BACKEND")
		os.Unsetenv("MQTT_BROKER")
	})

	cfg, err := Load(Options{EnvFile: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendMQTT || cfg.Broker != "tcp://broker:1883" {
		t.Fatalf("env file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	if _, err := Load(Options{Backend: "carrier-pigeon", EnvFile: noEnvFile(t)}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:relay.example.com"}
	want := []string{
		"turn:relay.example.com:3478?transport=udp",
		"turn:relay.example.com:3478?transport=tcp",
		"turns:relay.example.com:5349?transport=tcp",
	}
	if got := cfg.GetTURNServers(); !reflect.DeepEqual(got, want) {
		t.Fatalf("GetTURNServers() = %v, want %v", got, want)
	}
}
