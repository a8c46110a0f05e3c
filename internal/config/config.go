package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultDomain    = "localhost:8080"
	DefaultBackend   = BackendWebSocket
	DefaultBroker    = "tcp://localhost:1883"
	DefaultNamespace = "livestream"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultEnvFile   = ".env"
)

const (
	BackendWebSocket = "ws"
	BackendMQTT      = "mqtt"
)

// Config holds application configuration
type Config struct {
	// Domain is the store server host, also used for shareable room links
	Domain string

	Backend   string
	StoreURL  string
	Broker    string
	Namespace string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Options carries CLI flag overrides. Empty fields fall through to the
// environment.
type Options struct {
	Domain     string
	Backend    string
	StoreURL   string
	Broker     string
	Namespace  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// EnvFile defaults to .env in the working directory. A missing file is not an error.
	EnvFile string
}

// Load resolves configuration with the following priority:
// 1. CLI flags (Options)
// 2. Environment variables
// 3. Values from the .env file
// 4. Defaults
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	// godotenv.Load does not overwrite variables already set in the environment
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}

	cfg := &Config{
		Domain:     pick(opts.Domain, "DOMAIN", DefaultDomain),
		Backend:    strings.ToLower(pick(opts.Backend, "BACKEND", DefaultBackend)),
		Broker:     pick(opts.Broker, "MQTT_BROKER", DefaultBroker),
		Namespace:  strings.Trim(pick(opts.Namespace, "NAMESPACE", DefaultNamespace), "/"),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || envBool("FORCE_RELAY"),
	}
	cfg.StoreURL = pick(opts.StoreURL, "STORE_URL", defaultStoreURL(cfg.Domain))

	switch cfg.Backend {
	case BackendWebSocket, BackendMQTT:
	default:
		return nil, fmt.Errorf("unknown backend %q (want %s or %s)", cfg.Backend, BackendWebSocket, BackendMQTT)
	}
	if cfg.Namespace == "" {
		return nil, errors.New("namespace must not be empty")
	}
	return cfg, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func defaultStoreURL(domain string) string {
	if isLocal(domain) {
		return fmt.Sprintf("ws://%s/ws", domain)
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

func isLocal(domain string) bool {
	host := domain
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "" || strings.HasPrefix(host, "127.")
}

// GetRoomLink returns a shareable link for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	scheme := "https"
	if isLocal(c.Domain) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/r/%s", scheme, c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return strings.Split(c.STUNServer, ",")
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
