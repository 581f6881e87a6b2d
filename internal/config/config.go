package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// MemoryBroker selects the in-process broker instead of a websocket one.
const MemoryBroker = "memory"

type Config struct {
	Server ServerConfig
	Broker BrokerConfig
	Call   CallConfig
	Gemini GeminiConfig
}

type ServerConfig struct {
	Addr       string
	StaticDir  string
	InviteBase string
	LogLevel   string
}

type BrokerConfig struct {
	URL            string
	STUNServers    []string
	TURNServers    []TURNServer
	ReconnectDelay time.Duration
}

type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

type CallConfig struct {
	StreamTimeout time.Duration
	RetryLimit    int
	RetryDelay    time.Duration
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
	"stun:stun.ekiga.net",
	"stun:stun.ideasip.com",
	"stun:stun.schlund.de",
	"stun:stun.stunprotocol.org",
	"stun:stun.voiparound.com",
	"stun:stun.voipbuster.com",
	"stun:stun.voipstunt.com",
	"stun:stun.voxgratia.org",
}

var defaultTURN = []string{
	"turn:turn.anyfirewall.com:443?transport=tcp|webrtc|webrtc",
	"turn:openrelay.metered.ca:80|openrelayproject|openrelayproject",
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       getEnv("PULSE_ADDR", ":8080"),
			StaticDir:  getEnv("STATIC_DIR", "./static"),
			InviteBase: getEnv("INVITE_BASE_URL", "http://localhost:8080/"),
			LogLevel:   getEnv("LOG_LEVEL", "info"),
		},
		Broker: BrokerConfig{
			URL:            getEnv("BROKER_URL", "ws://localhost:9000/broker"),
			STUNServers:    getEnvAsList("STUN_SERVERS", defaultSTUN),
			TURNServers:    parseTURN(getEnvAsList("TURN_SERVERS", defaultTURN)),
			ReconnectDelay: getEnvAsDuration("RECONNECT_DELAY", 500*time.Millisecond),
		},
		Call: CallConfig{
			StreamTimeout: getEnvAsDuration("CALL_TIMEOUT", 10*time.Second),
			RetryLimit:    getEnvAsInt("RETRY_LIMIT", 2),
			RetryDelay:    getEnvAsDuration("RETRY_DELAY", 800*time.Millisecond),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		},
	}
}

// ICEServers lists every STUN server first, then the TURN relays.
func (c BrokerConfig) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.STUNServers)+len(c.TURNServers))
	for _, u := range c.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	for _, t := range c.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{t.URL},
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return servers
}

func (c BrokerConfig) InProcess() bool {
	return c.URL == MemoryBroker
}

// parseTURN reads url|username|credential entries; a bare url has no
// credentials.
func parseTURN(entries []string) []TURNServer {
	var out []TURNServer
	for _, e := range entries {
		parts := strings.SplitN(e, "|", 3)
		t := TURNServer{URL: strings.TrimSpace(parts[0])}
		if t.URL == "" {
			continue
		}
		if len(parts) > 1 {
			t.Username = parts[1]
		}
		if len(parts) > 2 {
			t.Credential = parts[2]
		}
		out = append(out, t)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
