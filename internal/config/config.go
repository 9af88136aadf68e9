// Package config loads settings for both binaries from a .env file, YA_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const envPrefix = "YA_"

type Log struct {
	Level  string
	Format string
}

type Server struct {
	Addr       string
	RedisURL   string
	BusChannel string
	HandoffTTL time.Duration

	ReadLimit   int64
	PongWait    time.Duration
	PingPeriod  time.Duration
	WriteWait   time.Duration
	SendBacklog int

	Log Log
}

type Client struct {
	ServerURL      string
	UserID         string
	Name           string
	Avatar         string
	ICEServers     []string
	RecordEndpoint string
	RingTimeout    time.Duration
	Targets        []string
	Audio          bool
	Video          bool

	Log Log
}

func DefaultServer() Server {
	return Server{
		Addr:        ":8080",
		BusChannel:  "yacall:events",
		ReadLimit:   64 << 10,
		PongWait:    60 * time.Second,
		PingPeriod:  30 * time.Second,
		WriteWait:   10 * time.Second,
		SendBacklog: 128,
		Log:         Log{Level: "info", Format: "console"},
	}
}

func DefaultClient() Client {
	return Client{
		ServerURL:  "ws://localhost:8080/ws",
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Audio:      true,
		Log:        Log{Level: "info", Format: "console"},
	}
}

// LoadServer reads the server settings. args are the command-line arguments
// without the program name.
func LoadServer(args []string) (Server, error) {
	loadDotEnv()

	cfg := DefaultServer()
	var errs []error
	cfg.Addr = envString("ADDR", cfg.Addr)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.BusChannel = envString("BUS_CHANNEL", cfg.BusChannel)
	cfg.HandoffTTL = envDuration("HANDOFF_TTL", cfg.HandoffTTL, &errs)
	cfg.ReadLimit = int64(envInt("WS_READ_LIMIT", int(cfg.ReadLimit), &errs))
	cfg.PongWait = envDuration("WS_PONG_WAIT", cfg.PongWait, &errs)
	cfg.PingPeriod = envDuration("WS_PING_PERIOD", cfg.PingPeriod, &errs)
	cfg.WriteWait = envDuration("WS_WRITE_WAIT", cfg.WriteWait, &errs)
	cfg.SendBacklog = envInt("WS_SEND_BACKLOG", cfg.SendBacklog, &errs)
	cfg.Log = envLog(cfg.Log)
	if err := errors.Join(errs...); err != nil {
		return Server{}, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "redis URL; empty keeps every store in memory")
	fs.DurationVar(&cfg.HandoffTTL, "handoff-ttl", cfg.HandoffTTL, "expiry of parked chat handoffs, 0 for none")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "trace, debug, info, warn or error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "console or json")
	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

func (c Server) Validate() error {
	if c.Addr == "" {
		return errors.New("config: empty listen address")
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("config: ping period %s must be shorter than pong wait %s", c.PingPeriod, c.PongWait)
	}
	if c.HandoffTTL < 0 {
		return errors.New("config: negative handoff ttl")
	}
	if c.SendBacklog <= 0 {
		return errors.New("config: send backlog must be positive")
	}
	return c.Log.Validate()
}

// LoadClient reads the call client settings.
func LoadClient(args []string) (Client, error) {
	loadDotEnv()

	cfg := DefaultClient()
	var errs []error
	cfg.ServerURL = envString("SERVER_URL", cfg.ServerURL)
	cfg.UserID = envString("USER_ID", cfg.UserID)
	cfg.Name = envString("NAME", cfg.Name)
	cfg.Avatar = envString("AVATAR", cfg.Avatar)
	cfg.ICEServers = envList("ICE_SERVERS", cfg.ICEServers)
	cfg.RecordEndpoint = envString("RECORD_ENDPOINT", cfg.RecordEndpoint)
	cfg.RingTimeout = envDuration("RING_TIMEOUT", cfg.RingTimeout, &errs)
	cfg.Log = envLog(cfg.Log)
	if err := errors.Join(errs...); err != nil {
		return Client{}, err
	}

	var ice, targets string
	fs := flag.NewFlagSet("caller", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "signaling websocket URL")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "user id to register as")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "display name")
	fs.StringVar(&ice, "ice", strings.Join(cfg.ICEServers, ","), "comma separated STUN/TURN URLs")
	fs.StringVar(&targets, "call", "", "comma separated user ids to call on start")
	fs.BoolVar(&cfg.Audio, "audio", cfg.Audio, "send audio")
	fs.BoolVar(&cfg.Video, "video", cfg.Video, "send video")
	fs.DurationVar(&cfg.RingTimeout, "ring-timeout", cfg.RingTimeout, "give up ringing after this long, 0 to ring forever")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "trace, debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Client{}, err
	}
	cfg.ICEServers = splitList(ice)
	cfg.Targets = splitList(targets)
	return cfg, cfg.Validate()
}

func (c Client) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: empty server url")
	}
	if c.UserID == "" {
		return errors.New("config: a user id is required")
	}
	if c.RingTimeout < 0 {
		return errors.New("config: negative ring timeout")
	}
	if !c.Audio && !c.Video {
		return errors.New("config: enable audio, video or both")
	}
	return c.Log.Validate()
}

func (l Log) Validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	switch l.Format {
	case "console", "json":
		return nil
	}
	return fmt.Errorf("config: unknown log format %q", l.Format)
}

func loadDotEnv() {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()
}

func envLog(def Log) Log {
	return Log{
		Level:  envString("LOG_LEVEL", def.Level),
		Format: envString("LOG_FORMAT", def.Format),
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
		return fallback
	}
	return v
}

func envList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
