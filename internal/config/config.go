// Package config loads runtime configuration for the bridge: CLI flags
// override environment variables, which override defaults. The variable
// names follow spec.md's external interface literally and unprefixed,
// since they are the documented contract the deploying operator relies on.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the SIP-to-realtime-AI bridge.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	SIPServer     string // "host:port" of the upstream SIP trunk/PBX
	SIPAuthUser   string // SIP authorization username (extension)
	SIPPassword   string
	SIPClientPort int

	RTPPort    int // fixed/starting RTP port; 0 means pick randomly in [8000,18000)
	RTPPortMax int // when nonzero, RTPPort..RTPPortMax is an allocation range

	PublicIP string // contact/SDP address this bridge is reachable at

	AIRealtimeURL  string
	AIAPIKey       string
	AIVoice        string
	AIInstructions string

	MaxConcurrentCalls    int
	SkipSIPRegistration   bool
	SessionExpiresSeconds int

	// RequireRTPBeforeAI and StrictBYE are supplementary toggles named by
	// spec.md §9's design notes ("an implementer should consider an option
	// to require at least one received RTP packet before enabling AI",
	// "MUST expose a configuration toggle to disable [the BYE heuristic]").
	RequireRTPBeforeAI bool
	StrictBYE          bool

	LogLevel  string
	LogFormat string // "text" or "json"
}

const (
	defaultSIPClientPort         = 5060
	defaultRTPPortRangeLow       = 8000
	defaultRTPPortRangeHigh      = 18000
	defaultAIVoice               = "alloy"
	defaultMaxConcurrentCalls    = 10
	defaultSessionExpiresSeconds = 1800
	defaultLogLevel              = "info"
	defaultLogFormat             = "text"
)

// Load parses configuration from CLI flags and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("sipbridge", flag.ContinueOnError)

	fs.StringVar(&cfg.SIPServer, "sip-server", "", "host:port of the upstream SIP trunk")
	fs.StringVar(&cfg.SIPAuthUser, "sip-authorization-user", "", "SIP authorization username (extension)")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP registration password")
	fs.IntVar(&cfg.SIPClientPort, "sip-client-port", defaultSIPClientPort, "local SIP UDP listen port")
	fs.IntVar(&cfg.RTPPort, "rtp-port", 0, "fixed RTP port (0 picks randomly in 8000-18000)")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", 0, "upper bound of the RTP port allocation range (0 disables ranging)")
	fs.StringVar(&cfg.PublicIP, "public-ip", "", "public contact IP advertised in SIP/SDP")
	fs.StringVar(&cfg.AIRealtimeURL, "ai-realtime-url", "", "WebSocket URL of the realtime AI provider")
	fs.StringVar(&cfg.AIAPIKey, "ai-api-key", "", "bearer token for the realtime AI provider")
	fs.StringVar(&cfg.AIVoice, "ai-voice", defaultAIVoice, "voice name requested in session.update")
	fs.StringVar(&cfg.AIInstructions, "ai-instructions", "", "system instructions sent in session.update")
	fs.IntVar(&cfg.MaxConcurrentCalls, "max-concurrent-calls", defaultMaxConcurrentCalls, "maximum simultaneous calls admitted")
	fs.BoolVar(&cfg.SkipSIPRegistration, "skip-sip-registration", false, "skip the REGISTER handshake (test mode)")
	fs.IntVar(&cfg.SessionExpiresSeconds, "session-expires-seconds", defaultSessionExpiresSeconds, "RFC 4028 Session-Expires interval")
	fs.BoolVar(&cfg.RequireRTPBeforeAI, "require-rtp-before-ai", false, "require a received RTP packet before activating AI")
	fs.BoolVar(&cfg.StrictBYE, "strict-bye", false, "honor BYE immediately, disabling the premature-BYE heuristic")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if cfg.RTPPort == 0 {
		cfg.RTPPort = defaultRTPPortRangeLow + pseudoRandomOffset(defaultRTPPortRangeHigh-defaultRTPPortRangeLow)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag not
// explicitly set on the command line, preserving CLI > env > default.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"sip-server":              "SIP_SERVER",
		"sip-authorization-user":  "SIP_AUTHORIZATION_USER",
		"sip-password":            "SIP_PASSWORD",
		"sip-client-port":         "SIP_CLIENT_PORT",
		"rtp-port":                "RTP_PORT",
		"rtp-port-max":            "RTP_PORT_MAX",
		"public-ip":               "PUBLIC_IP",
		"ai-realtime-url":         "AI_REALTIME_URL",
		"ai-api-key":              "AI_API_KEY",
		"ai-voice":                "AI_VOICE",
		"ai-instructions":         "AI_INSTRUCTIONS",
		"max-concurrent-calls":    "MAX_CONCURRENT_CALLS",
		"skip-sip-registration":   "SKIP_SIP_REGISTRATION",
		"session-expires-seconds": "SESSION_EXPIRES_SECONDS",
		"log-level":               "SIPBRIDGE_LOG_LEVEL",
		"log-format":              "SIPBRIDGE_LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "sip-server":
			cfg.SIPServer = val
		case "sip-authorization-user":
			cfg.SIPAuthUser = val
		case "sip-password":
			cfg.SIPPassword = val
		case "sip-client-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPClientPort = v
			}
		case "rtp-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPort = v
			}
		case "rtp-port-max":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RTPPortMax = v
			}
		case "public-ip":
			cfg.PublicIP = val
		case "ai-realtime-url":
			cfg.AIRealtimeURL = val
		case "ai-api-key":
			cfg.AIAPIKey = val
		case "ai-voice":
			cfg.AIVoice = val
		case "ai-instructions":
			cfg.AIInstructions = val
		case "max-concurrent-calls":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxConcurrentCalls = v
			}
		case "skip-sip-registration":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.SkipSIPRegistration = v
			}
		case "session-expires-seconds":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SessionExpiresSeconds = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// pseudoRandomOffset picks a deterministic-enough startup jitter for the
// default RTP port without pulling in crypto/rand for a non-security value;
// the PID supplies enough spread across concurrently started processes.
func pseudoRandomOffset(span int) int {
	if span <= 0 {
		return 0
	}
	return os.Getpid() % span
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.SIPServer == "" {
		return fmt.Errorf("sip-server is required")
	}
	if c.SIPAuthUser == "" {
		return fmt.Errorf("sip-authorization-user is required")
	}
	if c.SIPClientPort < 1 || c.SIPClientPort > 65535 {
		return fmt.Errorf("sip-client-port must be between 1 and 65535, got %d", c.SIPClientPort)
	}
	if c.RTPPort < 1024 || c.RTPPort > 65534 {
		return fmt.Errorf("rtp-port must be between 1024 and 65534, got %d", c.RTPPort)
	}
	if c.RTPPortMax != 0 && c.RTPPortMax < c.RTPPort {
		return fmt.Errorf("rtp-port-max must be >= rtp-port, got %d < %d", c.RTPPortMax, c.RTPPort)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max-concurrent-calls must be at least 1, got %d", c.MaxConcurrentCalls)
	}
	if c.SessionExpiresSeconds < 90 {
		return fmt.Errorf("session-expires-seconds must be at least 90 (RFC 4028 Min-SE floor), got %d", c.SessionExpiresSeconds)
	}
	if !c.SkipSIPRegistration && c.SIPPassword == "" {
		return fmt.Errorf("sip-password is required unless skip-sip-registration is set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
