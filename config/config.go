package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Transport kinds.
const (
	TransportQUIC = "quic"
	TransportWS   = "ws"
	TransportMem  = "mem"
)

// Validation bounds.
const (
	MinPort = 0
	MaxPort = 65535

	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second

	MinTimeout = 100 * time.Millisecond
	MaxTimeout = 10 * time.Minute
)

// ErrInvalid indicates a configuration value outside its allowed range.
var ErrInvalid = errors.New("invalid configuration")

// Config holds everything needed to build a transport and run a session.
type Config struct {
	Transport        string
	Address          string
	Port             int
	Key              string
	PollInterval     time.Duration
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	LogLevel         string
	LogFormat        string
	LogFile          string
}

// Default returns the built-in configuration.
//
// Default Value Rationale:
//   - Transport: quic - the UDP reference transport
//   - PollInterval: 15ms - roughly one poll per 60Hz frame
//   - IdleTimeout: 15s - long enough to ride out brief packet loss
//   - HandshakeTimeout: 10s - covers a slow server poll loop
func Default() Config {
	return Config{
		Transport:        TransportQUIC,
		Address:          "localhost",
		Port:             27015,
		PollInterval:     15 * time.Millisecond,
		IdleTimeout:      15 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "auto",
	}
}

type fileConfig struct {
	Transport        string `toml:"transport"`
	Address          string `toml:"address"`
	Port             int    `toml:"port"`
	Key              string `toml:"key"`
	PollInterval     string `toml:"poll_interval"`
	IdleTimeout      string `toml:"idle_timeout"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	Log              struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		File   string `toml:"file"`
	} `toml:"log"`
}

// Load reads a TOML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("key") {
		cfg.Key = raw.Key
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.LogFormat = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("log", "file") {
		cfg.LogFile = strings.TrimSpace(raw.Log.File)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "config.Load",
			"path":     path,
			"keys":     fmt.Sprint(undecoded),
		}).Warn("Ignoring unknown configuration keys")
	}
	return cfg, nil
}

// FromEnv applies PACKETNET_* environment overrides to cfg. Values that do
// not parse or fall outside their bounds are logged and ignored.
func FromEnv(cfg Config) Config {
	parseTransportSetting(&cfg)
	if v := os.Getenv("PACKETNET_ADDRESS"); v != "" {
		cfg.Address = v
	}
	parsePortSetting(&cfg)
	if v, ok := os.LookupEnv("PACKETNET_KEY"); ok {
		cfg.Key = v
	}
	parseLogLevelSetting(&cfg)
	return cfg
}

func parseTransportSetting(cfg *Config) {
	v := os.Getenv("PACKETNET_TRANSPORT")
	if v == "" {
		return
	}
	kind := strings.ToLower(strings.TrimSpace(v))
	if !validTransport(kind) {
		logrus.WithFields(logrus.Fields{
			"function":    "parseTransportSetting",
			"env_var":     "PACKETNET_TRANSPORT",
			"value":       v,
			"using_value": cfg.Transport,
		}).Warn("Unknown PACKETNET_TRANSPORT, using default")
		return
	}
	cfg.Transport = kind
}

func parsePortSetting(cfg *Config) {
	v := os.Getenv("PACKETNET_PORT")
	if v == "" {
		return
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePortSetting",
			"env_var":     "PACKETNET_PORT",
			"value":       v,
			"error":       err.Error(),
			"using_value": cfg.Port,
		}).Warn("Failed to parse PACKETNET_PORT environment variable, using default")
		return
	}
	if port < MinPort || port > MaxPort {
		logrus.WithFields(logrus.Fields{
			"function":    "parsePortSetting",
			"env_var":     "PACKETNET_PORT",
			"value":       port,
			"min":         MinPort,
			"max":         MaxPort,
			"using_value": cfg.Port,
		}).Warn("PACKETNET_PORT value out of bounds, using default")
		return
	}
	cfg.Port = port
}

func parseLogLevelSetting(cfg *Config) {
	v := os.Getenv("PACKETNET_LOG_LEVEL")
	if v == "" {
		return
	}
	if _, err := logrus.ParseLevel(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseLogLevelSetting",
			"env_var":     "PACKETNET_LOG_LEVEL",
			"value":       v,
			"error":       err.Error(),
			"using_value": cfg.LogLevel,
		}).Warn("Failed to parse PACKETNET_LOG_LEVEL environment variable, using default")
		return
	}
	cfg.LogLevel = v
}

func validTransport(kind string) bool {
	switch kind {
	case TransportQUIC, TransportWS, TransportMem:
		return true
	}
	return false
}

// Validate checks every field against its bounds.
func (c Config) Validate() error {
	var errs []error
	if !validTransport(c.Transport) {
		errs = append(errs, fmt.Errorf("%w: transport %q, want quic, ws or mem", ErrInvalid, c.Transport))
	}
	if c.Port < MinPort || c.Port > MaxPort {
		errs = append(errs, fmt.Errorf("%w: port %d outside [%d, %d]", ErrInvalid, c.Port, MinPort, MaxPort))
	}
	if c.PollInterval < MinPollInterval || c.PollInterval > MaxPollInterval {
		errs = append(errs, fmt.Errorf("%w: poll_interval %s outside [%s, %s]", ErrInvalid, c.PollInterval, MinPollInterval, MaxPollInterval))
	}
	if c.IdleTimeout < MinTimeout || c.IdleTimeout > MaxTimeout {
		errs = append(errs, fmt.Errorf("%w: idle_timeout %s outside [%s, %s]", ErrInvalid, c.IdleTimeout, MinTimeout, MaxTimeout))
	}
	if c.HandshakeTimeout < MinTimeout || c.HandshakeTimeout > MaxTimeout {
		errs = append(errs, fmt.Errorf("%w: handshake_timeout %s outside [%s, %s]", ErrInvalid, c.HandshakeTimeout, MinTimeout, MaxTimeout))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log level: %v", ErrInvalid, err))
	}
	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log format %q, want auto, text or json", ErrInvalid, c.LogFormat))
	}
	return errors.Join(errs...)
}
