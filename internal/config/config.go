package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/taskwire/internal/errors"
	"github.com/vango-dev/taskwire/pkg/archive"
	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

const (
	// ConfigFileName is the JSON config file looked up by Load.
	ConfigFileName = "taskwire.json"

	// YAMLFileName is tried when ConfigFileName is absent.
	YAMLFileName = "taskwire.yaml"

	// EnvServer overrides server.address.
	EnvServer = "TASKWIRE_SERVER"

	DefaultAddress = "ws://localhost:8080"
	DefaultPath    = "/ws"
)

// Config is the complete taskwire configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Client    ClientConfig    `json:"client" yaml:"client"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Archive   ArchiveConfig   `json:"archive" yaml:"archive"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
	Peer      PeerConfig      `json:"peer" yaml:"peer"`

	configPath string
}

// ServerConfig says where the client connects.
type ServerConfig struct {
	// Address is the ws:// or wss:// base address.
	Address string `json:"address" yaml:"address"`

	// Path is the websocket endpoint path.
	Path string `json:"path" yaml:"path"`

	// Codec is json, msgpack or cbor.
	Codec string `json:"codec" yaml:"codec"`
}

// ClientConfig tunes request and reconnect behaviour.
type ClientConfig struct {
	RequestTimeout    Duration `json:"requestTimeout" yaml:"requestTimeout"`
	ReconnectAttempts int      `json:"reconnectAttempts" yaml:"reconnectAttempts"`
	ReconnectInterval Duration `json:"reconnectInterval" yaml:"reconnectInterval"`
	Heartbeat         Duration `json:"heartbeat" yaml:"heartbeat"`
	DialTimeout       Duration `json:"dialTimeout" yaml:"dialTimeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`

	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Listen    string `json:"listen" yaml:"listen"`
}

// ArchiveConfig configures push archiving for the watch command.
type ArchiveConfig struct {
	Dir           string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	S3Bucket      string   `json:"s3Bucket,omitempty" yaml:"s3Bucket,omitempty"`
	S3Prefix      string   `json:"s3Prefix,omitempty" yaml:"s3Prefix,omitempty"`
	Compression   string   `json:"compression" yaml:"compression"`
	BatchSize     int      `json:"batchSize" yaml:"batchSize"`
	FlushInterval Duration `json:"flushInterval" yaml:"flushInterval"`
}

// RateLimitConfig spaces task list refreshes.
type RateLimitConfig struct {
	MinInterval Duration `json:"minInterval" yaml:"minInterval"`
}

// PeerConfig configures the reference server run by taskwire serve.
type PeerConfig struct {
	Listen        string   `json:"listen" yaml:"listen"`
	BlockInterval Duration `json:"blockInterval" yaml:"blockInterval"`
}

// New returns a config with every default filled in.
func New() *Config {
	policy := client.DefaultReconnectPolicy()
	return &Config{
		Server: ServerConfig{
			Address: DefaultAddress,
			Path:    DefaultPath,
			Codec:   protocol.Default.Name(),
		},
		Client: ClientConfig{
			RequestTimeout:    Duration(client.DefaultRequestTimeout),
			ReconnectAttempts: policy.Attempts,
			ReconnectInterval: Duration(policy.Interval),
			Heartbeat:         Duration(client.DefaultHeartbeat),
			DialTimeout:       Duration(client.DefaultDialTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "taskwire",
			Listen:    ":9090",
		},
		Archive: ArchiveConfig{
			Compression:   string(archive.CompressionZstd),
			BatchSize:     archive.DefaultBatchSize,
			FlushInterval: Duration(archive.DefaultFlushInterval),
		},
		RateLimit: RateLimitConfig{
			MinInterval: Duration(10 * time.Second),
		},
		Peer: PeerConfig{
			Listen:        ":8080",
			BlockInterval: Duration(5 * time.Second),
		},
	}
}

// Load reads taskwire.json, or taskwire.yaml, from dir and applies the
// environment override.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		for _, name := range []string{YAMLFileName, "taskwire.yml"} {
			alt := filepath.Join(dir, name)
			if _, err := os.Stat(alt); err == nil {
				path = alt
				break
			}
		}
	}
	return LoadFile(path)
}

// LoadFile reads a config file; .yaml and .yml files are parsed as YAML and
// anything else as JSON with comments.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("TW100").
				WithDetail("No " + ConfigFileName + " or " + YAMLFileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("TW101").Wrap(err)
	}

	cfg := New()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
	if err != nil {
		return nil, errors.New("TW101").
			WithDetailf("Failed to parse %s: %v", filepath.Base(path), err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ApplyEnv applies environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServer); ok && strings.TrimSpace(v) != "" {
		c.Server.Address = strings.TrimSpace(v)
	}
}

// applyDefaults fills fields a partial file left empty.
func (c *Config) applyDefaults() {
	def := New()
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Server.Path == "" {
		c.Server.Path = def.Server.Path
	}
	if c.Server.Codec == "" {
		c.Server.Codec = def.Server.Codec
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = def.Client.RequestTimeout
	}
	if c.Client.DialTimeout == 0 {
		c.Client.DialTimeout = def.Client.DialTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = def.Archive.Compression
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = def.Archive.BatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = def.Archive.FlushInterval
	}
	if c.Peer.Listen == "" {
		c.Peer.Listen = def.Peer.Listen
	}
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.Address)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("TW102").
			WithDetailf("server.address %q must be a ws:// or wss:// URL", c.Server.Address)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New("TW102").WithDetailf("server.path %q must start with /", c.Server.Path)
	}
	if _, err := protocol.Lookup(c.Server.Codec); err != nil {
		return errors.New("TW301").WithDetailf("server.codec %q is not supported", c.Server.Codec)
	}
	if c.Client.RequestTimeout <= 0 {
		return errors.New("TW102").WithDetail("client.requestTimeout must be positive")
	}
	if c.Client.ReconnectAttempts < 0 {
		return errors.New("TW102").WithDetail("client.reconnectAttempts cannot be negative")
	}
	if c.Client.ReconnectInterval < 0 || c.Client.Heartbeat < 0 || c.Client.DialTimeout < 0 {
		return errors.New("TW102").WithDetail("client durations cannot be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return errors.New("TW102").WithDetail(err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("TW102").WithDetailf("log.format %q must be text or json", c.Log.Format)
	}
	if _, err := archive.ParseCompression(c.Archive.Compression); err != nil {
		return errors.New("TW102").WithDetail(err.Error())
	}
	if c.Archive.BatchSize < 0 || c.Archive.FlushInterval < 0 {
		return errors.New("TW102").WithDetail("archive.batchSize and archive.flushInterval cannot be negative")
	}
	if c.RateLimit.MinInterval < 0 || c.Peer.BlockInterval < 0 {
		return errors.New("TW102").WithDetail("intervals cannot be negative")
	}
	return nil
}

// URL is the full websocket URL the client dials.
func (c *Config) URL() string {
	return strings.TrimRight(c.Server.Address, "/") + c.Server.Path
}

// Codec resolves server.codec.
func (c *Config) Codec() (protocol.Codec, error) {
	codec, err := protocol.Lookup(c.Server.Codec)
	if err != nil {
		return nil, errors.New("TW301").Wrap(err)
	}
	return codec, nil
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	return level, nil
}

// ClientOptions turns the client section into client options.
func (c *Config) ClientOptions() ([]client.Option, error) {
	codec, err := c.Codec()
	if err != nil {
		return nil, err
	}
	return []client.Option{
		client.WithCodec(codec),
		client.WithRequestTimeout(c.Client.RequestTimeout.D()),
		client.WithReconnectPolicy(client.ReconnectPolicy{
			Attempts: c.Client.ReconnectAttempts,
			Interval: c.Client.ReconnectInterval.D(),
		}),
		client.WithHeartbeat(c.Client.Heartbeat.D()),
		client.WithDialTimeout(c.Client.DialTimeout.D()),
	}, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("TW103").WithDetail("no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the config to path, as YAML for .yaml/.yml paths and
// indented JSON otherwise.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New("TW103").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("TW103").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the file the config was loaded from or saved to.
func (c *Config) Path() string {
	return c.configPath
}
