package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	DefaultModel             = "llama3.2"
	DefaultMaxTokens         = 4096
	DefaultTemperature       = 0.7
	DefaultMaxToolIterations = 10
	DefaultTimeoutSeconds    = 120
	DefaultProviderType      = "openai"
	DefaultAPIKey            = "ollama"
	DefaultBaseURL           = "http://127.0.0.1:11434/v1"
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8000
	DefaultSSEPath           = "/sse"
	DefaultStreamPath        = "/mcp"
	DefaultTransport         = TransportSSE
	DefaultDataDir           = "data"
	DefaultPreviewRows       = 5
	DefaultMaxCellWidth      = 50
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

const (
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Server   ServerConfig   `json:"server"`
	Data     DataConfig     `json:"data"`
	Log      LogConfig      `json:"log"`
}

type AgentConfig struct {
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default, Ollama) or "anthropic"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// ServerConfig describes the tool host. The listening side uses Host, Port
// and the two paths; the client side uses URL when set and derives the
// endpoint from the listening side otherwise.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	SSEPath    string `json:"ssePath"`
	StreamPath string `json:"streamPath"`
	URL        string `json:"url,omitempty"`
	Transport  string `json:"transport"`
}

type DataConfig struct {
	Dir          string `json:"dir"`
	PreviewRows  int    `json:"previewRows"`
	MaxCellWidth int    `json:"maxCellWidth"`
	// RefreshSchedule, when set, makes serve rebuild sample.parquet from
	// sample.csv on this cron schedule (e.g. "@every 10m").
	RefreshSchedule string `json:"refreshSchedule,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// ListenAddr returns host:port for the tool host listener.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Endpoint returns the URL the agent client dials.
func (s ServerConfig) Endpoint() string {
	if s.URL != "" {
		return s.URL
	}
	path := s.SSEPath
	if s.Transport == TransportStreamable {
		path = s.StreamPath
	}
	return fmt.Sprintf("http://%s%s", s.ListenAddr(), path)
}

// MCPSpec returns the endpoint as an agent MCP server spec, with the
// transport named in the scheme, e.g. "http+sse://127.0.0.1:8000/sse".
func (s ServerConfig) MCPSpec() string {
	endpoint := s.Endpoint()
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return endpoint
	}
	hint := "sse"
	if s.Transport == TransportStreamable {
		hint = "stream"
	}
	return scheme + "+" + hint + "://" + rest
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
			TimeoutSeconds:    DefaultTimeoutSeconds,
		},
		Provider: ProviderConfig{
			Type:    DefaultProviderType,
			APIKey:  DefaultAPIKey,
			BaseURL: DefaultBaseURL,
		},
		Server: ServerConfig{
			Host:       DefaultHost,
			Port:       DefaultPort,
			SSEPath:    DefaultSSEPath,
			StreamPath: DefaultStreamPath,
			Transport:  DefaultTransport,
		},
		Data: DataConfig{
			Dir:          DefaultDataDir,
			PreviewRows:  DefaultPreviewRows,
			MaxCellWidth: DefaultMaxCellWidth,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".mixdata")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read config")
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	applyEnv(cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if model := os.Getenv("MIXDATA_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if key := os.Getenv("MIXDATA_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	} else if key := os.Getenv("OLLAMA_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if p := os.Getenv("MIXDATA_PROVIDER"); p != "" {
		cfg.Provider.Type = strings.ToLower(p)
	}
	if u := os.Getenv("MIXDATA_BASE_URL"); u != "" {
		cfg.Provider.BaseURL = u
	} else if host := os.Getenv("OLLAMA_HOST"); host != "" {
		cfg.Provider.BaseURL = ollamaBaseURL(host)
	}
	if u := os.Getenv("MIXDATA_SERVER_URL"); u != "" {
		cfg.Server.URL = u
	}
	if tr := os.Getenv("MIXDATA_TRANSPORT"); tr != "" {
		cfg.Server.Transport = strings.ToLower(tr)
	}
	if host := os.Getenv("MIXDATA_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("MIXDATA_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if dir := os.Getenv("MIXDATA_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if sched := os.Getenv("MIXDATA_REFRESH_SCHEDULE"); sched != "" {
		cfg.Data.RefreshSchedule = sched
	}
	if level := os.Getenv("MIXDATA_LOG_LEVEL"); level != "" {
		cfg.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("MIXDATA_LOG_FORMAT"); format != "" {
		cfg.Log.Format = strings.ToLower(format)
	}
}

// ollamaBaseURL turns an OLLAMA_HOST value ("host:port" or a full URL)
// into the OpenAI-compatible base URL.
func ollamaBaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	if u, err := url.Parse(host); err == nil && strings.HasSuffix(u.Path, "/v1") {
		return host
	}
	return host + "/v1"
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()
	if c.Agent.Model == "" {
		c.Agent.Model = defaults.Agent.Model
	}
	if c.Agent.MaxToolIterations <= 0 {
		c.Agent.MaxToolIterations = defaults.Agent.MaxToolIterations
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = defaults.Agent.TimeoutSeconds
	}
	if c.Provider.Type == "" {
		c.Provider.Type = defaults.Provider.Type
	}
	if c.Server.SSEPath == "" {
		c.Server.SSEPath = defaults.Server.SSEPath
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = defaults.Server.StreamPath
	}
	if c.Server.Transport == "" {
		c.Server.Transport = defaults.Server.Transport
	}
	if c.Data.Dir == "" {
		c.Data.Dir = defaults.Data.Dir
	}
	dir, err := filepath.Abs(c.Data.Dir)
	if err != nil {
		return errors.Wrapf(err, "resolve data dir %q", c.Data.Dir)
	}
	c.Data.Dir = dir
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case "openai", "anthropic":
	default:
		return errors.Newf("unknown provider type %q", c.Provider.Type)
	}
	switch c.Server.Transport {
	case TransportSSE, TransportStreamable:
	default:
		return errors.Newf("unknown transport %q", c.Server.Transport)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("invalid port %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.SSEPath, "/") || !strings.HasPrefix(c.Server.StreamPath, "/") {
		return errors.New("server paths must start with /")
	}
	if c.Server.SSEPath == c.Server.StreamPath {
		return errors.Newf("ssePath and streamPath must differ, both are %q", c.Server.SSEPath)
	}
	if c.Data.PreviewRows < 0 {
		return errors.Newf("invalid previewRows %d", c.Data.PreviewRows)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Newf("unknown log format %q", c.Log.Format)
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
