package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"edgemetrics/internal/identity"
	"edgemetrics/internal/model"
	"edgemetrics/internal/notice"
)

const (
	DefaultListen          = ":8080"
	DefaultTrustedIPHeader = identity.DefaultTrustedHeader
	DefaultMaxBodyBytes    = 1 << 20
	DefaultSchedule        = "*/5 * * * *"
	DefaultProtocol        = "auto"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultSocketTimeout   = 5 * time.Second
	DefaultCooldown        = time.Second
	DefaultSamples         = 2
	DefaultNoticeTTL       = notice.DefaultStormTTL
	DefaultStormURL        = notice.DefaultStormURL
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds both aggregation server and probe agent settings.
type Config struct {
	Server *ServerConfig `yaml:"server,omitempty"`
	Agent  *AgentConfig  `yaml:"agent,omitempty"`
}

// ServerConfig is used by the aggregation service.
type ServerConfig struct {
	Listen          string           `yaml:"listen"`
	TrustedIPHeader string           `yaml:"trusted_ip_header"`
	StrictEndpoints bool             `yaml:"strict_endpoints"`
	MaxBodyBytes    int64            `yaml:"max_body_bytes"`
	Nodes           []model.Node     `yaml:"nodes"`
	Endpoints       []model.Endpoint `yaml:"endpoints"`
	Notice          NoticeConfig     `yaml:"notice"`
}

// NoticeConfig configures the optional status-banner providers.
type NoticeConfig struct {
	Storm StormConfig `yaml:"storm"`
}

// StormConfig configures the weather-driven notice provider.
type StormConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
}

// AgentConfig is used by the probe agent process.
type AgentConfig struct {
	Server         string        `yaml:"server"`
	Authorization  string        `yaml:"authorization"`
	Schedule       string        `yaml:"schedule"`
	Protocol       string        `yaml:"protocol"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SocketTimeout  time.Duration `yaml:"socket_timeout"`
	Cooldown       time.Duration `yaml:"cooldown"`
	Samples        int           `yaml:"samples"`
	UserAgent      string        `yaml:"user_agent"`
	STUNServers    []string      `yaml:"stun_servers"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk. Node credentials live in it, so 0600.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs validation for required fields.
func Validate(cfg Config) error {
	if cfg.Server == nil && cfg.Agent == nil {
		return fmt.Errorf("config must contain server or agent section")
	}
	if cfg.Server != nil {
		if err := validateServer(cfg.Server); err != nil {
			return err
		}
	}
	if cfg.Agent != nil {
		if err := validateAgent(cfg.Agent); err != nil {
			return err
		}
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	names := map[string]bool{}
	creds := map[string]bool{}
	for i, node := range s.Nodes {
		if node.Name == "" {
			return fmt.Errorf("server.nodes[%d].name is required", i)
		}
		if node.Authorization == "" {
			return fmt.Errorf("server.nodes[%d].auth is required", i)
		}
		if names[node.Name] {
			return fmt.Errorf("duplicate node name %q", node.Name)
		}
		if creds[node.Authorization] {
			return fmt.Errorf("node %q reuses another node's auth", node.Name)
		}
		if node.Lock != "" {
			if _, err := netip.ParseAddr(node.Lock); err != nil {
				return fmt.Errorf("node %q: invalid lock %q", node.Name, node.Lock)
			}
		}
		names[node.Name] = true
		creds[node.Authorization] = true
	}
	endpoints := map[string]bool{}
	for i, ep := range s.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("server.endpoints[%d].name is required", i)
		}
		if endpoints[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		if err := validateURL(ep.URL); err != nil {
			return fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		endpoints[ep.Name] = true
	}
	return nil
}

func validateAgent(a *AgentConfig) error {
	if a.Server == "" {
		return fmt.Errorf("agent.server is required")
	}
	if a.Authorization == "" {
		return fmt.Errorf("agent.authorization is required")
	}
	if _, err := cron.ParseStandard(a.Schedule); err != nil {
		return fmt.Errorf("agent.schedule: invalid cron expression %q: %v", a.Schedule, err)
	}
	switch a.Protocol {
	case "auto", "h1", "h2", "h3":
	default:
		return fmt.Errorf("agent.protocol must be one of auto|h1|h2|h3, got %q", a.Protocol)
	}
	if a.Samples < 1 {
		return fmt.Errorf("agent.samples must be at least 1")
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Server != nil {
		if cfg.Server.Listen == "" {
			cfg.Server.Listen = DefaultListen
		}
		if cfg.Server.TrustedIPHeader == "" {
			cfg.Server.TrustedIPHeader = DefaultTrustedIPHeader
		}
		if cfg.Server.MaxBodyBytes == 0 {
			cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
		}
		if cfg.Server.Notice.Storm.URL == "" {
			cfg.Server.Notice.Storm.URL = DefaultStormURL
		}
		if cfg.Server.Notice.Storm.TTL == 0 {
			cfg.Server.Notice.Storm.TTL = DefaultNoticeTTL
		}
	}

	if cfg.Agent != nil {
		if cfg.Agent.Schedule == "" {
			cfg.Agent.Schedule = DefaultSchedule
		}
		if cfg.Agent.Protocol == "" {
			cfg.Agent.Protocol = DefaultProtocol
		}
		if cfg.Agent.RequestTimeout == 0 {
			cfg.Agent.RequestTimeout = DefaultRequestTimeout
		}
		if cfg.Agent.SocketTimeout == 0 {
			cfg.Agent.SocketTimeout = DefaultSocketTimeout
		}
		if cfg.Agent.Cooldown == 0 {
			cfg.Agent.Cooldown = DefaultCooldown
		}
		if cfg.Agent.Samples == 0 {
			cfg.Agent.Samples = DefaultSamples
		}
		if cfg.Agent.UserAgent == "" {
			cfg.Agent.UserAgent = DefaultUserAgent
		}
	}
}
