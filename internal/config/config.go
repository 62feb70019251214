// Package config provides configuration loading, defaults, validation, and
// the hot-reload snapshot handoff.
//
// The single source of truth is <state_root>/config.toml. There are no
// environment or flag overrides for runtime behavior; only the state root
// itself can be relocated (CODEX_GW_STATE_ROOT).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultPoolID is the dynamic pool whose membership is the set of
	// locally discovered accounts. A [pools.default] stanza is parsed but
	// shadowed at resolve time.
	DefaultPoolID = "default"

	stateRootEnv     = "CODEX_GW_STATE_ROOT"
	defaultStateDir  = ".codex-gateway"
	accountsDirName  = "accounts"
	configFileName   = "config.toml"
	poolIDMaxLen     = 64
	labelMaxLen      = 64
)

var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

type Config struct {
	Gateway GatewayConfig         `mapstructure:"gateway"`
	Pools   map[string]PoolConfig `mapstructure:"pools"`
}

type GatewayConfig struct {
	Listen                       string `mapstructure:"listen"`
	UpstreamBaseURL              string `mapstructure:"upstream_base_url"`
	RedisURL                     string `mapstructure:"redis_url"`
	StickyTTLSeconds             int    `mapstructure:"sticky_ttl_seconds"`
	TokenSafetyWindowSeconds     int    `mapstructure:"token_safety_window_seconds"`
	UpstreamTimeoutSeconds       int    `mapstructure:"upstream_timeout_seconds"`
	UpstreamHeaderTimeoutSeconds int    `mapstructure:"upstream_header_timeout_seconds"`
	PollIntervalSeconds          int    `mapstructure:"poll_interval_seconds"`
}

type PoolConfig struct {
	Labels    []string `mapstructure:"labels"`
	PolicyKey string   `mapstructure:"policy_key"`
}

func (g GatewayConfig) StickyTTL() time.Duration {
	return time.Duration(g.StickyTTLSeconds) * time.Second
}

func (g GatewayConfig) TokenSafetyWindow() time.Duration {
	return time.Duration(g.TokenSafetyWindowSeconds) * time.Second
}

// UpstreamIdleTimeout is the optional SSE-aware body timeout: the maximum
// gap between upstream body reads, not a total-request deadline. Zero
// disables it.
func (g GatewayConfig) UpstreamIdleTimeout() time.Duration {
	return time.Duration(g.UpstreamTimeoutSeconds) * time.Second
}

func (g GatewayConfig) UpstreamHeaderTimeout() time.Duration {
	return time.Duration(g.UpstreamHeaderTimeoutSeconds) * time.Second
}

func (g GatewayConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSeconds) * time.Second
}

// ResolveStateRoot returns the state root directory. Only the location is
// overridable; everything else comes from config.toml inside it.
func ResolveStateRoot() string {
	if root := strings.TrimSpace(os.Getenv(stateRootEnv)); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultStateDir
	}
	return filepath.Join(home, defaultStateDir)
}

func ConfigPath(stateRoot string) string {
	return filepath.Join(stateRoot, configFileName)
}

func AccountsRoot(stateRoot string) string {
	return filepath.Join(stateRoot, accountsDirName)
}

// Load reads and validates <state_root>/config.toml into an immutable
// snapshot.
func Load(stateRoot string) (*Config, error) {
	path := ConfigPath(stateRoot)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if cfg.Pools == nil {
		cfg.Pools = map[string]PoolConfig{}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.listen", "127.0.0.1:8787")
	v.SetDefault("gateway.upstream_base_url", "https://chatgpt.com/backend-api/codex")
	v.SetDefault("gateway.redis_url", "redis://127.0.0.1:6379")
	v.SetDefault("gateway.sticky_ttl_seconds", 7200)
	v.SetDefault("gateway.token_safety_window_seconds", 120)
	v.SetDefault("gateway.upstream_timeout_seconds", 0)
	v.SetDefault("gateway.upstream_header_timeout_seconds", 30)
	v.SetDefault("gateway.poll_interval_seconds", 5)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Gateway.Listen) == "" {
		return fmt.Errorf("gateway.listen must not be empty")
	}
	if strings.TrimSpace(c.Gateway.UpstreamBaseURL) == "" {
		return fmt.Errorf("gateway.upstream_base_url must not be empty")
	}
	if _, err := url.Parse(c.Gateway.UpstreamBaseURL); err != nil {
		return fmt.Errorf("gateway.upstream_base_url: %w", err)
	}
	if strings.TrimSpace(c.Gateway.RedisURL) == "" {
		return fmt.Errorf("gateway.redis_url must not be empty")
	}
	if c.Gateway.StickyTTLSeconds <= 0 {
		return fmt.Errorf("gateway.sticky_ttl_seconds must be > 0")
	}
	if c.Gateway.TokenSafetyWindowSeconds < 0 {
		return fmt.Errorf("gateway.token_safety_window_seconds must be >= 0")
	}
	if c.Gateway.PollIntervalSeconds <= 0 {
		return fmt.Errorf("gateway.poll_interval_seconds must be > 0")
	}
	for poolID, pool := range c.Pools {
		if err := ValidatePoolID(poolID); err != nil {
			return err
		}
		for _, label := range pool.Labels {
			if err := ValidateLabel(label); err != nil {
				return fmt.Errorf("pool %q: %w", poolID, err)
			}
		}
	}
	return nil
}

// ValidatePoolID enforces the pool id charset and length.
func ValidatePoolID(poolID string) error {
	if poolID == "" {
		return fmt.Errorf("pool_id must not be empty")
	}
	if len(poolID) > poolIDMaxLen {
		return fmt.Errorf("pool_id %q is too long (max %d)", poolID, poolIDMaxLen)
	}
	if strings.HasPrefix(poolID, ".") || !labelPattern.MatchString(poolID) {
		return fmt.Errorf("invalid pool_id %q", poolID)
	}
	return nil
}

// ValidateLabel enforces the account label charset and length: letters,
// digits, '.', '_' and '-'; at most 64 chars; no leading dot.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label must not be empty")
	}
	if len(label) > labelMaxLen {
		return fmt.Errorf("label %q is too long (max %d)", label, labelMaxLen)
	}
	if strings.HasPrefix(label, ".") || !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q", label)
	}
	return nil
}
