// Package config loads the gateway's configuration from a layered set of
// sources (defaults -> global ~/.llmgateway/config.yaml -> project-local
// config.yaml -> environment), adapted from the teacher's
// infrastructure/config.Load layering, restructured around the proxy's own
// key surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the gateway's root configuration, matching the flat key
// surface documented for the HTTP edge: host, port, default_backend,
// command_prefix, proxy_timeout_seconds, rate_limit.*, loop_detection.*,
// tool_call_loop.*, backends.<name>.*, failover_routes.<name>.*,
// json_repair.*.
type Config struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	DefaultBackend      string `mapstructure:"default_backend"`
	CommandPrefix       string `mapstructure:"command_prefix"`
	ProxyTimeoutSeconds int    `mapstructure:"proxy_timeout_seconds"`

	Auth          AuthConfig                    `mapstructure:"auth"`
	Log           LogConfig                     `mapstructure:"log"`
	RateLimit     RateLimitConfig               `mapstructure:"rate_limit"`
	LoopDetection LoopDetectionConfig           `mapstructure:"loop_detection"`
	ToolCallLoop  ToolCallLoopConfig            `mapstructure:"tool_call_loop"`
	JSONRepair    JSONRepairConfig              `mapstructure:"json_repair"`
	Backends      map[string]BackendConfig      `mapstructure:"backends"`
	FailoverRoutes map[string]FailoverRouteConfig `mapstructure:"failover_routes"`

	CredentialDir string `mapstructure:"credential_dir"`
	AuditLogPath  string `mapstructure:"audit_log_path"`
}

// AuthConfig gates the HTTP edge's own client authentication, distinct
// from the upstream credentials in Backends.<name>.api_keys. Disabled is a
// dev-only escape hatch; ClientAPIKeys is the accepted set when enabled.
type AuthConfig struct {
	Disabled      bool     `mapstructure:"disabled"`
	ClientAPIKeys []string `mapstructure:"client_api_keys"`
}

// LogConfig controls the zap logger built by the logger package.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig controls the token-bucket limiter.
type RateLimitConfig struct {
	Limit         float64 `mapstructure:"limit"`
	WindowSeconds int     `mapstructure:"window_seconds"`
	Scope         string  `mapstructure:"scope"` // "backend_key" | "client"
}

// LoopDetectionConfig controls the content loop detector.
type LoopDetectionConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MinPatternLen   int  `mapstructure:"min_pattern_length"`
	MaxPatternLen   int  `mapstructure:"max_pattern_length"`
	MinRepetitions  int  `mapstructure:"min_repetitions"`
}

// ToolCallLoopConfig controls the tool-call loop detector.
type ToolCallLoopConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	MaxRepeats          int     `mapstructure:"max_repeats"`
	TTLSeconds          int     `mapstructure:"ttl_seconds"`
	Mode                string  `mapstructure:"mode"` // block | warn | chance_then_block
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// JSONRepairConfig controls the tool-call argument repair middleware.
type JSONRepairConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	StrictMode       bool     `mapstructure:"strict_mode"`
	BufferCapBytes   int      `mapstructure:"buffer_cap_bytes"`
	CoercionEnabled  bool     `mapstructure:"coercion_enabled"`
	Schemas          []string `mapstructure:"schemas"`
}

// BackendConfig describes one connector's wiring: which dialect it speaks,
// where it lives, and which models it serves.
type BackendConfig struct {
	Dialect string   `mapstructure:"dialect"` // openai | anthropic | gemini
	APIURL  string   `mapstructure:"api_url"`
	APIKeys []string `mapstructure:"api_keys"` // credential names resolved via credential.Manager
	Models  []string `mapstructure:"models"`
}

// FailoverRouteConfig names a policy and ordered list of "backend/model"
// elements, matching canon.FailoverRoute's on-disk shape.
type FailoverRouteConfig struct {
	Policy   string   `mapstructure:"policy"` // k | m | km | mk
	Elements []string `mapstructure:"elements"`
}

// Load reads configuration from defaults, then
// ~/.llmgateway/config.yaml, then ./config/config.yaml (or ./config.yaml
// when that is absent),
// then environment variables — each layer overriding the previous, matching
// the teacher's layered Load().
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".llmgateway")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("LLMGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 18080)
	v.SetDefault("command_prefix", "!/")
	v.SetDefault("proxy_timeout_seconds", 120)

	v.SetDefault("auth.disabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.limit", 5.0)
	v.SetDefault("rate_limit.window_seconds", 1)
	v.SetDefault("rate_limit.scope", "backend_key")

	v.SetDefault("loop_detection.enabled", true)
	v.SetDefault("loop_detection.min_pattern_length", 8)
	v.SetDefault("loop_detection.max_pattern_length", 256)
	v.SetDefault("loop_detection.min_repetitions", 4)

	v.SetDefault("tool_call_loop.enabled", true)
	v.SetDefault("tool_call_loop.max_repeats", 3)
	v.SetDefault("tool_call_loop.ttl_seconds", 120)
	v.SetDefault("tool_call_loop.mode", "chance_then_block")
	v.SetDefault("tool_call_loop.similarity_threshold", 0.9)

	v.SetDefault("json_repair.enabled", true)
	v.SetDefault("json_repair.strict_mode", false)
	v.SetDefault("json_repair.buffer_cap_bytes", 65536)
	v.SetDefault("json_repair.coercion_enabled", true)

	v.SetDefault("credential_dir", filepath.Join(os.Getenv("HOME"), ".llmgateway", "credentials"))
	v.SetDefault("audit_log_path", "")
}
