// Package config loads service configuration from defaults, an optional
// taskplan.yaml file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultIdentity = "小明 CS本科生"
	DefaultCoreNum  = 5
	DefaultSubNum   = 7
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Providers ProvidersConfig `mapstructure:"providers"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// PlannerConfig selects the deployment variant of the generate endpoint.
type PlannerConfig struct {
	Provider        string `mapstructure:"provider"`
	StrictSchema    bool   `mapstructure:"strict_schema"`
	QueryDefaults   bool   `mapstructure:"query_defaults"`
	DefaultIdentity string `mapstructure:"default_identity"`
	DefaultCoreNum  int    `mapstructure:"default_core_num"`
	DefaultSubNum   int    `mapstructure:"default_sub_num"`
}

type ProvidersConfig struct {
	DeepSeek    ProviderCredentials `mapstructure:"deepseek"`
	SiliconFlow ProviderCredentials `mapstructure:"siliconflow"`
}

type ProviderCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

type LLMConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("planner.provider", "deepseek")
	v.SetDefault("planner.strict_schema", false)
	v.SetDefault("planner.query_defaults", true)
	v.SetDefault("planner.default_identity", DefaultIdentity)
	v.SetDefault("planner.default_core_num", DefaultCoreNum)
	v.SetDefault("planner.default_sub_num", DefaultSubNum)

	v.SetDefault("providers.deepseek.api_key", "")
	v.SetDefault("providers.siliconflow.api_key", "")

	v.SetDefault("llm.timeout", "10m")
	v.SetDefault("llm.max_retries", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.host":                   {"HOST"},
		"server.port":                   {"PORT"},
		"server.cors_origins":           {"CORS_ALLOW_ORIGINS"},
		"planner.provider":              {"TASKPLAN_PROVIDER"},
		"planner.strict_schema":         {"TASKPLAN_STRICT_SCHEMA"},
		"planner.query_defaults":        {"TASKPLAN_QUERY_DEFAULTS"},
		"planner.default_identity":      {"TASKPLAN_DEFAULT_IDENTITY"},
		"planner.default_core_num":      {"TASKPLAN_DEFAULT_CORE_NUM"},
		"planner.default_sub_num":       {"TASKPLAN_DEFAULT_SUB_NUM"},
		"providers.deepseek.api_key":    {"DEEPSEEK_API_KEY"},
		"providers.siliconflow.api_key": {"SILICONFLOW_API_KEY", "SiliconFlow_apikey"},
		"llm.timeout":                   {"LLM_TIMEOUT"},
		"llm.max_retries":               {"LLM_MAX_RETRIES"},
		"log.level":                     {"LOG_LEVEL"},
		"log.format":                    {"LOG_FORMAT"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// Load resolves configuration. TASKPLAN_CONFIG points at an explicit file;
// otherwise taskplan.yaml in the working directory is used when present.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv("TASKPLAN_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("taskplan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Server.CORSOrigins = splitOrigins(cfg.Server.CORSOrigins)

	return cfg, nil
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(raw []string) []string {
	origins := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
