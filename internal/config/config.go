package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the settings shared by the CLI and the HTTP server.
type Config struct {
	DB struct {
		Driver   string `mapstructure:"driver"`
		DSN      string `mapstructure:"dsn"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"db"`
	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`
	HTTP struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"http"`
	DefaultTimezone         string        `mapstructure:"default_timezone"`
	CadenceMode             string        `mapstructure:"cadence_mode"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	TickWorkers             int           `mapstructure:"tick_workers"`
	StructuralWorkflowTypes []string      `mapstructure:"structural_workflow_types"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "coachflow")
	v.SetDefault("redis.addr", "")
	v.SetDefault("http.port", 8080)
	v.SetDefault("default_timezone", "America/New_York")
	v.SetDefault("cadence_mode", "record")
	v.SetDefault("lock_ttl", 2*time.Minute)
	v.SetDefault("tick_workers", 0)
	v.SetDefault("structural_workflow_types", []string{})
}

// Load reads .env (when present), then coachflow.yaml from the working
// directory or ./config, then the environment. DB_HOST maps to db.host,
// LOCK_TTL to lock_ttl and so on.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("coachflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	// Comma separated lists arrive from the environment as one string.
	cfg.StructuralWorkflowTypes = splitList(cfg.StructuralWorkflowTypes)
	cfg.CadenceMode = strings.ToLower(strings.TrimSpace(cfg.CadenceMode))
	return &cfg, cfg.validate()
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	switch c.CadenceMode {
	case "record", "calendar":
	default:
		return errors.Errorf("unsupported CADENCE_MODE %q", c.CadenceMode)
	}
	if c.LockTTL <= 0 {
		return errors.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return errors.Wrapf(err, "invalid DEFAULT_TIMEZONE %q", c.DefaultTimezone)
	}
	return nil
}

// DatabaseDSN returns DB_DSN when set, otherwise the Postgres URL assembled
// from its parts or the default SQLite file.
func (c *Config) DatabaseDSN() string {
	if c.DB.DSN != "" {
		return c.DB.DSN
	}
	if c.DB.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			c.DB.Username, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
	}
	return "coachflow.db"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
