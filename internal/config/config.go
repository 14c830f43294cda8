package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log       Log       `mapstructure:"log"       validate:"required"`
	Telemetry Telemetry `mapstructure:"telemetry" validate:"required"`
	API       API       `mapstructure:"api"       validate:"required"`
	Output    Output    `mapstructure:"output"    validate:"required"`
	Build     Build     `mapstructure:"build"`
	Explorer  Explorer  `mapstructure:"explorer"`
	Serve     Serve     `mapstructure:"serve"`
}

type Log struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogDir   string `mapstructure:"log_dir"`
}

type Telemetry struct {
	Enabled     bool              `mapstructure:"enabled"`
	Exporter    string            `mapstructure:"exporter"     validate:"omitempty,oneof=otlp stdout none"`
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"     validate:"omitempty,oneof=grpc http"`
	Insecure    bool              `mapstructure:"insecure"`
	Headers     map[string]string `mapstructure:"headers"`
	ServiceName string            `mapstructure:"service_name"`
}

type API struct {
	BaseURL       string        `mapstructure:"base_url"        validate:"omitempty,url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"         validate:"required,gt=0"`
	MaxRetries    int           `mapstructure:"max_retries"     validate:"min=0,max=10"`
	UniqueIDField string        `mapstructure:"unique_id_field" validate:"required"`
}

type Output struct {
	Directory string `mapstructure:"directory" validate:"required"`
}

type Build struct {
	Concurrency int  `mapstructure:"concurrency"  validate:"min=1,max=16"`
	MemoryLimit int  `mapstructure:"memory_limit" validate:"min=0"`
	Progress    bool `mapstructure:"progress"`
}

type Explorer struct {
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`
}

type Serve struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
}

// Root returns the API root with the /fotoweb suffix the FotoWare endpoints live under.
func (a API) Root() string {
	return NormalizeBaseURL(a.BaseURL)
}

func NormalizeBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" || strings.HasSuffix(base, "/fotoweb") {
		return base
	}
	return base + "/fotoweb"
}

// ErrMissingBaseURL is returned by RequireAPI when no FotoWare API URL is configured.
var ErrMissingBaseURL = errors.New("api.base_url is not set (FOTOWARE_API_BASE_URL or NEXT_PUBLIC_API_URL)")

// RequireAPI checks the settings needed to talk to the remote API. Commands that only
// read the local cache do not need them.
func (c Config) RequireAPI() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	return nil
}

// Load reads configuration from flags, environment, dotenv files and an optional config
// file, in that order of precedence. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	// Values already in the environment win over the dotenv files.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvPrefix("FOTOWARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if err := v.BindEnv("api.base_url", "FOTOWARE_API_BASE_URL", "NEXT_PUBLIC_API_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("api.token", "FOTOWARE_API_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("explorer.public_base_url", "FOTOWARE_EXPLORER_PUBLIC_BASE_URL", "NEXT_PUBLIC_FOTOWARE_BASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if flags != nil {
		var bindErr error
		// Only section.key flags map to config; cobra adds others such as help.
		flags.VisitAll(func(f *pflag.Flag) {
			if !strings.Contains(f.Name, ".") || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.data-builder")
		v.AddConfigPath("/etc/data-builder")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal error: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("validation failed: %w", err)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Exporter == "otlp" && cfg.Telemetry.Endpoint == "" {
		return Config{}, fmt.Errorf("telemetry.endpoint is required when using otlp exporter")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.log_level", "info")
	v.SetDefault("log.log_dir", "logs")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "data-builder")
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_retries", 0)
	v.SetDefault("api.unique_id_field", "187")
	v.SetDefault("output.directory", "data")
	v.SetDefault("build.concurrency", 1)
	v.SetDefault("build.memory_limit", 100)
	v.SetDefault("build.progress", true)
	v.SetDefault("explorer.public_base_url", "https://rmit.fotoware.cloud")
	v.SetDefault("serve.address", "127.0.0.1:8080")
}
