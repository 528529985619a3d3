// AngelaMos | 2026
// config.go

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is assembled from three layers, later ones winning: the embedded
// defaults.yaml, an optional config file, then the environment.
type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	JWT       JWTConfig       `koanf:"jwt"`
	Cookie    CookieConfig    `koanf:"cookie"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"oneof=development staging production"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"     validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout"    validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	DrainDelay      time.Duration `koanf:"drain_delay"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"                validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"     validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	URL          string `koanf:"url"            validate:"required"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// JWTConfig holds the signing setup. Access and refresh tokens are signed
// with different keys so one can never be replayed as the other.
type JWTConfig struct {
	AccessPrivateKeyPath  string        `koanf:"access_private_key_path"  validate:"required"`
	RefreshPrivateKeyPath string        `koanf:"refresh_private_key_path" validate:"required,nefield=AccessPrivateKeyPath"`
	AccessTokenExpire     time.Duration `koanf:"access_token_expire"      validate:"gt=0"`
	RefreshTokenExpire    time.Duration `koanf:"refresh_token_expire"     validate:"gtfield=AccessTokenExpire"`
	RenewThreshold        time.Duration `koanf:"renew_threshold"          validate:"gte=0,ltfield=AccessTokenExpire"`
	ReuseGracePeriod      time.Duration `koanf:"reuse_grace_period"       validate:"gte=0"`
	Issuer                string        `koanf:"issuer"                   validate:"required"`
	Audience              string        `koanf:"audience"                 validate:"required"`
}

// CookieConfig describes the refresh token cookie. Secure and SameSite are
// derived from app.environment.
type CookieConfig struct {
	Name   string `koanf:"name"   validate:"required"`
	Path   string `koanf:"path"`
	Domain string `koanf:"domain"`
}

// RateLimitConfig holds the general API limit and the stricter limit
// applied to the credential and refresh endpoints.
type RateLimitConfig struct {
	Requests     int           `koanf:"requests"      validate:"min=1"`
	Window       time.Duration `koanf:"window"        validate:"gt=0"`
	Burst        int           `koanf:"burst"         validate:"min=1"`
	AuthRequests int           `koanf:"auth_requests" validate:"min=1"`
	AuthWindow   time.Duration `koanf:"auth_window"   validate:"gt=0"`
	AuthBurst    int           `koanf:"auth_burst"    validate:"min=1"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	ExposedHeaders   []string `koanf:"exposed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"  validate:"gte=0,lte=1"`
}

//go:embed defaults.yaml
var defaultsYAML []byte

// Load reads the configuration once at startup. An empty path skips the
// file layer.
func Load(configPath string) (*Config, error) {
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(embedded(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// embedded serves an in-binary document to koanf.
type embedded []byte

func (b embedded) ReadBytes() ([]byte, error) { return b, nil }

func (b embedded) Read() (map[string]any, error) {
	return nil, errors.New("embedded provider does not support Read")
}

// envVars lists the environment variables read at startup, grouped by the
// section they override.
var envVars = map[string]map[string]string{
	"app":      {"ENVIRONMENT": "environment"},
	"server":   {"HOST": "host", "PORT": "port"},
	"log":      {"LOG_LEVEL": "level", "LOG_FORMAT": "format"},
	"database": {"DATABASE_URL": "url", "DATABASE_AUTO_MIGRATE": "auto_migrate"},
	"redis":    {"REDIS_URL": "url"},
	"jwt": {
		"JWT_ACCESS_PRIVATE_KEY_PATH": "access_private_key_path",
		"JWT_REFRESH_KEY_PATH":        "refresh_private_key_path",
		"JWT_ACCESS_TOKEN_EXPIRE":     "access_token_expire",
		"JWT_REFRESH_TOKEN_EXPIRE":    "refresh_token_expire",
		"JWT_RENEW_THRESHOLD":         "renew_threshold",
		"JWT_REUSE_GRACE_PERIOD":      "reuse_grace_period",
		"JWT_ISSUER":                  "issuer",
		"JWT_AUDIENCE":                "audience",
	},
	"cookie": {"COOKIE_NAME": "name", "COOKIE_DOMAIN": "domain"},
	"rate_limit": {
		"RATE_LIMIT_REQUESTS":      "requests",
		"RATE_LIMIT_WINDOW":        "window",
		"RATE_LIMIT_BURST":         "burst",
		"RATE_LIMIT_AUTH_REQUESTS": "auth_requests",
	},
	"otel": {
		"OTEL_ENDPOINT":               "endpoint",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "endpoint",
		"OTEL_SERVICE_NAME":           "service_name",
		"OTEL_ENABLED":                "enabled",
		"OTEL_INSECURE":               "insecure",
		"OTEL_SAMPLE_RATE":            "sample_rate",
	},
}

// envKey maps a known variable to its koanf path. Anything else returns ""
// and is ignored.
func envKey(name string) string {
	for section, vars := range envVars {
		if key, ok := vars[name]; ok {
			return section + "." + key
		}
	}
	return ""
}

func (c *Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
	})

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.CORS.AllowCredentials && slices.Contains(c.CORS.AllowedOrigins, "*") {
		return errors.New("cors: wildcard origin cannot be combined with credentials")
	}

	if c.IsProduction() && c.Otel.Enabled && c.Otel.Insecure {
		return errors.New("otel: insecure exporter is not allowed in production")
	}

	return nil
}

// fieldError renders a validation failure with the dotted koanf path, the
// same key an operator would set in a file.
func fieldError(fe validator.FieldError) error {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", path)
	case "nefield":
		return fmt.Errorf("%s must differ from %s", path, fe.Param())
	case "ltfield":
		return fmt.Errorf("%s must be less than %s", path, fe.Param())
	case "gtfield":
		return fmt.Errorf("%s must be greater than %s", path, fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s fails %s=%s (got %v)", path, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s fails %s", path, fe.Tag())
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
