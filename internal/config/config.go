package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultDatabases are the logical database names opened at startup.
var DefaultDatabases = []string{"default", "analytics"}

type Config struct {
	App        AppConfig         `koanf:"app"`
	Log        LogConfig         `koanf:"log"`
	Server     ServerConfig      `koanf:"server"`
	Middleware MiddlewareConfig  `koanf:"middleware"`
	MCP        MCPConfig         `koanf:"mcp"`
	Databases  map[string]string `koanf:"databases"`
	Database   DatabaseConfig    `koanf:"database"`
	Redis      RedisConfig       `koanf:"redis"`
	Admin      AdminConfig       `koanf:"admin"`
	Telemetry  TelemetryConfig   `koanf:"telemetry"`
	Health     HealthConfig      `koanf:"health"`
	HTTPClient HTTPClientConfig  `koanf:"http_client"`
}

type AppConfig struct {
	Name      string `koanf:"name"`
	Version   string `koanf:"version"`
	Env       string `koanf:"env"`
	Debug     bool   `koanf:"debug"`
	SecretKey string `koanf:"secret_key"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
	File   string `koanf:"file"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MiddlewareConfig toggles and tunes every pipeline unit.
type MiddlewareConfig struct {
	CORSEnabled     bool     `koanf:"cors_enabled"`
	CORSOrigins     []string `koanf:"cors_origins"`
	CORSCredentials bool     `koanf:"cors_credentials"`
	CORSMethods     []string `koanf:"cors_methods"`
	CORSHeaders     []string `koanf:"cors_headers"`
	CORSMaxAge      int      `koanf:"cors_max_age"`

	SecurityHeadersEnabled bool `koanf:"security_headers_enabled"`
	SecurityHSTSEnabled    bool `koanf:"security_hsts_enabled"`
	SecurityHSTSMaxAge     int  `koanf:"security_hsts_max_age"`

	RequestIDEnabled      bool `koanf:"request_id_enabled"`
	ProcessTimeEnabled    bool `koanf:"process_time_enabled"`
	RequestLoggingEnabled bool `koanf:"request_logging_enabled"`

	AuditLogEnabled      bool     `koanf:"audit_log_enabled"`
	AuditLogMethods      []string `koanf:"audit_log_methods"`
	AuditLogExcludePaths []string `koanf:"audit_log_exclude_paths"`
	AuditLogMaxBodySize  int      `koanf:"audit_log_max_body_size"`
	AuditLogStore        bool     `koanf:"audit_log_store"`

	RateLimitEnabled    bool     `koanf:"rate_limit_enabled"`
	RateLimitPerMinute  int      `koanf:"rate_limit_per_minute"`
	RateLimitPerHour    int      `koanf:"rate_limit_per_hour"`
	RateLimitBackend    string   `koanf:"rate_limit_backend"` // memory, redis
	RateLimitSkipPaths  []string `koanf:"rate_limit_skip_paths"`
	RateLimitTrustProxy bool     `koanf:"rate_limit_trust_proxy"`

	GZipEnabled     bool `koanf:"gzip_enabled"`
	GZipMinimumSize int  `koanf:"gzip_minimum_size"`

	TrustedHostEnabled bool     `koanf:"trusted_host_enabled"`
	TrustedHosts       []string `koanf:"trusted_hosts"`

	AuthEnabled      bool     `koanf:"auth_enabled"`
	AuthTokens       []string `koanf:"auth_tokens"`
	AuthExcludePaths []string `koanf:"auth_exclude_paths"`

	Timeout time.Duration `koanf:"timeout"`
}

type MCPConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Endpoint        string `koanf:"endpoint"`
	ServerName      string `koanf:"server_name"`
	ServerVersion   string `koanf:"server_version"`
	ProtocolVersion string `koanf:"protocol_version"`
	SSERetry        int    `koanf:"sse_retry"`         // milliseconds
	SSEPingInterval int    `koanf:"sse_ping_interval"` // seconds
	RequireAuth     bool   `koanf:"require_auth"`
	APIKey          string `koanf:"api_key"`
	EnableTools     bool   `koanf:"enable_tools"`
	EnableResources bool   `koanf:"enable_resources"`
	EnablePrompts   bool   `koanf:"enable_prompts"`
}

// DatabaseConfig holds pool settings shared by every named database.
type DatabaseConfig struct {
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Mode         string        `koanf:"mode"` // standalone, cluster
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	ClusterNodes []string      `koanf:"cluster_nodes"`
	KeyPrefix    string        `koanf:"key_prefix"`
	DefaultTTL   time.Duration `koanf:"default_ttl"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// Addr returns host:port for standalone mode.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AdminConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Path          string `koanf:"path"`
	Title         string `koanf:"title"`
	Username      string `koanf:"username"`
	Password      string `koanf:"password"`
	SessionSecret string `koanf:"session_secret"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type HealthConfig struct {
	CheckURLs []string `koanf:"check_urls"`
}

type HTTPClientConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	MaxRetries    int           `koanf:"max_retries"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	RateLimit     float64       `koanf:"rate_limit"` // requests per second, 0 disables
	RateBurst     int           `koanf:"rate_burst"`
}

// DatabaseURL returns the connection URL for a logical database name,
// falling back to a SQLite file named after it.
func (c *Config) DatabaseURL(name string) string {
	if u, ok := c.Databases[strings.ToLower(name)]; ok && u != "" {
		return u
	}
	return fmt.Sprintf("sqlite:///%s.db", name)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// envSection maps an environment prefix onto a config section.
type envSection struct {
	prefix  string
	section string
}

var envSections = []envSection{
	{"APP_", "app"},
	{"LOG_", "log"},
	{"API_", "server"},
	{"MIDDLEWARE_", "middleware"},
	{"MCP_", "mcp"},
	{"DATABASE_URL_", "databases"},
	{"DB_", "database"},
	{"REDIS_", "redis"},
	{"ADMIN_", "admin"},
	{"TELEMETRY_", "telemetry"},
	{"HEALTH_", "health"},
	{"HTTP_CLIENT_", "http_client"},
}

// singletons are bare environment variables without a section prefix.
var singletons = map[string]string{
	"DEBUG":          "app.debug",
	"SECRET_KEY":     "app.secret_key",
	"SESSION_SECRET": "admin.session_secret",
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"middleware.cors_origins":            true,
	"middleware.cors_methods":            true,
	"middleware.cors_headers":            true,
	"middleware.audit_log_methods":       true,
	"middleware.audit_log_exclude_paths": true,
	"middleware.rate_limit_skip_paths":   true,
	"middleware.trusted_hosts":           true,
	"middleware.auth_tokens":             true,
	"middleware.auth_exclude_paths":      true,
	"redis.cluster_nodes":                true,
	"health.check_urls":                  true,
}

var defaults = map[string]any{
	"app.name":    "FastAPI Application",
	"app.version": "0.1.0",
	"app.env":     "development",
	"app.debug":   false,

	"log.level":  "info",
	"log.format": "json",

	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.read_timeout":     "30s",
	"server.idle_timeout":     "120s",
	"server.shutdown_timeout": "30s",

	"middleware.cors_enabled":     true,
	"middleware.cors_origins":     []string{"http://localhost:3000", "http://localhost:8000", "http://127.0.0.1:8000"},
	"middleware.cors_credentials": true,
	"middleware.cors_methods":     []string{"*"},
	"middleware.cors_headers":     []string{"*"},
	"middleware.cors_max_age":     600,

	"middleware.security_headers_enabled": true,
	"middleware.security_hsts_enabled":    false,
	"middleware.security_hsts_max_age":    31536000,

	"middleware.request_id_enabled":      true,
	"middleware.process_time_enabled":    true,
	"middleware.request_logging_enabled": true,

	"middleware.audit_log_enabled":       true,
	"middleware.audit_log_methods":       []string{"POST", "PUT", "DELETE", "PATCH"},
	"middleware.audit_log_exclude_paths": []string{"/health", "/docs", "/redoc", "/openapi.json"},
	"middleware.audit_log_max_body_size": 1024 * 1024,
	"middleware.audit_log_store":         false,

	"middleware.rate_limit_enabled":     false,
	"middleware.rate_limit_per_minute":  60,
	"middleware.rate_limit_per_hour":    1000,
	"middleware.rate_limit_backend":     "memory",
	"middleware.rate_limit_skip_paths":  []string{"/health"},
	"middleware.rate_limit_trust_proxy": false,

	"middleware.gzip_enabled":      true,
	"middleware.gzip_minimum_size": 1000,

	"middleware.trusted_host_enabled": false,
	"middleware.trusted_hosts":        []string{"localhost", "127.0.0.1"},

	"middleware.auth_enabled":       false,
	"middleware.auth_exclude_paths": []string{"/", "/health", "/docs", "/redoc", "/openapi.json", "/openapi.yaml"},

	"middleware.timeout": "30s",

	"mcp.enabled":           true,
	"mcp.endpoint":          "/mcp/sse",
	"mcp.server_name":       "FastAPI MCP Server",
	"mcp.server_version":    "0.1.0",
	"mcp.protocol_version":  "2024-11-05",
	"mcp.sse_retry":         15000,
	"mcp.sse_ping_interval": 30,
	"mcp.require_auth":      false,
	"mcp.enable_tools":      true,
	"mcp.enable_resources":  true,
	"mcp.enable_prompts":    true,

	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": "1h",
	"database.auto_migrate":      true,

	"redis.enabled":      false,
	"redis.mode":         "standalone",
	"redis.host":         "localhost",
	"redis.port":         6379,
	"redis.db":           0,
	"redis.key_prefix":   "app",
	"redis.default_ttl":  "1h",
	"redis.dial_timeout": "2s",
	"redis.pool_size":    10,

	"admin.enabled":        true,
	"admin.path":           "/admin",
	"admin.title":          "Admin Dashboard",
	"admin.username":       "admin",
	"admin.password":       "123456",
	"admin.session_secret": "change-me-in-production",

	"telemetry.enabled":      false,
	"telemetry.service_name": "service-template",

	"http_client.timeout":        "30s",
	"http_client.max_retries":    3,
	"http_client.backoff_factor": 0.5,
	"http_client.rate_limit":     0,
	"http_client.rate_burst":     1,
}

// Load reads configuration from CONFIG_FILE (default config.yaml, optional)
// and the environment.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads configuration from the YAML file at path (a missing file is
// not an error) and the environment. Environment values override the file.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	for _, s := range envSections {
		section := s.section
		prefix := s.prefix
		if err := k.Load(env.ProviderWithValue(prefix, ".", func(key, value string) (string, any) {
			k := section + "." + strings.ToLower(strings.TrimPrefix(key, prefix))
			return k, envValue(k, value)
		}), nil); err != nil {
			return nil, fmt.Errorf("load %s environment: %w", prefix, err)
		}
	}

	for name, key := range singletons {
		if v, ok := os.LookupEnv(name); ok {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("set %s: %w", key, err)
			}
		}
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

func envValue(key, value string) any {
	if !listKeys[key] {
		return value
	}
	return splitList(value)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) normalize() {
	if c.Databases == nil {
		c.Databases = make(map[string]string)
	}
	for name, u := range c.Databases {
		c.Databases[name] = substituteEnvVars(u)
	}
	for _, name := range DefaultDatabases {
		if _, ok := c.Databases[name]; !ok {
			c.Databases[name] = c.DatabaseURL(name)
		}
	}
	c.Redis.Password = substituteEnvVars(c.Redis.Password)
	c.MCP.APIKey = substituteEnvVars(c.MCP.APIKey)
	for i, tok := range c.Middleware.AuthTokens {
		c.Middleware.AuthTokens[i] = substituteEnvVars(tok)
	}
	for i, m := range c.Middleware.AuditLogMethods {
		c.Middleware.AuditLogMethods[i] = strings.ToUpper(m)
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
