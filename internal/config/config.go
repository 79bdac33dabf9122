package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	ObjectStore   ObjectStoreConfig
	AI            AIConfig
	Stream        StreamConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatasetConfig selects the analytical database questions run against.
// Driver is one of duckdb, sqlite or postgres.
type DatasetConfig struct {
	Driver          string
	DSN             string
	Directory       string
	ObjectKeys      string
	RowLimit        int
	SchemaSamples   int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	SchemaFile  string
	LiveSchema  bool
}

type StreamConfig struct {
	PacingScale     float64
	WSWriteTimeout  time.Duration
	WSMaxMessageLen int64
	AllowedOrigins  string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKMESH_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKMESH_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "ASKMESH_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "ASKMESH_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "ASKMESH_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKMESH_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKMESH_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "ASKMESH_DATASET_DRIVER", &cfg.Dataset.Driver) },
		func() error { return applyString(lookup, "ASKMESH_DATASET_DSN", &cfg.Dataset.DSN) },
		func() error { return applyString(lookup, "ASKMESH_DATASET_DIR", &cfg.Dataset.Directory) },
		func() error { return applyString(lookup, "ASKMESH_DATASET_OBJECT_KEYS", &cfg.Dataset.ObjectKeys) },
		func() error { return applyInt(lookup, "ASKMESH_DATASET_ROW_LIMIT", &cfg.Dataset.RowLimit) },
		func() error { return applyInt(lookup, "ASKMESH_DATASET_SCHEMA_SAMPLES", &cfg.Dataset.SchemaSamples) },
		func() error { return applyInt(lookup, "ASKMESH_DATASET_MAX_OPEN_CONNS", &cfg.Dataset.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKMESH_DATASET_MAX_IDLE_CONNS", &cfg.Dataset.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "ASKMESH_DATASET_CONN_MAX_IDLE_TIME", &cfg.Dataset.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "ASKMESH_DATASET_CONN_MAX_LIFETIME", &cfg.Dataset.ConnMaxLifetime)
		},
		func() error { return applyBool(lookup, "ASKMESH_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "ASKMESH_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "ASKMESH_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "ASKMESH_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "ASKMESH_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "ASKMESH_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "ASKMESH_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "ASKMESH_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyString(lookup, "ASKMESH_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "ASKMESH_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "ASKMESH_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "ASKMESH_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "ASKMESH_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "ASKMESH_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyString(lookup, "ASKMESH_AI_SCHEMA_FILE", &cfg.AI.SchemaFile) },
		func() error { return applyBool(lookup, "ASKMESH_AI_LIVE_SCHEMA", &cfg.AI.LiveSchema) },
		func() error { return applyFloat(lookup, "ASKMESH_STREAM_PACING_SCALE", &cfg.Stream.PacingScale) },
		func() error { return applyDuration(lookup, "ASKMESH_STREAM_WS_WRITE_TIMEOUT", &cfg.Stream.WSWriteTimeout) },
		func() error { return applyInt64(lookup, "ASKMESH_STREAM_WS_MAX_MESSAGE_BYTES", &cfg.Stream.WSMaxMessageLen) },
		func() error { return applyString(lookup, "ASKMESH_STREAM_ALLOWED_ORIGINS", &cfg.Stream.AllowedOrigins) },
		func() error { return applyBool(lookup, "ASKMESH_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKMESH_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "ASKMESH_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "ASKMESH_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.Dataset.Driver = strings.ToLower(cfg.Dataset.Driver)
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModels[cfg.AI.Provider]
	}
	if cfg.AI.BaseURL == "" && cfg.AI.Provider == "openai" {
		cfg.AI.BaseURL = "https://api.openai.com"
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if !isValidDriver(cfg.Dataset.Driver) {
		return Config{}, fmt.Errorf("invalid ASKMESH_DATASET_DRIVER: %q", cfg.Dataset.Driver)
	}
	if !isValidProvider(cfg.AI.Provider) {
		return Config{}, fmt.Errorf("invalid ASKMESH_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.Stream.PacingScale < 0 {
		return Config{}, fmt.Errorf("invalid ASKMESH_STREAM_PACING_SCALE: must be >= 0")
	}
	if cfg.ObjectStore.Enabled && cfg.ObjectStore.Bucket == "" {
		return Config{}, fmt.Errorf("object store bucket is required when the object store is enabled")
	}
	return cfg, nil
}

var defaultModels = map[string]string{
	"openai":    "gpt-5",
	"gemini":    "gemini-2.0-flash",
	"anthropic": "claude-sonnet-4-5",
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askmesh-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		Dataset: DatasetConfig{
			Driver:          "duckdb",
			DSN:             "data.duckdb",
			Directory:       "",
			RowLimit:        1000,
			SchemaSamples:   3,
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "askmesh",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
		},
		AI: AIConfig{
			Provider:    "openai",
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Stream: StreamConfig{
			PacingScale:     1,
			WSWriteTimeout:  10 * time.Second,
			WSMaxMessageLen: 64 * 1024,
			AllowedOrigins:  "*",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Stream.PacingScale = 0
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.Stream.AllowedOrigins = ""
	}

	return cfg
}

// Origins returns the parsed comma separated origin allow list.
// A single "*" allows every origin.
func (c StreamConfig) Origins() []string {
	var origins []string
	for _, part := range strings.Split(c.AllowedOrigins, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			origins = append(origins, part)
		}
	}
	return origins
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func isValidDriver(driver string) bool {
	switch driver {
	case "duckdb", "sqlite", "postgres":
		return true
	default:
		return false
	}
}

func isValidProvider(provider string) bool {
	switch provider {
	case "openai", "gemini", "anthropic", "none":
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
