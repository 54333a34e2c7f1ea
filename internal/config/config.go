package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort   string `validate:"required"`
	ServiceName   string `validate:"required"`
	PublicBaseURL string `validate:"required"`
	DataDir       string `validate:"required"`
	ImagesDir     string `validate:"required"`
	MaxUploadMB   int    `validate:"required|min:1"`
	RecentLimit   int    `validate:"required|min:1"`
	CORSOrigins   []string

	// Backend selection
	BlobBackend     string `validate:"required|in:disk,minio,s3"`
	PersistBackend  string `validate:"required|in:file,mysql"`
	PersistCompress bool
	CacheBackend    string `validate:"required|in:memory,redis,none"`
	CacheSizeMB     int
	CacheTTL        time.Duration

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// S3 configuration
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// TiDB configuration
	TiDBHost     string
	TiDBPort     string
	TiDBUser     string
	TiDBPassword string
	TiDBDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	TracingEnabled bool
	JaegerEndpoint string

	MetricsEnabled bool

	LogLevel  string `validate:"required|in:trace,debug,info,warn,error"`
	LogFormat string `validate:"required|in:console,json"`

	// Broadcast hub
	HubQueueSize    int `validate:"required|min:1"`
	HubPingInterval time.Duration
}

var defaults = map[string]any{
	"service_port":    "3001",
	"service_name":    "smilewall",
	"public_base_url": "http://localhost:3001",
	"data_dir":        "./data",
	"images_dir":      "./public/images",
	"max_upload_mb":   20,
	"recent_limit":    20,
	"cors_origins":    "*",

	"blob_backend":     "disk",
	"persist_backend":  "file",
	"persist_compress": false,
	"cache_backend":    "memory",
	"cache_size_mb":    16,
	"cache_ttl":        "30s",

	"minio_endpoint":    "localhost:9000",
	"minio_access_key":  "minioadmin",
	"minio_secret_key":  "minioadmin",
	"minio_bucket_name": "smilewall",
	"minio_use_ssl":     false,

	"s3_bucket":         "smilewall",
	"s3_region":         "us-east-1",
	"s3_endpoint":       "",
	"s3_access_key":     "",
	"s3_secret_key":     "",
	"s3_use_path_style": false,

	"tidb_host":     "localhost",
	"tidb_port":     "4000",
	"tidb_user":     "root",
	"tidb_password": "",
	"tidb_database": "smilewall",

	"redis_host":     "localhost",
	"redis_port":     "6379",
	"redis_password": "",
	"redis_db":       0,

	"tracing_enabled": false,
	"jaeger_endpoint": "localhost:4318",

	"metrics_enabled": true,

	"log_level":  "info",
	"log_format": "console",

	"hub_queue_size":    64,
	"hub_ping_interval": "25s",
}

// LoadConfig loads configuration from an optional file (CONFIG_FILE) and
// environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	config := &Config{
		ServicePort:   v.GetString("service_port"),
		ServiceName:   v.GetString("service_name"),
		PublicBaseURL: strings.TrimRight(v.GetString("public_base_url"), "/"),
		DataDir:       v.GetString("data_dir"),
		ImagesDir:     v.GetString("images_dir"),
		MaxUploadMB:   v.GetInt("max_upload_mb"),
		RecentLimit:   v.GetInt("recent_limit"),
		CORSOrigins:   splitList(v.GetString("cors_origins")),

		BlobBackend:     strings.ToLower(v.GetString("blob_backend")),
		PersistBackend:  strings.ToLower(v.GetString("persist_backend")),
		PersistCompress: v.GetBool("persist_compress"),
		CacheBackend:    strings.ToLower(v.GetString("cache_backend")),
		CacheSizeMB:     v.GetInt("cache_size_mb"),
		CacheTTL:        v.GetDuration("cache_ttl"),

		MinIOEndpoint:   v.GetString("minio_endpoint"),
		MinIOAccessKey:  v.GetString("minio_access_key"),
		MinIOSecretKey:  v.GetString("minio_secret_key"),
		MinIOBucketName: v.GetString("minio_bucket_name"),
		MinIOUseSSL:     v.GetBool("minio_use_ssl"),

		S3Bucket:       v.GetString("s3_bucket"),
		S3Region:       v.GetString("s3_region"),
		S3Endpoint:     v.GetString("s3_endpoint"),
		S3AccessKey:    v.GetString("s3_access_key"),
		S3SecretKey:    v.GetString("s3_secret_key"),
		S3UsePathStyle: v.GetBool("s3_use_path_style"),

		TiDBHost:     v.GetString("tidb_host"),
		TiDBPort:     v.GetString("tidb_port"),
		TiDBUser:     v.GetString("tidb_user"),
		TiDBPassword: v.GetString("tidb_password"),
		TiDBDatabase: v.GetString("tidb_database"),

		RedisHost:     v.GetString("redis_host"),
		RedisPort:     v.GetString("redis_port"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		TracingEnabled: v.GetBool("tracing_enabled"),
		JaegerEndpoint: v.GetString("jaeger_endpoint"),

		MetricsEnabled: v.GetBool("metrics_enabled"),

		LogLevel:  strings.ToLower(v.GetString("log_level")),
		LogFormat: strings.ToLower(v.GetString("log_format")),

		HubQueueSize:    v.GetInt("hub_queue_size"),
		HubPingInterval: v.GetDuration("hub_ping_interval"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the struct tags and cross-field requirements
func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %s", v.Errors.One())
	}
	if c.CacheBackend == "memory" && c.CacheSizeMB <= 0 {
		return fmt.Errorf("invalid config: CACHE_SIZE_MB must be positive for the memory cache")
	}
	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("invalid config: S3_BUCKET is required for the s3 blob backend")
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the upload size limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// GetCacheSizeBytes returns the in-process cache size in bytes
func (c *Config) GetCacheSizeBytes() int {
	return c.CacheSizeMB * 1024 * 1024
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
