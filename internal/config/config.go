package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 DAVCORE_SERVER_PORT
const EnvPrefix = "DAVCORE"

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	DAV        DAVConfig        `mapstructure:"dav"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Locks      LocksConfig      `mapstructure:"locks"`
	Properties PropertiesConfig `mapstructure:"properties"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         bool          `mapstructure:"cors"`
}

// Address 监听地址
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DAVConfig WebDAV 服务配置
type DAVConfig struct {
	BaseURI  string `mapstructure:"base_uri"`
	MaxDepth int    `mapstructure:"max_depth"`
	Debug    bool   `mapstructure:"debug"`
	Realm    string `mapstructure:"realm"`
	// DataPath 文件锁和属性 sidecar 的目录
	DataPath  string `mapstructure:"data_path"`
	CacheSize int    `mapstructure:"cache_size"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Quota   int64       `mapstructure:"quota"`
	FS      FSConfig    `mapstructure:"fs"`
	MinIO   MinIOConfig `mapstructure:"minio"`
}

// FSConfig 本地目录存储
type FSConfig struct {
	Root string `mapstructure:"root"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	// Prefix 所有对象键的前缀
	Prefix string `mapstructure:"prefix"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	URL      string `mapstructure:"url"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN 获取数据库连接字符串，url 优先
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		return buildPostgresDSN(d)
	case "sqlite3":
		return d.Path
	default:
		return ""
	}
}

// buildPostgresDSN 构建PostgreSQL DSN
func buildPostgresDSN(d DatabaseConfig) string {
	dsn := "host=" + d.Host
	dsn += " port=" + strconv.Itoa(d.Port)
	dsn += " user=" + d.Username
	dsn += " password=" + d.Password
	dsn += " dbname=" + d.Name
	dsn += " sslmode=" + d.SSLMode
	return dsn
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Prefix   string        `mapstructure:"prefix"`
}

// Address Redis 地址
func (r RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// LocksConfig 锁配置，超时单位为秒
type LocksConfig struct {
	Backend        string `mapstructure:"backend"`
	DefaultTimeout int64  `mapstructure:"default_timeout"`
	MaxTimeout     int64  `mapstructure:"max_timeout"`
}

// PropertiesConfig 死属性存储配置
type PropertiesConfig struct {
	Backend      string `mapstructure:"backend"`
	MaxValueSize int    `mapstructure:"max_value_size"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Basic     bool          `mapstructure:"basic"`
	Bearer    bool          `mapstructure:"bearer"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.cors", true)

	v.SetDefault("dav.base_uri", "/dav/")
	v.SetDefault("dav.max_depth", 16)
	v.SetDefault("dav.debug", false)
	v.SetDefault("dav.realm", "davcore")
	v.SetDefault("dav.data_path", "./data")
	v.SetDefault("dav.cache_size", 1024)

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.quota", 0)
	v.SetDefault("storage.fs.root", "./data/files")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "davcore")
	v.SetDefault("storage.minio.prefix", "")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "./data/davcore.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "davcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "davcore")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("redis.prefix", "davcore:locks:")

	v.SetDefault("locks.backend", "memory")
	v.SetDefault("locks.default_timeout", 1800)
	v.SetDefault("locks.max_timeout", 86400)

	v.SetDefault("properties.backend", "sql")
	v.SetDefault("properties.max_value_size", 64*1024)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.basic", true)
	v.SetDefault("auth.bearer", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load 加载配置：.env、配置文件，最后是 DAVCORE_ 环境变量
func Load() (*Config, error) {
	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/davcore")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置组合是否可用
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "fs", "minio":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "minio" && c.Storage.MinIO.Bucket == "" {
		return errors.New("storage.minio.bucket is required")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN() == "" {
		return errors.New("database dsn is empty")
	}

	switch c.Locks.Backend {
	case "memory", "file", "sql", "redis":
	default:
		return fmt.Errorf("unknown locks backend %q", c.Locks.Backend)
	}
	if c.Locks.DefaultTimeout <= 0 || c.Locks.MaxTimeout < c.Locks.DefaultTimeout {
		return fmt.Errorf("invalid lock timeouts: default %d, max %d", c.Locks.DefaultTimeout, c.Locks.MaxTimeout)
	}

	switch c.Properties.Backend {
	case "file", "sql":
	default:
		return fmt.Errorf("unknown properties backend %q", c.Properties.Backend)
	}

	if c.Auth.Enabled {
		if !c.Auth.Basic && !c.Auth.Bearer {
			return errors.New("auth is enabled but no auth backend is configured")
		}
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required when auth is enabled")
		}
	}
	if c.DAV.MaxDepth < 0 {
		return fmt.Errorf("invalid dav.max_depth %d", c.DAV.MaxDepth)
	}
	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "debug":
		return gin.DebugMode
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
