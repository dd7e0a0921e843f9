package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"node-secret":                          true,
	"":                                     true,
}

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverBBolt    = "bbolt"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Store          StoreConfig
	JWT            JWTConfig
	Node           NodeConfig
	Telegram       TelegramConfig
	Schedule       ScheduleConfig
	CatalogFile    string
	LogFile        string
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MinConns int32
	MaxConns int32
}

type StoreConfig struct {
	Driver    string
	BoltPath  string
	Migrate   bool
	Retention time.Duration // stale purchase requests older than this are reaped
}

type JWTConfig struct {
	SecretKey string
}

// NodeConfig describes how the control plane reaches node agents
type NodeConfig struct {
	APIPort      int
	SharedSecret string
	Timeout      time.Duration
}

type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
	HelpURL     string
}

// ScheduleConfig holds cron expressions for the periodic jobs
type ScheduleConfig struct {
	GrantSweep   string
	RequestReap  string
	DisableCrons bool
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Store: StoreConfig{
			Driver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
			BoltPath:  getEnv("BOLT_PATH", "./data/access.db"),
			Migrate:   getEnvBool("DB_MIGRATE", true),
			Retention: getEnvDuration("REQUEST_RETENTION", 7*24*time.Hour),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Node: NodeConfig{
			APIPort:      getEnvInt("NODE_API_PORT", 4443),
			SharedSecret: getEnv("NODE_SHARED_SECRET", ""),
			Timeout:      getEnvDuration("NODE_TIMEOUT", 30*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("BOT_TOKEN", ""),
			AdminChatID: getEnvInt64("ADMIN_CHAT_ID", 0),
			HelpURL:     getEnv("HELP_URL", "https://github.com/MatsuriDayo/nekoray/releases"),
		},
		Schedule: ScheduleConfig{
			GrantSweep:   getEnv("SWEEP_SCHEDULE", "0 0 * * *"),
			RequestReap:  getEnv("REAP_SCHEDULE", "0 0 * * 0"),
			DisableCrons: getEnvBool("DISABLE_CRONS", false),
		},
		CatalogFile:    getEnv("CATALOG_FILE", ""),
		LogFile:        getEnv("LOG_FILE", ""),
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] Access Service loaded: port=%s store=%s db=%s/%s node_port=%d",
		cfg.Server.Port, cfg.Store.Driver, cfg.Database.Host, cfg.Database.DBName, cfg.Node.APIPort)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	if insecureDefaults[c.Node.SharedSecret] {
		return fmt.Errorf("NODE_SHARED_SECRET must be set to a secure value (current value is insecure or empty)")
	}

	if c.Telegram.BotToken == "" || c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("BOT_TOKEN and ADMIN_CHAT_ID must be set")
	}

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverBBolt:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverBBolt, c.Store.Driver)
	}

	if c.Database.MinConns < 1 || c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("invalid pool bounds: min=%d max=%d", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Node.Timeout <= 0 {
		return fmt.Errorf("NODE_TIMEOUT must be positive")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
