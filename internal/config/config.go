package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the client and the devserver.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Client    ClientConfig
	DevServer DevServerConfig
}

type ClientConfig struct {
	BrokerURL   string
	APIBaseURL  string
	TokenFile   string
	PrefsFile   string
	Environment string
}

type DevServerConfig struct {
	Port        string
	JWTSecret   string
	DatabaseURL string
	Redis       RedisConfig
	S3          S3Config
	ReadLatest  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Bucket string
	Region string
}

// LoadConfig loads configuration from environment variables.
// Defaults can be set here if needed.
func LoadConfig() (*Config, error) {
	return &Config{
		Client: ClientConfig{
			BrokerURL:   getEnv("CHAT_WS_URL", "ws://localhost:8080/stomp/chats"),
			APIBaseURL:  getEnv("CHAT_API_URL", "http://localhost:8080/api"),
			TokenFile:   getEnv("CHAT_TOKEN_FILE", defaultStatePath("token.json")),
			PrefsFile:   getEnv("CHAT_PREFS_FILE", defaultStatePath("prefs.json")),
			Environment: getEnv("APP_ENV", "development"),
		},
		DevServer: DevServerConfig{
			Port:        getEnv("PORT", "8080"),
			JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			Redis: RedisConfig{
				Addr:     getEnv("REDIS_ADDR", ""),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
			S3: S3Config{
				Bucket: getEnv("S3_BUCKET", ""),
				Region: getEnv("AWS_REGION", "us-east-1"),
			},
			ReadLatest: getEnvAsBool("READ_LATEST_ENABLED", true),
		},
	}, nil
}

func defaultStatePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return dir + "/cafechat/" + name
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
