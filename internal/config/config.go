package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the server configuration, read from the environment.
type Config struct {
	ListenAddr string
	DBPath     string
	ImagePath  string
	LogLevel   string
	LogFile    string

	// EncryptionBackend is "mock" or "kms".
	EncryptionBackend string
	KMSKeyID          string
	EncryptionLayers  int

	// SecretBackend is "env" or "ssm". JWTSecretParam names the secret in
	// either backend.
	SecretBackend  string
	JWTSecretParam string

	// RedisAddr enables the Redis event hub when set.
	RedisAddr   string
	RedisPrefix string

	NotifyInterval time.Duration
	TestMode       bool
}

func Load() *Config {
	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		DBPath:            getEnv("DB_PATH", "/data/timelock.db"),
		ImagePath:         getEnv("IMAGE_PATH", "/data/images"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		EncryptionBackend: getEnv("ENCRYPTION_BACKEND", "mock"),
		KMSKeyID:          getEnv("KMS_KEY_ID", ""),
		EncryptionLayers:  getEnvInt("ENCRYPTION_LAYERS", 1),
		SecretBackend:     getEnv("SECRET_BACKEND", "env"),
		JWTSecretParam:    getEnv("JWT_SECRET_PARAM", "/timelock/jwt-secret"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPrefix:       getEnv("REDIS_PREFIX", "timelock"),
		NotifyInterval:    getEnvDuration("NOTIFY_INTERVAL", 5*time.Second),
		TestMode:          os.Getenv("TIMELOCK_TEST_MODE") == "1",
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
