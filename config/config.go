package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Store backend: "sqlite" (default) or "mongo".
	StoreBackend string
	MongoURL     string
	MongoDB      string
	DBPath       string

	JWTSecret string
	UploadDir string
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present. In production it panics on missing
// required variables.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		MongoURL:     getEnv("MONGO_URL", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "chat"),
		DBPath:       getEnv("DB_PATH", "chat.db"),
		JWTSecret:    getEnv("JWT_SECRET", "chat-secret-key-change-in-production"),
		UploadDir:    getEnv("UPLOAD_DIR", "./uploads"),
	}

	if cfg.Env == "production" && os.Getenv("JWT_SECRET") == "" {
		panic("JWT_SECRET is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
