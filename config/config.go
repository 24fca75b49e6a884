package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	RoomURLTemplate string
	LogLevel        string
}

// Load reads configuration from .env (when present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := Config{
		Port:            getenv("PORT", "4011"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       getenv("JWT_ISSUER", "ClassIn"),
		JWTAudience:     getenv("JWT_AUDIENCE", "ClassInClient"),
		RoomURLTemplate: getenv("VIDEO_ROOM_URL_TEMPLATE", "https://talky.io/classroom-{classId}"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
