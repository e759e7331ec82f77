// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort int

	// Database. Driver is "sqlite3" or "postgres".
	DBDriver   string
	DBPath     string // sqlite file, when DBDriver is sqlite3
	DBHost     string
	DBPort     int
	DBName     string
	DBUsername string
	DBPassword string

	// Frame storage. A GCS bucket name wins over the local root.
	StorageRoot   string
	StorageBucket string

	// Capture pipeline
	StreamDir           string // Directory of frames to replay as the camera feed
	ModelPath           string
	ConfidenceThreshold float32
	FrameBufferSize     int
	FramesPerIncident   int
	CooldownMillis      int
	DefaultLat          float64
	DefaultLon          float64

	// Verification
	VerifyURL        string
	ForwardIncidents bool
	RetentionDays    int
	TaskQueueWorkers int
}

// Load reads settings from the environment. envFile may be empty, and a
// missing .env file is not an error: real deployments set the environment
// directly.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("Error loading %v: %w", envFile, err)
		}
	}
	cfg := &Config{
		HTTPPort:            getEnvAsInt("HTTP_PORT", 8000),
		DBDriver:            getEnv("DB_DRIVER", dbh.DriverSqlite),
		DBPath:              getEnv("DB_PATH", filepath.Join(".", "citywatch.sqlite")),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnvAsInt("DB_PORT", 5432),
		DBName:              getEnv("DB_NAME", "citywatch"),
		DBUsername:          getEnv("DB_USERNAME", "citywatch"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		StorageRoot:         getEnv("STORAGE_ROOT", filepath.Join(".", "frames")),
		StorageBucket:       getEnv("STORAGE_BUCKET", ""),
		StreamDir:           getEnv("STREAM_DIR", ""),
		ModelPath:           getEnv("MODEL_PATH", ""),
		ConfidenceThreshold: float32(getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5)),
		FrameBufferSize:     getEnvAsInt("FRAME_BUFFER_SIZE", 16),
		FramesPerIncident:   getEnvAsInt("FRAMES_PER_INCIDENT", 4),
		CooldownMillis:      getEnvAsInt("COOLDOWN_MS", 5000),
		DefaultLat:          getEnvAsFloat("DEFAULT_LAT", 11.0222),
		DefaultLon:          getEnvAsFloat("DEFAULT_LON", 77.0133),
		VerifyURL:           getEnv("VERIFY_URL", ""),
		ForwardIncidents:    getEnvAsBool("FORWARD_INCIDENTS", false),
		RetentionDays:       getEnvAsInt("RETENTION_DAYS", 30),
		TaskQueueWorkers:    getEnvAsInt("TASK_WORKERS", 4),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD %v out of range [0,1]", c.ConfidenceThreshold)
	}
	if c.FrameBufferSize < 1 {
		return fmt.Errorf("FRAME_BUFFER_SIZE must be at least 1")
	}
	if c.FramesPerIncident < 1 || c.FramesPerIncident > c.FrameBufferSize {
		return fmt.Errorf("FRAMES_PER_INCIDENT must be between 1 and FRAME_BUFFER_SIZE (%v)", c.FrameBufferSize)
	}
	if c.CooldownMillis < 0 {
		return fmt.Errorf("COOLDOWN_MS must not be negative")
	}
	if c.ForwardIncidents && c.VerifyURL == "" {
		return fmt.Errorf("FORWARD_INCIDENTS requires VERIFY_URL")
	}
	switch c.DBDriver {
	case dbh.DriverSqlite, dbh.DriverPostgres:
	default:
		return fmt.Errorf("Unknown DB_DRIVER '%v'", c.DBDriver)
	}
	return nil
}

// DBConfig translates our settings into a database connection config.
func (c *Config) DBConfig() dbh.DBConfig {
	if c.DBDriver == dbh.DriverSqlite {
		return dbh.MakeSqliteConfig(c.DBPath)
	}
	return dbh.DBConfig{
		Driver:   dbh.DriverPostgres,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Database: c.DBName,
		Username: c.DBUsername,
		Password: c.DBPassword,
	}
}

// Cooldown returns the trigger cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMillis) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
