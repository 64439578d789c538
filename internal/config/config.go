package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	HTTPAddr string

	QueueSize      int
	CameraFPS      int
	AudioInterval  time.Duration
	AcquireTimeout time.Duration
	NoiseThreshold float64

	FlushInterval time.Duration
	FlushSize     int
	FallbackDir   string

	PingInterval time.Duration
	PongWait     time.Duration
}

func Load() *Config {
	ping := getEnvDuration("WS_PING_INTERVAL_MS", 30*time.Second)
	return &Config{
		DBUser:     getEnv("MYSQL_USER", "root"),
		DBPassword: getEnv("MYSQL_ROOT_PASSWORD", "testpass"),
		DBHost:     getEnv("MYSQL_HOST", "localhost"),
		DBPort:     getEnv("MYSQL_PORT", "3306"),
		DBName:     getEnv("MYSQL_DATABASE", "safetydb"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),

		QueueSize:      getEnvInt("QUEUE_SIZE", 1000),
		CameraFPS:      getEnvInt("CAMERA_FPS", 10),
		AudioInterval:  getEnvDuration("AUDIO_INTERVAL_MS", 100*time.Millisecond),
		AcquireTimeout: getEnvDuration("ACQUIRE_TIMEOUT_MS", 2*time.Second),
		NoiseThreshold: getEnvFloat("NOISE_THRESHOLD", 85),

		FlushInterval: getEnvDuration("FLUSH_INTERVAL_MS", 60*time.Second),
		FlushSize:     getEnvInt("FLUSH_SIZE", 100),
		FallbackDir:   getEnv("FALLBACK_LOG_DIR", "logs"),

		PingInterval: ping,
		// A connection that misses two consecutive keepalives is dead.
		PongWait: getEnvDuration("WS_PONG_WAIT_MS", 2*ping+5*time.Second),
	}
}

// CameraInterval is the target cadence between camera samples.
func (c *Config) CameraInterval() time.Duration {
	fps := c.CameraFPS
	if fps <= 0 {
		fps = 10
	}
	return time.Second / time.Duration(fps)
}

func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return fallback
}
