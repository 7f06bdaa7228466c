package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string

	// RTMP Server
	RTMPAddr       string
	WriteQueueSize int
	WriteTimeout   time.Duration
	MaxMessageSize int

	// Connection parameters announced on connect
	ChunkSize     int
	WindowAckSize int
	PeerBandwidth int

	// Streams
	AppName      string
	ReapInterval time.Duration
	GOPLimit     int

	// Logging
	LogLevel  string
	LogFormat string // text or json
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		RTMPAddr:       getEnv("RTMP_ADDR", ":1935"),
		WriteQueueSize: getIntEnv("WRITE_QUEUE_SIZE", 1024),
		WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		MaxMessageSize: getIntEnv("MAX_MESSAGE_SIZE", 8<<20),
		ChunkSize:      getIntEnv("CHUNK_SIZE", 4096),
		WindowAckSize:  getIntEnv("WINDOW_ACK_SIZE", 250000),
		PeerBandwidth:  getIntEnv("PEER_BANDWIDTH", 2500000),
		AppName:        getEnv("APP_NAME", "kyu"),
		ReapInterval:   getDurationEnv("REAP_INTERVAL", 30*time.Second),
		GOPLimit:       getIntEnv("GOP_LIMIT", 4096),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}
}

// Validate rejects settings the servers cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize < 1 || c.ChunkSize > 0x7FFFFFFF:
		return fmt.Errorf("chunk size %d out of range", c.ChunkSize)
	case c.WindowAckSize < 1:
		return fmt.Errorf("window ack size %d must be positive", c.WindowAckSize)
	case c.PeerBandwidth < 1:
		return fmt.Errorf("peer bandwidth %d must be positive", c.PeerBandwidth)
	case c.MaxMessageSize < 1 || c.MaxMessageSize > 0xFFFFFF:
		return fmt.Errorf("max message size %d out of range", c.MaxMessageSize)
	case c.WriteQueueSize < 1:
		return fmt.Errorf("write queue size %d must be positive", c.WriteQueueSize)
	case c.ReapInterval <= 0:
		return fmt.Errorf("reap interval %s must be positive", c.ReapInterval)
	case c.GOPLimit < 1:
		return fmt.Errorf("gop limit %d must be positive", c.GOPLimit)
	case c.AppName == "":
		return fmt.Errorf("app name must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
