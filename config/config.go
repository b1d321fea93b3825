package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WebRTC   WebRTCConfig
	Relay    RelayConfig
	Chat     ChatConfig
	Media    MediaConfig
	AWS      AWSConfig
}

// WebRTCConfig holds the ICE server list shared by every peer connection.
type WebRTCConfig struct {
	STUNUrls          []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	TURNUrls          []string // e.g. turn:openrelay.metered.ca:443?transport=tcp
	TURNUsername      string
	TURNCredential    string
	CandidatePoolSize int
}

// RelayConfig holds broadcast relay settings (channel join, websocket bridge).
type RelayConfig struct {
	JoinTimeout time.Duration
	SendTimeout time.Duration
	URL         string // ws://host:port/relay; empty = talk to Redis directly
	Token       string
}

// ChatConfig holds live chat settings.
type ChatConfig struct {
	HistoryLimit int
	// Queued routes chat appends through the Redis job queue drained by cmd/worker.
	Queued bool
}

// MediaConfig holds file-backed local media (camera/microphone stand-ins for the host).
type MediaConfig struct {
	VideoFile string // IVF (VP8/VP9)
	AudioFile string // Ogg (Opus)
	OutputDir string // where the viewer writes received tracks
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/liveshop?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the thumbnails bucket.
type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ThumbnailsBucket string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

const (
	defaultSTUN = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302,stun:stun3.l.google.com:19302,stun:stun4.l.google.com:19302"
	defaultTURN = "turn:openrelay.metered.ca:80,turn:openrelay.metered.ca:443,turn:openrelay.metered.ca:443?transport=tcp"
)

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/liveshop?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "liveshop"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		WebRTC: WebRTCConfig{
			STUNUrls:          splitTrim(getEnv("WEBRTC_STUN_URLS", defaultSTUN), ","),
			TURNUrls:          splitTrim(getEnv("WEBRTC_TURN_URLS", defaultTURN), ","),
			TURNUsername:      getEnv("WEBRTC_TURN_USERNAME", "openrelayproject"),
			TURNCredential:    getEnv("WEBRTC_TURN_CREDENTIAL", "openrelayproject"),
			CandidatePoolSize: getEnvInt("WEBRTC_CANDIDATE_POOL_SIZE", 10),
		},
		Relay: RelayConfig{
			JoinTimeout: time.Duration(getEnvInt("RELAY_JOIN_TIMEOUT_SEC", 10)) * time.Second,
			SendTimeout: time.Duration(getEnvInt("RELAY_SEND_TIMEOUT_SEC", 5)) * time.Second,
			URL:         getEnv("RELAY_URL", ""),
			Token:       getEnv("RELAY_TOKEN", ""),
		},
		Chat: ChatConfig{
			HistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 50),
			Queued:       getEnvBool("CHAT_QUEUED", false),
		},
		Media: MediaConfig{
			VideoFile: getEnv("MEDIA_VIDEO_FILE", "output.ivf"),
			AudioFile: getEnv("MEDIA_AUDIO_FILE", "output.ogg"),
			OutputDir: getEnv("MEDIA_OUTPUT_DIR", "."),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", ""),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ThumbnailsBucket: getEnv("AWS_S3_THUMBNAILS_BUCKET", "liveshop-thumbnails"),
		},
	}
	if cfg.Chat.HistoryLimit <= 0 || cfg.Chat.HistoryLimit > 50 {
		return nil, fmt.Errorf("CHAT_HISTORY_LIMIT must be in 1..50, got %d", cfg.Chat.HistoryLimit)
	}
	if cfg.WebRTC.CandidatePoolSize < 0 || cfg.WebRTC.CandidatePoolSize > 255 {
		return nil, fmt.Errorf("WEBRTC_CANDIDATE_POOL_SIZE must be in 0..255, got %d", cfg.WebRTC.CandidatePoolSize)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
