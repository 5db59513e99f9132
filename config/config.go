package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration // Idle window for order sessions
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration

	// Audio buffering
	MaxBufferSize       int // Maximum audio buffer size in bytes per session
	MinBufferSize       int // Minimum merged audio size accepted for a final transcription
	AudioSessionTimeout time.Duration
	AudioSweepInterval  time.Duration

	// Partial transcription policy
	PartialInterval  time.Duration
	PartialMinChunks int
	PartialMinBytes  int
	Language         string

	// Model capabilities
	GeminiAPIKey    string
	ChatModel       string
	TranscribeModel string
	LiveModel       string
	Temperature     float32
	MaxOutputTokens int
	MaxToolRounds   int

	// Realtime bridge: "gemini", "deepgram" or "none"
	RealtimeProvider string
	DeepgramAPIKey   string

	// Connection authentication
	JWTSecret string
	JWTIssuer string

	LogLevel string
	LogJSON  bool
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Required: JWT_SECRET
	config.JWTSecret = os.Getenv("JWT_SECRET")
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if err := applyOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the configuration used when no environment overrides are set
func Default() *Config {
	return &Config{
		Port:                8080,
		RedisURL:            "localhost:6379",
		MaxSessions:         100,
		SessionTimeout:      30 * time.Minute,
		AllowedOrigins:      []string{"*"},
		KeepAlivePeriod:     30 * time.Second,
		MaxBufferSize:       10 * 1024 * 1024, // 10MB default
		MinBufferSize:       1024,
		AudioSessionTimeout: 5 * time.Minute,
		AudioSweepInterval:  time.Minute,
		PartialInterval:     2 * time.Second,
		PartialMinChunks:    4,
		PartialMinBytes:     64 * 1024,
		Language:            "en",
		ChatModel:           "gemini-2.5-flash",
		TranscribeModel:     "gemini-2.5-flash",
		LiveModel:           "gemini-live-2.5-flash-preview",
		Temperature:         0.7,
		MaxOutputTokens:     1024,
		MaxToolRounds:       10,
		RealtimeProvider:    "gemini",
		LogLevel:            "info",
	}
}

func applyOverrides(config *Config) error {
	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_BUFFER_SIZE / MIN_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		config.MaxBufferSize = b
	}
	if bufferSize := os.Getenv("MIN_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return fmt.Errorf("invalid MIN_BUFFER_SIZE: %w", err)
		}
		config.MinBufferSize = b
	}

	// Optional: AUDIO_SESSION_TIMEOUT / AUDIO_SWEEP_INTERVAL (in seconds)
	if timeout := os.Getenv("AUDIO_SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return fmt.Errorf("invalid AUDIO_SESSION_TIMEOUT: %w", err)
		}
		config.AudioSessionTimeout = time.Duration(t) * time.Second
	}
	if interval := os.Getenv("AUDIO_SWEEP_INTERVAL"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("invalid AUDIO_SWEEP_INTERVAL: %w", err)
		}
		config.AudioSweepInterval = time.Duration(i) * time.Second
	}

	// Optional: partial transcription policy
	if interval := os.Getenv("PARTIAL_INTERVAL_MS"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return fmt.Errorf("invalid PARTIAL_INTERVAL_MS: %w", err)
		}
		config.PartialInterval = time.Duration(i) * time.Millisecond
	}
	if chunks := os.Getenv("PARTIAL_MIN_CHUNKS"); chunks != "" {
		c, err := strconv.Atoi(chunks)
		if err != nil {
			return fmt.Errorf("invalid PARTIAL_MIN_CHUNKS: %w", err)
		}
		config.PartialMinChunks = c
	}
	if minBytes := os.Getenv("PARTIAL_MIN_BYTES"); minBytes != "" {
		b, err := strconv.Atoi(minBytes)
		if err != nil {
			return fmt.Errorf("invalid PARTIAL_MIN_BYTES: %w", err)
		}
		config.PartialMinBytes = b
	}
	if language := os.Getenv("TRANSCRIBE_LANGUAGE"); language != "" {
		config.Language = language
	}

	// Optional: model selection
	if model := os.Getenv("CHAT_MODEL"); model != "" {
		config.ChatModel = model
	}
	if model := os.Getenv("TRANSCRIBE_MODEL"); model != "" {
		config.TranscribeModel = model
	}
	if model := os.Getenv("LIVE_MODEL"); model != "" {
		config.LiveModel = model
	}
	if temperature := os.Getenv("TEMPERATURE"); temperature != "" {
		t, err := strconv.ParseFloat(temperature, 32)
		if err != nil {
			return fmt.Errorf("invalid TEMPERATURE: %w", err)
		}
		config.Temperature = float32(t)
	}
	if maxTokens := os.Getenv("MAX_OUTPUT_TOKENS"); maxTokens != "" {
		m, err := strconv.Atoi(maxTokens)
		if err != nil {
			return fmt.Errorf("invalid MAX_OUTPUT_TOKENS: %w", err)
		}
		config.MaxOutputTokens = m
	}
	if rounds := os.Getenv("MAX_TOOL_ROUNDS"); rounds != "" {
		r, err := strconv.Atoi(rounds)
		if err != nil {
			return fmt.Errorf("invalid MAX_TOOL_ROUNDS: %w", err)
		}
		if r < 1 {
			return fmt.Errorf("invalid MAX_TOOL_ROUNDS: must be at least 1")
		}
		config.MaxToolRounds = r
	}

	// Optional: REALTIME_PROVIDER ("gemini", "deepgram" or "none")
	if provider := os.Getenv("REALTIME_PROVIDER"); provider != "" {
		switch provider {
		case "gemini", "deepgram", "none":
			config.RealtimeProvider = provider
		default:
			return fmt.Errorf("invalid REALTIME_PROVIDER: must be 'gemini', 'deepgram', or 'none'")
		}
	}
	config.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	if config.RealtimeProvider == "deepgram" && config.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY environment variable is required when REALTIME_PROVIDER is 'deepgram'")
	}

	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		config.JWTIssuer = issuer
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if logJSON := os.Getenv("LOG_JSON"); logJSON != "" {
		j, err := strconv.ParseBool(logJSON)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON: %w", err)
		}
		config.LogJSON = j
	}

	return nil
}
