package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"focusroom-be/pkg/intervention"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Keys      APIKeys
	Ai        AIConfig
	OpenNote  OpenNoteConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
	LogLevel   string // silent, error, warn, info
}

type APIKeys struct {
	JwtSecret   string
	HuggingFace string
}

type AIConfig struct {
	LLMProvider   string // "ollama" or "huggingface"
	LLMModel      string // e.g. "llama3", "qwen2.5"
	OllamaBaseURL string
}

type OpenNoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SchedulerConfig mirrors intervention.Config plus the hosting loop cadence.
type SchedulerConfig struct {
	RiseWeight       float64
	DecayFactor      float64
	EvidenceFloor    float64
	TriggerThreshold float64
	CooldownWindow   time.Duration
	StalenessWindow  time.Duration
	EvidenceWindow   time.Duration
	OrphanCeiling    time.Duration
	MaxJobAge        time.Duration
	MaxReferenceLen  int
	RecentWindow     int
	PracticeLevel    float64
	AcceptTimeout    time.Duration
	Parallelism      int

	PollInterval    time.Duration // evaluation loop tick
	JobPollInterval time.Duration // background job status checks
	SessionTTL      time.Duration // idle users are dropped after this
}

// ToIntervention builds the core policy from the env-driven settings.
func (s SchedulerConfig) ToIntervention() intervention.Config {
	return intervention.Config{
		RiseWeight:       s.RiseWeight,
		DecayFactor:      s.DecayFactor,
		EvidenceFloor:    s.EvidenceFloor,
		TriggerThreshold: s.TriggerThreshold,
		CooldownWindow:   s.CooldownWindow,
		StalenessWindow:  s.StalenessWindow,
		EvidenceWindow:   s.EvidenceWindow,
		OrphanCeiling:    s.OrphanCeiling,
		MaxJobAge:        s.MaxJobAge,
		MaxReferenceLen:  s.MaxReferenceLen,
		RecentWindow:     s.RecentWindow,
		PracticeLevel:    s.PracticeLevel,
		AcceptTimeout:    s.AcceptTimeout,
		Parallelism:      s.Parallelism,
	}
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	d := intervention.DefaultConfig()

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/websocket.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
			LogLevel:   getEnv("DB_LOG_LEVEL", "warn"),
		},
		Keys: APIKeys{
			JwtSecret:   getEnv("JWT_SECRET", ""),
			HuggingFace: getEnv("HUGGINGFACE_API_KEY", ""),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		OpenNote: OpenNoteConfig{
			BaseURL: getEnv("OPENNOTE_BASE_URL", ""),
			APIKey:  getEnv("OPENNOTE_API_KEY", ""),
			Timeout: getEnvAsDuration("OPENNOTE_TIMEOUT", 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			RiseWeight:       getEnvAsFloat("SCHEDULER_RISE_WEIGHT", d.RiseWeight),
			DecayFactor:      getEnvAsFloat("SCHEDULER_DECAY_FACTOR", d.DecayFactor),
			EvidenceFloor:    getEnvAsFloat("SCHEDULER_EVIDENCE_FLOOR", d.EvidenceFloor),
			TriggerThreshold: getEnvAsFloat("SCHEDULER_TRIGGER_THRESHOLD", d.TriggerThreshold),
			CooldownWindow:   getEnvAsDuration("SCHEDULER_COOLDOWN_WINDOW", d.CooldownWindow),
			StalenessWindow:  getEnvAsDuration("SCHEDULER_STALENESS_WINDOW", d.StalenessWindow),
			EvidenceWindow:   getEnvAsDuration("SCHEDULER_EVIDENCE_WINDOW", d.EvidenceWindow),
			OrphanCeiling:    getEnvAsDuration("SCHEDULER_ORPHAN_CEILING", d.OrphanCeiling),
			MaxJobAge:        getEnvAsDuration("SCHEDULER_MAX_JOB_AGE", d.MaxJobAge),
			MaxReferenceLen:  getEnvAsInt("SCHEDULER_MAX_REFERENCE_LEN", d.MaxReferenceLen),
			RecentWindow:     getEnvAsInt("SCHEDULER_RECENT_WINDOW", d.RecentWindow),
			PracticeLevel:    getEnvAsFloat("SCHEDULER_PRACTICE_LEVEL", d.PracticeLevel),
			AcceptTimeout:    getEnvAsDuration("SCHEDULER_ACCEPT_TIMEOUT", d.AcceptTimeout),
			Parallelism:      getEnvAsInt("SCHEDULER_PARALLELISM", d.Parallelism),
			PollInterval:     getEnvAsDuration("SCHEDULER_POLL_INTERVAL", time.Second),
			JobPollInterval:  getEnvAsDuration("JOB_POLL_INTERVAL", 5*time.Second),
			SessionTTL:       getEnvAsDuration("SCHEDULER_SESSION_TTL", time.Hour),
		},
	}
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

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
