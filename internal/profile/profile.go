package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the gateway process.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol)
	// All providers (openai, deepseek, zai, openrouter, ollama) use the same config
	LLMProvider   string // Provider identifier: openai, deepseek, zai, openrouter, ollama
	LLMAPIKey     string // Unified LLM API key
	LLMBaseURL    string // Unified LLM base URL (optional, has default per provider)
	LLMSmallModel string // Cheap model for classification and phatic replies
	LLMLargeModel string // Full model for substantive responses
	LLMTimeout    int    // LLM request timeout in seconds (default: 120)

	// Channel configuration
	TelegramBotToken  string
	WhatsAppBridgeURL string
	WhatsAppAPIKey    string
	SkipGroups        bool

	// Key-value state configuration
	KVDriver string // memory or sqlite
	KVDSN    string // sqlite file path when KVDriver is sqlite

	// Admin side-channel
	AdminTokenHash string // bcrypt hash of the bearer token; empty disables auth

	// Sleep hours
	SleepEnabled  bool
	SleepStart    string // "HH:MM"
	SleepEnd      string // "HH:MM"
	SleepTZOffset int    // hours from UTC

	// Pipeline
	DropRules           []string
	MaxConcurrency      int
	OwnerName           string
	PairingAutoMsg      string
	DenyCooldownHrs     int
	RateLimitThreshold  int
	RateLimitWindowSecs int
	RateLimitAutoPause  bool
	HTSMaxDelayMs       int
	AutoApproveExisting bool
	AutoReplyUnknown    bool
	HistoryMaxMessages  int
	HistoryTTLSecs      int
	CacheTTLSecs        int

	// Other configurations
	Mode    string
	DSN     string
	Driver  string
	Version string
	Addr    string
	Data    string
	Port    int
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL    string
	SmallModel string
	LargeModel string
}{
	"openai": {
		BaseURL:    "https://api.openai.com/v1",
		SmallModel: "gpt-4o-mini",
		LargeModel: "gpt-4o",
	},
	"deepseek": {
		BaseURL:    "https://api.deepseek.com",
		SmallModel: "deepseek-chat",
		LargeModel: "deepseek-chat",
	},
	"zai": {
		BaseURL:    "https://open.bigmodel.cn/api/paas/v4",
		SmallModel: "glm-4-flash",
		LargeModel: "glm-4.7",
	},
	"openrouter": {
		BaseURL:    "https://openrouter.ai/api/v1",
		SmallModel: "anthropic/claude-3.5-haiku",
		LargeModel: "anthropic/claude-sonnet-4",
	},
	"ollama": {
		BaseURL:    "http://localhost:11434/v1",
		SmallModel: "llama3.1",
		LargeModel: "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an LLM API key is configured. Ollama needs
// no key, so the provider alone counts.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool returns environment variable value as bool or default value.
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("GHOSTWRITER_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("GHOSTWRITER_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("GHOSTWRITER_LLM_BASE_URL", "")
	p.LLMSmallModel = getEnvOrDefault("GHOSTWRITER_LLM_SMALL_MODEL", "")
	p.LLMLargeModel = getEnvOrDefault("GHOSTWRITER_LLM_LARGE_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("GHOSTWRITER_LLM_TIMEOUT_SECONDS", 120)

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMSmallModel == "" {
			p.LLMSmallModel = defaults.SmallModel
		}
		if p.LLMLargeModel == "" {
			p.LLMLargeModel = defaults.LargeModel
		}
	}

	// Channel configuration
	p.TelegramBotToken = getEnvOrDefault("GHOSTWRITER_TELEGRAM_BOT_TOKEN", "")
	p.WhatsAppBridgeURL = getEnvOrDefault("GHOSTWRITER_WHATSAPP_BRIDGE_URL", "")
	p.WhatsAppAPIKey = getEnvOrDefault("GHOSTWRITER_WHATSAPP_API_KEY", "")
	p.SkipGroups = getEnvOrDefaultBool("GHOSTWRITER_SKIP_GROUPS", true)

	// Key-value state
	p.KVDriver = getEnvOrDefault("GHOSTWRITER_KV_DRIVER", "sqlite")
	p.KVDSN = getEnvOrDefault("GHOSTWRITER_KV_DSN", "")

	// Admin side-channel
	p.AdminTokenHash = getEnvOrDefault("GHOSTWRITER_ADMIN_TOKEN_HASH", "")

	// Sleep hours
	p.SleepEnabled = getEnvOrDefaultBool("GHOSTWRITER_SLEEP_ENABLED", true)
	p.SleepStart = getEnvOrDefault("GHOSTWRITER_SLEEP_START", "23:00")
	p.SleepEnd = getEnvOrDefault("GHOSTWRITER_SLEEP_END", "07:00")
	p.SleepTZOffset = getEnvOrDefaultInt("GHOSTWRITER_SLEEP_TZ_OFFSET", 0)

	// Pipeline
	p.MaxConcurrency = getEnvOrDefaultInt("GHOSTWRITER_MAX_CONCURRENCY", 8)
	p.OwnerName = getEnvOrDefault("GHOSTWRITER_OWNER_NAME", "")
	p.PairingAutoMsg = getEnvOrDefault("GHOSTWRITER_PAIRING_AUTO_REPLY", "")
	p.DenyCooldownHrs = getEnvOrDefaultInt("GHOSTWRITER_DENY_COOLDOWN_HOURS", 24)
	p.RateLimitThreshold = getEnvOrDefaultInt("GHOSTWRITER_RATE_LIMIT_THRESHOLD", 10)
	p.RateLimitWindowSecs = getEnvOrDefaultInt("GHOSTWRITER_RATE_LIMIT_WINDOW_SECONDS", 60)
	p.RateLimitAutoPause = getEnvOrDefaultBool("GHOSTWRITER_RATE_LIMIT_AUTO_PAUSE", true)
	p.HTSMaxDelayMs = getEnvOrDefaultInt("GHOSTWRITER_HTS_MAX_DELAY_MS", 5000)
	p.AutoApproveExisting = getEnvOrDefaultBool("GHOSTWRITER_AUTO_APPROVE_EXISTING", true)
	p.AutoReplyUnknown = getEnvOrDefaultBool("GHOSTWRITER_AUTO_REPLY_UNKNOWN", true)
	p.HistoryMaxMessages = getEnvOrDefaultInt("GHOSTWRITER_HISTORY_MAX_MESSAGES", 100)
	p.HistoryTTLSecs = getEnvOrDefaultInt("GHOSTWRITER_HISTORY_TTL_SECONDS", 604800)
	p.CacheTTLSecs = getEnvOrDefaultInt("GHOSTWRITER_CACHE_TTL_SECONDS", 1800)

	// Admission drop rules, semicolon separated CEL expressions.
	if rules := os.Getenv("GHOSTWRITER_DROP_RULES"); rules != "" {
		for _, r := range strings.Split(rules, ";") {
			if r = strings.TrimSpace(r); r != "" {
				p.DropRules = append(p.DropRules, r)
			}
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "ghostwriter")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/ghostwriter"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("ghostwriter_%s.db", p.Mode))
	}
	if p.KVDriver == "sqlite" && p.KVDSN == "" {
		p.KVDSN = filepath.Join(dataDir, fmt.Sprintf("ghostwriter_%s_kv.db", p.Mode))
	}

	if p.TelegramBotToken == "" && p.WhatsAppBridgeURL == "" {
		slog.Warn("no channel configured, gateway will start with no adapters")
	}

	return nil
}
