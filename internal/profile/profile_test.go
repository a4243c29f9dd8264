package profile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.LLMSmallModel)
	assert.Equal(t, "gpt-4o", p.LLMLargeModel)
	assert.Equal(t, 120, p.LLMTimeout)
	assert.True(t, p.SkipGroups)
	assert.Equal(t, "sqlite", p.KVDriver)
	assert.True(t, p.SleepEnabled)
	assert.Equal(t, "23:00", p.SleepStart)
	assert.Equal(t, "07:00", p.SleepEnd)
	assert.Equal(t, 8, p.MaxConcurrency)
	assert.Equal(t, 24, p.DenyCooldownHrs)
	assert.Equal(t, 10, p.RateLimitThreshold)
	assert.Equal(t, 60, p.RateLimitWindowSecs)
	assert.True(t, p.RateLimitAutoPause)
	assert.Equal(t, 5000, p.HTSMaxDelayMs)
	assert.True(t, p.AutoApproveExisting)
	assert.True(t, p.AutoReplyUnknown)
	assert.Equal(t, 100, p.HistoryMaxMessages)
	assert.Equal(t, 604800, p.HistoryTTLSecs)
	assert.Equal(t, 1800, p.CacheTTLSecs)
	assert.False(t, p.IsLLMEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) string
		expected string
	}{
		{
			name:     "LLM API key",
			envVar:   "GHOSTWRITER_LLM_API_KEY",
			envValue: "test-key",
			field:    func(p *Profile) string { return p.LLMAPIKey },
			expected: "test-key",
		},
		{
			name:     "telegram bot token",
			envVar:   "GHOSTWRITER_TELEGRAM_BOT_TOKEN",
			envValue: "123456:abc",
			field:    func(p *Profile) string { return p.TelegramBotToken },
			expected: "123456:abc",
		},
		{
			name:     "whatsapp bridge url",
			envVar:   "GHOSTWRITER_WHATSAPP_BRIDGE_URL",
			envValue: "http://localhost:3000",
			field:    func(p *Profile) string { return p.WhatsAppBridgeURL },
			expected: "http://localhost:3000",
		},
		{
			name:     "sleep start",
			envVar:   "GHOSTWRITER_SLEEP_START",
			envValue: "22:30",
			field:    func(p *Profile) string { return p.SleepStart },
			expected: "22:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			os.Setenv(tt.envVar, tt.envValue)
			defer os.Unsetenv(tt.envVar)

			p := &Profile{}
			p.FromEnv()
			assert.Equal(t, tt.expected, tt.field(p))
		})
	}
}

func TestPipelineTuningFromEnv(t *testing.T) {
	clearEnvVars()
	os.Setenv("GHOSTWRITER_RATE_LIMIT_THRESHOLD", "5")
	os.Setenv("GHOSTWRITER_RATE_LIMIT_WINDOW_SECONDS", "30")
	os.Setenv("GHOSTWRITER_RATE_LIMIT_AUTO_PAUSE", "false")
	os.Setenv("GHOSTWRITER_HTS_MAX_DELAY_MS", "2500")
	os.Setenv("GHOSTWRITER_AUTO_APPROVE_EXISTING", "false")
	os.Setenv("GHOSTWRITER_AUTO_REPLY_UNKNOWN", "false")
	os.Setenv("GHOSTWRITER_HISTORY_MAX_MESSAGES", "40")
	os.Setenv("GHOSTWRITER_HISTORY_TTL_SECONDS", "3600")
	os.Setenv("GHOSTWRITER_CACHE_TTL_SECONDS", "600")
	defer clearEnvVars()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, 5, p.RateLimitThreshold)
	assert.Equal(t, 30, p.RateLimitWindowSecs)
	assert.False(t, p.RateLimitAutoPause)
	assert.Equal(t, 2500, p.HTSMaxDelayMs)
	assert.False(t, p.AutoApproveExisting)
	assert.False(t, p.AutoReplyUnknown)
	assert.Equal(t, 40, p.HistoryMaxMessages)
	assert.Equal(t, 3600, p.HistoryTTLSecs)
	assert.Equal(t, 600, p.CacheTTLSecs)
}

func TestUnknownProviderFallsBack(t *testing.T) {
	clearEnvVars()
	os.Setenv("GHOSTWRITER_LLM_PROVIDER", "mystery")
	defer os.Unsetenv("GHOSTWRITER_LLM_PROVIDER")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
}

func TestDropRulesParsing(t *testing.T) {
	clearEnvVars()
	os.Setenv("GHOSTWRITER_DROP_RULES", `msg.groupChat; msg.content.size() > 4000 ;`)
	defer os.Unsetenv("GHOSTWRITER_DROP_RULES")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, []string{"msg.groupChat", "msg.content.size() > 4000"}, p.DropRules)
}

func TestValidateSQLiteDSNDefaults(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Data: dir, Driver: "sqlite", KVDriver: "sqlite"}

	err := p.Validate()
	assert.NoError(t, err)
	assert.Contains(t, p.DSN, "ghostwriter_dev.db")
	assert.Contains(t, p.KVDSN, "ghostwriter_dev_kv.db")
}

func clearEnvVars() {
	suffixes := []string{
		"LLM_PROVIDER",
		"LLM_API_KEY",
		"LLM_BASE_URL",
		"LLM_SMALL_MODEL",
		"LLM_LARGE_MODEL",
		"LLM_TIMEOUT_SECONDS",
		"TELEGRAM_BOT_TOKEN",
		"WHATSAPP_BRIDGE_URL",
		"WHATSAPP_API_KEY",
		"SKIP_GROUPS",
		"KV_DRIVER",
		"KV_DSN",
		"ADMIN_TOKEN_HASH",
		"SLEEP_ENABLED",
		"SLEEP_START",
		"SLEEP_END",
		"SLEEP_TZ_OFFSET",
		"MAX_CONCURRENCY",
		"OWNER_NAME",
		"PAIRING_AUTO_REPLY",
		"DENY_COOLDOWN_HOURS",
		"DROP_RULES",
		"RATE_LIMIT_THRESHOLD",
		"RATE_LIMIT_WINDOW_SECONDS",
		"RATE_LIMIT_AUTO_PAUSE",
		"HTS_MAX_DELAY_MS",
		"AUTO_APPROVE_EXISTING",
		"AUTO_REPLY_UNKNOWN",
		"HISTORY_MAX_MESSAGES",
		"HISTORY_TTL_SECONDS",
		"CACHE_TTL_SECONDS",
	}
	for _, suffix := range suffixes {
		os.Unsetenv("GHOSTWRITER_" + suffix)
	}
}
