package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	NatsURL     string
	DatabaseURL string
	LogLevel    string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	OpenAIAPIKey string

	TargetDisclaimer string
	ProbeMessage     string

	MaxTreeDepth          int
	MaxHumanRetries       int
	MaxConcurrentSessions int

	CallWaitTimeout      time.Duration
	TranscribeTimeout    time.Duration
	TreeStepDelay        time.Duration
	HumanRetryDelay      time.Duration
	ResultFlushInterval  time.Duration
	ResultFlushThreshold int
	ResultBufferMax      int

	SlackBotToken     string
	SlackAlertChannel string
}

// defaultProbeMessage is spoken once navigation has finished, so a human who
// answers knows why we called.
const defaultProbeMessage = "This is an automated line check. We will call again, please let it go to voicemail."

func Load() Config {
	return Config{
		Port:        envInt("CALLZILLA_PORT", 8600),
		NatsURL:     envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		TwilioAccountSID:  envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: envStr("TWILIO_PHONE_NUMBER", ""),

		OpenAIAPIKey: envStr("OPENAI_API_KEY", ""),

		TargetDisclaimer: envStr("TARGET_DISCLAIMER", ""),
		ProbeMessage:     envStr("PROBE_MESSAGE", defaultProbeMessage),

		MaxTreeDepth:          envInt("MAX_TREE_DEPTH", 5),
		MaxHumanRetries:       envInt("MAX_HUMAN_RETRIES", 3),
		MaxConcurrentSessions: envInt("MAX_CONCURRENT_SESSIONS", 1),

		CallWaitTimeout:      time.Duration(envInt("CALL_WAIT_TIMEOUT_S", 300)) * time.Second,
		TranscribeTimeout:    time.Duration(envInt("TRANSCRIBE_TIMEOUT_S", 60)) * time.Second,
		TreeStepDelay:        time.Duration(envInt("TREE_STEP_DELAY_S", 5)) * time.Second,
		HumanRetryDelay:      time.Duration(envInt("HUMAN_RETRY_DELAY_S", 10)) * time.Second,
		ResultFlushInterval:  time.Duration(envInt("RESULT_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		ResultFlushThreshold: envInt("RESULT_FLUSH_THRESHOLD", 20),
		ResultBufferMax:      envInt("RESULT_BUFFER_MAX", 1000),

		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// Validate reports the required settings that are missing.
func (c Config) Validate() error {
	required := []struct {
		key string
		val string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"TWILIO_ACCOUNT_SID", c.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", c.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", c.TwilioPhoneNumber},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
	}
	var missing []string
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
