package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIPort  string
	LogLevel string

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	SlackBotToken      string
	SlackSigningSecret string

	MistralURL    string
	MistralAPIKey string
	MistralModel  string

	OpenAIURL    string
	OpenAIAPIKey string
	OpenAIModel  string

	XeroURL          string
	XeroAccessToken  string
	XeroClientID     string
	XeroClientSecret string
	XeroRefreshToken string
	XeroTokenURL     string
	XeroTenantID     string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	PolicyFile string
	StagingDir string

	AllowedMIMETypes []string
	MaxFileSizeBytes int64

	ClaimLease        time.Duration
	FetchTimeout      time.Duration
	ExtractTimeout    time.Duration
	CategorizeTimeout time.Duration
	LedgerTimeout     time.Duration
	NotifyTimeout     time.Duration

	RetryMaxAttempts int

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:     mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject: mustEnv("NATS_SUBJECT", "invoices.file_shared"),

		SlackBotToken:      mustEnv("SLACK_BOT_TOKEN", ""),
		SlackSigningSecret: mustEnv("SLACK_SIGNING_SECRET", ""),

		MistralURL:    mustEnv("MISTRAL_URL", "https://api.mistral.ai"),
		MistralAPIKey: mustEnv("MISTRAL_API_KEY", ""),
		MistralModel:  mustEnv("MISTRAL_MODEL", "mistral-large-latest"),

		OpenAIURL:    mustEnv("OPENAI_URL", "https://api.openai.com"),
		OpenAIAPIKey: mustEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  mustEnv("OPENAI_MODEL", "gpt-4o"),

		XeroURL:          mustEnv("XERO_URL", "https://api.xero.com/api.xro/2.0"),
		XeroAccessToken:  mustEnv("XERO_ACCESS_TOKEN", ""),
		XeroClientID:     mustEnv("XERO_CLIENT_ID", ""),
		XeroClientSecret: mustEnv("XERO_CLIENT_SECRET", ""),
		XeroRefreshToken: mustEnv("XERO_REFRESH_TOKEN", ""),
		XeroTokenURL:     mustEnv("XERO_TOKEN_URL", ""),
		XeroTenantID:     mustEnv("XERO_TENANT_ID", ""),

		S3Endpoint:  mustEnv("S3_ENDPOINT", ""),
		S3AccessKey: mustEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: mustEnv("S3_SECRET_KEY", ""),
		S3Bucket:    mustEnv("S3_BUCKET", "invoice-staging"),
		S3Region:    mustEnv("S3_REGION", "us-east-1"),
		S3UseSSL:    mustEnvBool("S3_USE_SSL", true),

		PolicyFile: mustEnv("POLICY_FILE", ""),
		StagingDir: mustEnv("STAGING_DIR", ""),

		AllowedMIMETypes: splitCSV(mustEnv("ALLOWED_MIME_TYPES",
			"application/pdf,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,text/plain,text/csv")),
		MaxFileSizeBytes: int64(mustEnvInt("MAX_FILE_SIZE_BYTES", 20<<20)),

		ClaimLease:        mustEnvDuration("CLAIM_LEASE", 10*time.Minute),
		FetchTimeout:      mustEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		ExtractTimeout:    mustEnvDuration("EXTRACT_TIMEOUT", 120*time.Second),
		CategorizeTimeout: mustEnvDuration("CATEGORIZE_TIMEOUT", 60*time.Second),
		LedgerTimeout:     mustEnvDuration("LEDGER_TIMEOUT", 60*time.Second),
		NotifyTimeout:     mustEnvDuration("NOTIFY_TIMEOUT", 15*time.Second),

		RetryMaxAttempts: mustEnvInt("RETRY_MAX_ATTEMPTS", 3),

		APIRateLimitRPS:   float64(mustEnvInt("API_RATE_LIMIT_RPS", 20)),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 64),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
