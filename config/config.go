package config

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// MinSessionSecretLength is the minimum required length for session secret in production
	MinSessionSecretLength = 32
)

type Config struct {
	ServerPort  string
	Environment string
	UploadDir   string
	// Database
	DBDriver         string // sqlite, libsql or postgres
	DBPath           string
	DatabaseURL      string
	TursoDatabaseURL string
	TursoAuthToken   string
	// Email (Resend)
	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	EmailTestMode bool // When true, emails are logged instead of sent
	// Other
	AllowedOrigins []string
	AppURL         string
	SessionSecret  string
	// Client identity
	DefaultRegion               string
	CaseConnectionWindowMinutes int
	TokenCooldownSeconds        int
	TokenTTLMinutes             int
	ResultsRetentionDays        int
	// SMS
	SMSProvider      string // twilio or log
	SMSSender        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	// Cloudflare R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
	// Background work
	QueueBackend     string // memory or sqs
	QueueWorkers     int
	SQSQueueName     string
	AWSRegion        string
	SweepSchedule    string
	ReminderSchedule string
	CleanupSchedule  string
}

func Load() *Config {
	// Load .env file (ignore error if not present - use system env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	environment := getEnv("ENVIRONMENT", "development")
	sessionSecret := getEnv("SESSION_SECRET", "")

	// Validate session secret - this will fatal in production if invalid
	ValidateSessionSecret(sessionSecret, environment)

	// In development, generate a secure secret if none provided
	if sessionSecret == "" && environment != "production" {
		sessionSecret = GenerateSecureSecret()
		log.Println("[INFO] Generated temporary session secret for development. Set SESSION_SECRET env var for persistence.")
	}

	return &Config{
		ServerPort:                  getEnv("SERVER_PORT", "8080"),
		Environment:                 environment,
		UploadDir:                   getEnv("UPLOAD_DIR", "static/uploads"),
		DBDriver:                    getEnv("DB_DRIVER", "sqlite"),
		DBPath:                      getEnv("DB_PATH", "db/sure.db"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		TursoDatabaseURL:            getEnv("TURSO_DATABASE_URL", ""),
		TursoAuthToken:              getEnv("TURSO_AUTH_TOKEN", ""),
		ResendAPIKey:                getEnv("RESEND_API_KEY", ""),
		EmailFrom:                   getEnv("EMAIL_FROM", "noreply@sure.local"),
		EmailFromName:               getEnv("EMAIL_FROM_NAME", "SURE"),
		EmailTestMode:               getEnvBool("EMAIL_TEST_MODE", true), // Default true for safety
		AllowedOrigins:              strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		AppURL:                      getEnv("APP_URL", "http://localhost:8080"),
		SessionSecret:               sessionSecret,
		DefaultRegion:               getEnv("DEFAULT_REGION", "CH"),
		CaseConnectionWindowMinutes: getEnvInt("CASE_CONNECTION_WINDOW_MINUTES", 120),
		TokenCooldownSeconds:        getEnvInt("TOKEN_COOLDOWN_SECONDS", 60),
		TokenTTLMinutes:             getEnvInt("TOKEN_TTL_MINUTES", 15),
		ResultsRetentionDays:        getEnvInt("RESULTS_RETENTION_DAYS", 7),
		SMSProvider:                 getEnv("SMS_PROVIDER", "log"),
		SMSSender:                   getEnv("SMS_SENDER", "SURE"),
		TwilioAccountSID:            getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:             getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:            getEnv("TWILIO_FROM_NUMBER", ""),
		R2AccountID:                 getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:               getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:           getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:                getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:                 getEnv("R2_PUBLIC_URL", ""),
		QueueBackend:                getEnv("QUEUE_BACKEND", "memory"),
		QueueWorkers:                getEnvInt("QUEUE_WORKERS", 2),
		SQSQueueName:                getEnv("SQS_QUEUE_NAME", "sure-tasks"),
		AWSRegion:                   getEnv("AWS_REGION", "eu-central-1"),
		SweepSchedule:               getEnv("SWEEP_SCHEDULE", "@hourly"),
		ReminderSchedule:            getEnv("REMINDER_SCHEDULE", "@every 15m"),
		CleanupSchedule:             getEnv("CLEANUP_SCHEDULE", "@daily"),
	}
}

// IsProduction reports whether the app runs with production settings
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept common boolean representations
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("[WARNING] Invalid integer for %s: %q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// ValidateSessionSecret validates the session secret meets security requirements
// In production, it must be at least 32 bytes and not a known insecure default
func ValidateSessionSecret(secret string, environment string) error {
	insecureDefaults := []string{
		"dev-secret-change-in-production",
		"change-me",
		"secret",
		"development",
		"test",
		"",
	}

	for _, insecure := range insecureDefaults {
		if strings.EqualFold(secret, insecure) {
			if environment == "production" {
				log.Fatal("[CRITICAL] SESSION_SECRET is set to an insecure default value. Generate a secure random secret with: openssl rand -base64 32")
			}
			log.Printf("[WARNING] SESSION_SECRET is set to an insecure default value. This is acceptable only in development.")
			return nil
		}
	}

	if environment == "production" && len(secret) < MinSessionSecretLength {
		log.Fatalf("[CRITICAL] SESSION_SECRET must be at least %d characters in production (current: %d). Generate with: openssl rand -base64 32", MinSessionSecretLength, len(secret))
	}

	return nil
}

// GenerateSecureSecret generates a cryptographically secure random secret
// This is used only for development when no secret is provided
func GenerateSecureSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Printf("[WARNING] Failed to generate secure secret: %v", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(bytes)
}
