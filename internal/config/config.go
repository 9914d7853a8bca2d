package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Database    Database
	AdminToken  string `env:"ADMIN_TOKEN"`

	Paypal      Paypal      `envPrefix:"PAYPAL_"`
	Webhook     Webhook     `envPrefix:"WEBHOOK_"`
	Retry       Retry       `envPrefix:"RETRY_"`
	Idempotency Idempotency `envPrefix:"IDEMPOTENCY_"`
	Redis       Redis       `envPrefix:"REDIS_"`
	DeadLetter  DeadLetter  `envPrefix:"DEAD_LETTER_"`
}

type Paypal struct {
	Environment  string `env:"ENVIRONMENT" envDefault:"sandbox"`
	BaseApiURL   string `env:"BASE_API_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`

	// Shared secret for the local HMAC pre-check. Empty disables it.
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	VerifyRemote  bool          `env:"VERIFY_REMOTE" envDefault:"true"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	ReturnURL     string        `env:"RETURN_URL"`
	CancelURL     string        `env:"CANCEL_URL"`
	ProductID     string        `env:"PRODUCT_ID" envDefault:"AI_RECEPTIONIST"`
	BrandName     string        `env:"BRAND_NAME" envDefault:"AI Receptionist"`

	PlanIDSoloPro      string `env:"PLAN_ID_SOLO_PRO" envDefault:"P-SOLO-PRO"`
	PlanIDProfessional string `env:"PLAN_ID_PROFESSIONAL" envDefault:"P-PROFESSIONAL"`
	PlanIDEnterprise   string `env:"PLAN_ID_ENTERPRISE" envDefault:"P-ENTERPRISE"`
}

// ResolveBaseURL returns the REST endpoint for the configured environment
// unless BASE_API_URL overrides it.
func (p Paypal) ResolveBaseURL() string {
	if p.BaseApiURL != "" {
		return p.BaseApiURL
	}
	switch p.Environment {
	case "production", "live":
		return "https://api-m.paypal.com"
	default:
		return "https://api-m.sandbox.paypal.com"
	}
}

type Webhook struct {
	Retention         time.Duration `env:"RETENTION" envDefault:"24h"`
	ClaimLease        time.Duration `env:"CLAIM_LEASE" envDefault:"5m"`
	PerformanceTarget time.Duration `env:"PERFORMANCE_TARGET" envDefault:"30s"`
}

type Retry struct {
	InitialDelay      time.Duration `env:"INITIAL_DELAY" envDefault:"1s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	MaxDelay          time.Duration `env:"MAX_DELAY" envDefault:"60s"`
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"5"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"10"`
	CleanupAge        time.Duration `env:"CLEANUP_AGE" envDefault:"24h"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

const (
	IdempotencyGorm  = "gorm"
	IdempotencyRedis = "redis"
)

type Idempotency struct {
	Backend string `env:"BACKEND" envDefault:"gorm"`
}

type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type DeadLetter struct {
	QueueURL  string `env:"QUEUE_URL"`
	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`
}

type Database struct {
	// sqlite or mysql
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	URL    string `env:"DATABASE_URL" envDefault:"billing.db"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
