package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config is the process configuration read from the environment at startup.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	HTTPAddr    string `env:"ARCANA_HTTP_ADDR" envDefault:":8080"`
	JWTSecret   string `env:"ARCANA_JWT_SECRET,required,notEmpty"`
	LogLevel    string `env:"ARCANA_LOG_LEVEL" envDefault:"info"`

	OTELEndpoint string `env:"ARCANA_OTEL_ENDPOINT"`

	BootstrapAdminEmail    string `env:"ARCANA_BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"ARCANA_BOOTSTRAP_ADMIN_PASSWORD"`

	Pool   Pool   `envPrefix:"ARCANA_DB_"`
	Outbox Outbox `envPrefix:"ARCANA_OUTBOX_"`
	Rules  Rules  `envPrefix:"ARCANA_RULE_"`
}

type Pool struct {
	MaxConns          int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns          int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnLifetime   time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"30m"`
	HealthCheckPeriod time.Duration `env:"HEALTH_CHECK_PERIOD" envDefault:"30s"`
}

type Outbox struct {
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"20"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
}

// Rules are the business limits enforced by the core services.
type Rules struct {
	TitleMinLen       int             `env:"TITLE_MIN_LEN" envDefault:"5"`
	TitleMaxLen       int             `env:"TITLE_MAX_LEN" envDefault:"150"`
	DescriptionMinLen int             `env:"DESCRIPTION_MIN_LEN" envDefault:"20"`
	DescriptionMaxLen int             `env:"DESCRIPTION_MAX_LEN" envDefault:"5000"`
	MaxTags           int             `env:"MAX_TAGS" envDefault:"10"`
	MaxTagLen         int             `env:"MAX_TAG_LEN" envDefault:"32"`
	MinPrice          decimal.Decimal `env:"MIN_PRICE" envDefault:"1.00"`
	MaxPrice          decimal.Decimal `env:"MAX_PRICE" envDefault:"100000.00"`
	MaxOfferMessage   int             `env:"MAX_OFFER_MESSAGE" envDefault:"1000"`
	DisputeReasonMin  int             `env:"DISPUTE_REASON_MIN" envDefault:"10"`
	DisputeReasonMax  int             `env:"DISPUTE_REASON_MAX" envDefault:"2000"`
	DisputeWindow     time.Duration   `env:"DISPUTE_WINDOW" envDefault:"168h"`
	MinWithdrawal     decimal.Decimal `env:"MIN_WITHDRAWAL" envDefault:"50.00"`
	CommissionRate    decimal.Decimal `env:"COMMISSION_RATE" envDefault:"0.15"`
}

// Load parses the environment and validates cross-field constraints.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Rules.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (r Rules) Validate() error {
	if r.TitleMinLen <= 0 || r.TitleMinLen > r.TitleMaxLen {
		return fmt.Errorf("config: invalid title length bounds %d..%d", r.TitleMinLen, r.TitleMaxLen)
	}
	if r.DescriptionMinLen <= 0 || r.DescriptionMinLen > r.DescriptionMaxLen {
		return fmt.Errorf("config: invalid description length bounds %d..%d", r.DescriptionMinLen, r.DescriptionMaxLen)
	}
	if !r.MinPrice.IsPositive() || r.MinPrice.GreaterThan(r.MaxPrice) {
		return fmt.Errorf("config: invalid price band %s..%s", r.MinPrice, r.MaxPrice)
	}
	if r.CommissionRate.IsNegative() || r.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: commission rate %s outside [0,1)", r.CommissionRate)
	}
	if !r.MinWithdrawal.IsPositive() {
		return fmt.Errorf("config: minimum withdrawal must be positive")
	}
	if r.DisputeWindow <= 0 {
		return fmt.Errorf("config: dispute window must be positive")
	}
	return nil
}

// DefaultRules returns the rules with their documented defaults, for tests
// and tools that do not read the environment.
func DefaultRules() Rules {
	return Rules{
		TitleMinLen:       5,
		TitleMaxLen:       150,
		DescriptionMinLen: 20,
		DescriptionMaxLen: 5000,
		MaxTags:           10,
		MaxTagLen:         32,
		MinPrice:          decimal.RequireFromString("1.00"),
		MaxPrice:          decimal.RequireFromString("100000.00"),
		MaxOfferMessage:   1000,
		DisputeReasonMin:  10,
		DisputeReasonMax:  2000,
		DisputeWindow:     7 * 24 * time.Hour,
		MinWithdrawal:     decimal.RequireFromString("50.00"),
		CommissionRate:    decimal.RequireFromString("0.15"),
	}
}
