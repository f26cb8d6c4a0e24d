package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"warungpos/terminal/internal/promo"
)

// Config carries process-level knobs from the environment. Commercial
// settings (branch, currency, tax, promotions) live in the yaml profile.
type Config struct {
	Port                 string
	LedgerBaseURL        string
	LedgerTimeoutSeconds int
	QueuePath            string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ProfilePath          string
	TerminalNode         int64
	RatesTTLSeconds      int
	ProbeIntervalSeconds int
	BackoffBaseMS        int
	BackoffCapSeconds    int
	KeepSyncedHours      int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	node, err := strconv.ParseInt(getEnv("TERMINAL_NODE", "1"), 10, 64)
	if err != nil || node < 0 {
		node = 1
	}

	cfg := Config{
		Port:                 getEnv("PORT", "7373"),
		LedgerBaseURL:        getEnv("LEDGER_BASE_URL", "http://127.0.0.1:8000"),
		LedgerTimeoutSeconds: intEnv("LEDGER_TIMEOUT_SECONDS", 10),
		QueuePath:            getEnv("QUEUE_PATH", "pending_sales.db"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		ProfilePath:          getEnv("PROFILE_PATH", "terminal.yaml"),
		TerminalNode:         node,
		RatesTTLSeconds:      intEnv("RATES_TTL_SECONDS", 300),
		ProbeIntervalSeconds: intEnv("PROBE_INTERVAL_SECONDS", 15),
		BackoffBaseMS:        intEnv("SYNC_BACKOFF_BASE_MS", 1000),
		BackoffCapSeconds:    intEnv("SYNC_BACKOFF_CAP_SECONDS", 120),
		KeepSyncedHours:      intEnv("KEEP_SYNCED_HOURS", 72),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutSeconds) * time.Second
}

func (c Config) RatesTTL() time.Duration {
	return time.Duration(c.RatesTTLSeconds) * time.Second
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

func (c Config) KeepSynced() time.Duration {
	return time.Duration(c.KeepSyncedHours) * time.Hour
}

// Profile is the per-terminal commercial configuration, deployed as a yaml
// file next to the binary. Amounts are plain numbers in the file and become
// decimals at the boundary.
type Profile struct {
	BranchID     string        `yaml:"branch_id"`
	BaseCurrency string        `yaml:"base_currency"`
	Currency     string        `yaml:"currency"`
	TaxRate      float64       `yaml:"tax_rate"`
	Promotions   []ProfileRule `yaml:"promotions"`
}

type ProfileRule struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	MinSubtotal float64 `yaml:"min_subtotal"`
	Percent     float64 `yaml:"percent"`
	Flat        float64 `yaml:"flat"`
	Active      bool    `yaml:"active"`
}

// LoadProfile reads the profile at path. A missing file yields the default
// profile so a bare terminal still boots.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			p := defaultProfile()
			return &p, nil
		}
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	p.applyDefaults()
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.BranchID == "" {
		p.BranchID = "branch-1"
	}
	if p.BaseCurrency == "" {
		p.BaseCurrency = "USD"
	}
	if p.Currency == "" {
		p.Currency = p.BaseCurrency
	}
}

func (p *Profile) TaxRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(p.TaxRate)
}

// Rules converts the profile promotions into resolver rules.
func (p *Profile) Rules() []promo.Rule {
	rules := make([]promo.Rule, 0, len(p.Promotions))
	for _, r := range p.Promotions {
		rules = append(rules, promo.Rule{
			ID:          r.ID,
			Name:        r.Name,
			Type:        r.Type,
			MinSubtotal: decimal.NewFromFloat(r.MinSubtotal),
			Percent:     decimal.NewFromFloat(r.Percent),
			Flat:        decimal.NewFromFloat(r.Flat),
			Active:      r.Active,
		})
	}
	return rules
}

func defaultProfile() Profile {
	p := Profile{}
	p.applyDefaults()
	return p
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func intEnv(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
