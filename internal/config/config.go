package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	CONFIG_TON_TESTNET_URL string = "https://ton-blockchain.github.io/testnet-global.config.json"
	CONFIG_TON_MAINNET_URL string = "https://ton.org/global.config.json"
)

const (
	defaultIntentTTL        = time.Hour
	defaultMinConfirmations = 1
	defaultNotifyAttempts   = 4
	defaultSettleAttempts   = 5
	defaultHTTPAddr         = ":8080"
	defaultPollSpec         = "@every 15s"
	defaultIntegritySpec    = "@every 10m"
	defaultReferralRates    = "0.15,0.25"
)

var log = InitLogger()

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type TonConfig struct {
	WalletAddress    string
	Network          string
	MinConfirmations int
}

// GlobalConfigURL returns the liteserver config for the configured network.
func (c TonConfig) GlobalConfigURL() string {
	if c.Network == "testnet" {
		return CONFIG_TON_TESTNET_URL
	}
	return CONFIG_TON_MAINNET_URL
}

type ReferralConfig struct {
	// RatesBps holds the commission rate per depth in basis points; index 0 is depth 1.
	RatesBps []int64
	// InfluencerBps overrides the rate paid to a referrer holding the given role.
	InfluencerBps map[int]int64
}

func (c ReferralConfig) MaxDepth() int {
	return len(c.RatesBps)
}

type Config struct {
	Postgres          *PostgresConfig
	RedisURL          string
	BotToken          string
	BotName           string
	AdminIds          []int64
	Ton               TonConfig
	Referral          ReferralConfig
	IntentTTL         time.Duration
	NotifyMaxAttempts int
	SettleMaxAttempts int
	HTTPAddr          string
	AdminToken        string
	ManifestPath      string
	PollSpec          string
	IntegritySpec     string
	SnowflakeNode     int64
}

func InitConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Error("Error loading .env file")
	}

	cfg := &Config{
		Postgres: LoadPostgresConfig(),
		RedisURL: os.Getenv("REDIS_URL"),
		BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		BotName:  os.Getenv("TELEGRAM_BOT_NAME"),
		Ton: TonConfig{
			WalletAddress:    os.Getenv("TON_WALLET_ADDRESS"),
			Network:          envOr("TON_NETWORK", "mainnet"),
			MinConfirmations: envInt("TON_MIN_CONFIRMATIONS", defaultMinConfirmations),
		},
		IntentTTL:         envDuration("INTENT_TTL", defaultIntentTTL),
		NotifyMaxAttempts: envInt("NOTIFY_MAX_ATTEMPTS", defaultNotifyAttempts),
		SettleMaxAttempts: envInt("SETTLE_MAX_ATTEMPTS", defaultSettleAttempts),
		HTTPAddr:          envOr("HTTP_ADDR", defaultHTTPAddr),
		AdminToken:        os.Getenv("ADMIN_API_TOKEN"),
		ManifestPath:      envOr("TONCONNECT_MANIFEST", "tonconnect-manifest.json"),
		PollSpec:          envOr("POLL_SPEC", defaultPollSpec),
		IntegritySpec:     envOr("INTEGRITY_SPEC", defaultIntegritySpec),
		SnowflakeNode:     int64(envInt("SNOWFLAKE_NODE", 1)),
	}

	cfg.AdminIds, err = ParseIds(os.Getenv("ADMIN_USER_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_USER_IDS: %w", err)
	}

	rates, err := ParseRates(envOr("REFERRAL_RATES", defaultReferralRates))
	if err != nil {
		return nil, fmt.Errorf("REFERRAL_RATES: %w", err)
	}
	cfg.Referral.RatesBps = rates

	cfg.Referral.InfluencerBps, err = ParseRoleRates(os.Getenv("INFLUENCER_RATES"))
	if err != nil {
		return nil, fmt.Errorf("INFLUENCER_RATES: %w", err)
	}

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_API_TOKEN is not set, admin API is unauthenticated")
	}

	if cfg.Ton.WalletAddress == "" {
		log.Warn("TON_WALLET_ADDRESS is not set, TON checkout is disabled")
	}

	return cfg, nil
}

func LoadPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		DBName:   os.Getenv("DB_NAME"),
	}
}

// ParseRates turns "0.15,0.25" into basis points per depth.
func ParseRates(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	res := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		bps, err := rateToBps(p)
		if err != nil {
			return nil, err
		}
		res = append(res, bps)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no referral rates configured")
	}
	return res, nil
}

// ParseRoleRates parses "1:0.15,2:0.25" into role → basis points.
func ParseRoleRates(s string) (map[int]int64, error) {
	res := make(map[int]int64)
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		role, rate, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("invalid role rate %q", p)
		}
		r, err := strconv.Atoi(strings.TrimSpace(role))
		if err != nil {
			return nil, fmt.Errorf("invalid role %q: %w", role, err)
		}
		bps, err := rateToBps(strings.TrimSpace(rate))
		if err != nil {
			return nil, err
		}
		res[r] = bps
	}
	return res, nil
}

func ParseIds(s string) ([]int64, error) {
	var res []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, nil
}

func rateToBps(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("rate %q out of range [0,1]", s)
	}
	bps := d.Shift(4)
	if !bps.IsInteger() {
		return 0, fmt.Errorf("rate %q is finer than one basis point", s)
	}
	return bps.IntPart(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Errorf("Error parsing %s, using %d", key, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Errorf("Error parsing %s, using %v", key, def)
		return def
	}
	return d
}
