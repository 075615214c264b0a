package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kjannette/token-data-aggregator/internal/ethereum"
	"github.com/kjannette/token-data-aggregator/internal/payment"
)

type Config struct {
	Port            int
	CORSAllowOrigin string

	// Provider credentials and endpoints (from .env)
	EtherscanAPIKey      string
	CMCAPIKey            string
	CoinGeckoBaseURL     string
	EtherscanBaseURL     string
	CoinMarketCapBaseURL string
	DefiLlamaBaseURL     string
	AdapterTimeout       time.Duration

	// x402 payment gate
	RequirePayment     bool
	FacilitatorAddress string
	PaymentNetwork     string
	PricingFile        string
	Pricing            map[string]payment.Price
	ReplayWindow       time.Duration

	// Redis replay store (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Database (optional snapshot history)
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string

	// Operator notifications (Slack/Discord webhook)
	WebhookURL string
	NotifyName string

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxAgeDays int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envInt("PORT", 3000),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		EtherscanAPIKey:      envStr("ETHERSCAN_API_KEY", ""),
		CMCAPIKey:            envStr("CMC_API_KEY", ""),
		CoinGeckoBaseURL:     envStr("COINGECKO_BASE_URL", ""),
		EtherscanBaseURL:     envStr("ETHERSCAN_BASE_URL", ""),
		CoinMarketCapBaseURL: envStr("COINMARKETCAP_BASE_URL", ""),
		DefiLlamaBaseURL:     envStr("DEFILLAMA_BASE_URL", ""),
		AdapterTimeout:       envDuration("ADAPTER_TIMEOUT", 8*time.Second),

		RequirePayment:     envBool("X402_REQUIRE_PAYMENT", false),
		FacilitatorAddress: envStr("X402_FACILITATOR_ADDRESS", payment.DefaultRecipient),
		PaymentNetwork:     envStr("X402_PAYMENT_NETWORK", payment.DefaultNetwork),
		PricingFile:        envStr("X402_PRICING_FILE", ""),
		ReplayWindow:       envDuration("X402_REPLAY_WINDOW", payment.DefaultReplayWindow),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		DatabaseURL: envStr("DATABASE_URL", ""),
		DBHost:      envStr("DB_HOST", "localhost"),
		DBPort:      envInt("DB_PORT", 5432),
		DBName:      envStr("DB_NAME", "token_data_aggregator"),
		DBUser:      envStr("DB_USER", ""),
		DBPassword:  envStr("DB_PASSWORD", ""),

		WebhookURL: envStr("WEBHOOK_URL", ""),
		NotifyName: envStr("NOTIFY_NAME", "TokenDataAggregator"),

		LogLevel:      envStr("LOG_LEVEL", "info"),
		LogFormat:     envStr("LOG_FORMAT", "json"),
		LogFile:       envStr("LOG_FILE", "stdout"),
		LogMaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 0),
	}

	if cfg.PricingFile != "" {
		pricing, err := LoadPricing(cfg.PricingFile)
		if err != nil {
			return nil, err
		}
		cfg.Pricing = pricing
	}

	return cfg, nil
}

type pricingFile struct {
	Pricing map[string]payment.Price `toml:"pricing"`
}

// LoadPricing reads a TOML price table:
//
//	[pricing."/api/token-data"]
//	amount = 0.025
//	currency = "USDC"
//	description = "Token data aggregation from 4 sources"
func LoadPricing(path string) (map[string]payment.Price, error) {
	var pf pricingFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return nil, fmt.Errorf("load pricing file %s: %w", path, err)
	}
	for route, p := range pf.Pricing {
		if !strings.HasPrefix(route, "/") {
			return nil, fmt.Errorf("pricing file %s: route %q must start with /", path, route)
		}
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("pricing file %s: route %s: amount must be positive", path, route)
		}
	}
	return pf.Pricing, nil
}

// PaymentConfig is the gate configuration derived from env.
func (c *Config) PaymentConfig() payment.Config {
	return payment.Config{
		RequirePayment: c.RequirePayment,
		Recipient:      c.FacilitatorAddress,
		Network:        c.PaymentNetwork,
		Pricing:        c.Pricing,
		ReplayWindow:   c.ReplayWindow,
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %d out of range", c.Port))
	}
	if c.AdapterTimeout <= 0 {
		errs = append(errs, "ADAPTER_TIMEOUT must be positive")
	}
	if c.ReplayWindow <= 0 {
		errs = append(errs, "X402_REPLAY_WINDOW must be positive")
	}
	if c.RequirePayment {
		switch {
		case c.FacilitatorAddress == "" || c.FacilitatorAddress == payment.DefaultRecipient:
			errs = append(errs, "X402_FACILITATOR_ADDRESS is required when X402_REQUIRE_PAYMENT=true")
		case c.isEVMNetwork():
			if _, err := ethereum.ChecksumAddress(c.FacilitatorAddress); err != nil {
				errs = append(errs, fmt.Sprintf("X402_FACILITATOR_ADDRESS: %v", err))
			}
		}
	} else {
		fmt.Println("[WARN] X402_REQUIRE_PAYMENT not enabled - all endpoints are free (testing mode)")
	}
	if c.EtherscanAPIKey == "" {
		fmt.Println("[WARN] ETHERSCAN_API_KEY not set - etherscan source will report not configured")
	}
	if c.CMCAPIKey == "" {
		fmt.Println("[WARN] CMC_API_KEY not set - coinmarketcap source will report not configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) isEVMNetwork() bool {
	return !strings.EqualFold(c.PaymentNetwork, "solana")
}

func (c *Config) Print() {
	fmt.Println("=== Token Data Aggregator Configuration ===")
	fmt.Printf("Port: %d\n", c.Port)
	fmt.Printf("CORS Origin: %s\n", c.CORSAllowOrigin)
	fmt.Printf("Adapter Timeout: %s\n", c.AdapterTimeout)
	fmt.Println("--------------------------------------")
	fmt.Println("Sources:")
	fmt.Printf("  CoinGecko: %s\n", boolLabel(c.CoinGeckoBaseURL != "", c.CoinGeckoBaseURL, "public API"))
	fmt.Printf("  Etherscan: %s\n", boolLabel(c.EtherscanAPIKey != "", "configured ("+maskSecret(c.EtherscanAPIKey)+")", "not configured"))
	fmt.Printf("  CoinMarketCap: %s\n", boolLabel(c.CMCAPIKey != "", "configured ("+maskSecret(c.CMCAPIKey)+")", "not configured"))
	fmt.Printf("  DefiLlama: %s\n", boolLabel(c.DefiLlamaBaseURL != "", c.DefiLlamaBaseURL, "public API"))
	fmt.Println("--------------------------------------")
	if c.RequirePayment {
		fmt.Println("════════════════════════════════════════")
		fmt.Println("  x402 PAYMENT REQUIRED")
		fmt.Println("════════════════════════════════════════")
	} else {
		fmt.Println("  x402 payment disabled (testing mode)")
	}
	fmt.Printf("Network: %s\n", c.PaymentNetwork)
	fmt.Printf("Facilitator: %s\n", truncAddr(c.FacilitatorAddress))
	fmt.Printf("Replay Window: %s\n", c.ReplayWindow)
	fmt.Printf("Pricing: %s\n", boolLabel(c.PricingFile != "", c.PricingFile, "built-in"))
	fmt.Printf("Replay Store: %s\n", boolLabel(c.RedisAddr != "", "redis "+c.RedisAddr, "in-memory"))
	fmt.Printf("Snapshot History: %s\n", boolLabel(c.DSN() != "", "postgres", "disabled"))
	fmt.Printf("Notifications: %s\n", boolLabel(c.WebhookURL != "", "webhook", "console only"))
	fmt.Println("======================================")
}

// DSN returns DATABASE_URL, or a URL assembled from the DB_* parts when a user
// is set. Empty means history is disabled.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBUser == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

// envDuration accepts Go durations ("8s", "5m") or plain milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func truncAddr(addr string) string {
	if len(addr) > 16 {
		return addr[:10] + "..." + addr[len(addr)-6:]
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
