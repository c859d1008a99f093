// Package config loads paygate settings from PAYGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vitwit/paygate/types"
)

const prefix = "PAYGATE_"

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerEVM    = "evm"
)

var defaultRPC = map[types.Network]string{
	types.NetworkBase:        "https://mainnet.base.org",
	types.NetworkBaseSepolia: "https://sepolia.base.org",
	types.NetworkPolygon:     "https://polygon-rpc.com",
	types.NetworkPolygonAmoy: "https://rpc-amoy.polygon.technology",
	types.NetworkLocal:       "http://127.0.0.1:8545",
}

// Secret holds a credential that must never be printed.
type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}

func (s Secret) Value() string { return string(s.value) }

func (s Secret) Empty() bool { return len(s.value) == 0 }

func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}

func (s Secret) String() string { return "***REDACTED***" }

func (s Secret) GoString() string { return s.String() }

type Config struct {
	Addr        string `validate:"required"`
	Environment string `validate:"oneof=development staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	PublicURL   string `validate:"omitempty,url"`

	Network string `validate:"required"`
	RPCURL  string `validate:"omitempty,url"`

	AssetAddress string `validate:"required,eth_addr"`
	AssetName    string `validate:"required"`
	AssetVersion string `validate:"required"`

	NativeUSDRate decimal.Decimal
	Slippage      decimal.Decimal
	Methods       []types.PaymentMethod `validate:"min=1,dive,oneof=direct facilitator"`

	FacilitatorURL string `validate:"omitempty,url"`

	Ledger          string `validate:"oneof=memory sqlite evm"`
	RegistryAddress string `validate:"omitempty,eth_addr"`
	LedgerKey       Secret
	SQLitePath      string

	IPFSURL           string `validate:"omitempty,url"`
	IPFSTimeout       time.Duration
	MetadataCacheSize int `validate:"gte=0"`

	RedisURL     string `validate:"omitempty,url"`
	RedisTimeout time.Duration

	GrantTTL              time.Duration `validate:"gte=0"`
	RateLimit             float64       `validate:"gte=0"`
	RateBurst             int           `validate:"gte=0"`
	RequestTimeout        time.Duration `validate:"gt=0"`
	MaxBodyBytes          int64         `validate:"gt=0"`
	RequireSignedIdentity bool
	IdentityWindow        time.Duration `validate:"gt=0"`
}

// LoadDotEnv reads .env style files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	c := &Config{}
	var err error

	c.Addr = getEnv("ADDR", ":8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.PublicURL = strings.TrimRight(getEnv("PUBLIC_URL", ""), "/")

	c.Network = getEnv("NETWORK", string(types.NetworkBaseSepolia))
	c.RPCURL = getEnv("RPC_URL", defaultRPC[types.Network(c.Network)])
	c.AssetAddress = getEnv("ASSET_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	c.AssetName = getEnv("ASSET_NAME", "USDC")
	c.AssetVersion = getEnv("ASSET_VERSION", "2")

	if c.NativeUSDRate, err = getDecimal("NATIVE_USD_RATE", decimal.NewFromInt(3000)); err != nil {
		return nil, err
	}
	if c.Slippage, err = getDecimal("SLIPPAGE", decimal.NewFromFloat(0.30)); err != nil {
		return nil, err
	}
	for _, m := range getSlice("METHODS", []string{"facilitator", "direct"}) {
		c.Methods = append(c.Methods, types.PaymentMethod(m))
	}
	c.FacilitatorURL = getEnv("FACILITATOR_URL", "https://x402.org/facilitator")

	c.Ledger = getEnv("LEDGER", LedgerMemory)
	c.RegistryAddress = getEnv("REGISTRY_ADDRESS", "")
	c.LedgerKey = NewSecret(getEnv("LEDGER_KEY", ""))
	c.SQLitePath = getEnv("SQLITE_PATH", "paygate.db")

	c.IPFSURL = getEnv("IPFS_URL", "")
	if c.IPFSTimeout, err = getDuration("IPFS_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if c.MetadataCacheSize, err = getInt("METADATA_CACHE_SIZE", 256); err != nil {
		return nil, err
	}

	c.RedisURL = getEnv("REDIS_URL", "")
	if c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if c.GrantTTL, err = getDuration("GRANT_TTL", 0); err != nil {
		return nil, err
	}
	if c.RateLimit, err = getFloat("RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if c.RateBurst, err = getInt("RATE_BURST", 20); err != nil {
		return nil, err
	}
	if c.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 3*time.Minute); err != nil {
		return nil, err
	}
	if c.MaxBodyBytes, err = getInt64("MAX_BODY_BYTES", 64<<10); err != nil {
		return nil, err
	}
	if c.RequireSignedIdentity, err = getBool("REQUIRE_SIGNED_IDENTITY", true); err != nil {
		return nil, err
	}
	if c.IdentityWindow, err = getDuration("IDENTITY_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

var validate = validator.New()

// Validate checks field formats and the combinations the backends need.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return invalid("%v", err)
	}
	if !types.Network(c.Network).IsKnown() {
		return invalid("unsupported network %q", c.Network)
	}
	if !c.NativeUSDRate.IsPositive() {
		return invalid("%sNATIVE_USD_RATE must be positive", prefix)
	}
	if c.Slippage.IsNegative() || c.Slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("%sSLIPPAGE must be in [0,1)", prefix)
	}

	if c.HasMethod(types.MethodDirect) && c.RPCURL == "" {
		return invalid("%sRPC_URL is required for direct transfers", prefix)
	}
	if c.HasMethod(types.MethodFacilitator) && c.FacilitatorURL == "" {
		return invalid("%sFACILITATOR_URL is required for facilitator payments", prefix)
	}

	switch c.Ledger {
	case LedgerEVM:
		if c.RPCURL == "" || c.RegistryAddress == "" {
			return invalid("%sRPC_URL and %sREGISTRY_ADDRESS are required for the evm ledger", prefix, prefix)
		}
		if c.LedgerKey.Empty() {
			return invalid("%sLEDGER_KEY is required for the evm ledger", prefix)
		}
	case LedgerSQLite:
		if c.SQLitePath == "" {
			return invalid("%sSQLITE_PATH is required for the sqlite ledger", prefix)
		}
	}

	if c.Environment == "production" {
		if c.Ledger == LedgerMemory {
			return invalid("the memory ledger cannot be used in production")
		}
		if !c.RequireSignedIdentity {
			return invalid("%sREQUIRE_SIGNED_IDENTITY cannot be disabled in production", prefix)
		}
	}
	return nil
}

// HasMethod reports whether m is enabled.
func (c *Config) HasMethod(m types.PaymentMethod) bool {
	for _, have := range c.Methods {
		if have == m {
			return true
		}
	}
	return false
}

// Wipe zeroes secrets once they have been handed to their consumers.
func (c *Config) Wipe() {
	c.LedgerKey.Wipe()
}

func invalid(format string, args ...any) error {
	return types.NewError(types.KindValidation, types.ErrConfigError, format, args...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(prefix + key); ok {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s%s: %w", prefix, key, err)
	}
	return v, nil
}

func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
