package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Sepolia deployment of the DeLex service and its mock tokens.
const (
	DefaultChainID  uint64 = 11155111
	DefaultExchange        = "0x27cc171d68B20BBE3E81B009F337b17b06196f82"
)

var defaultTokens = []string{
	"TKNA=0x14070c3D2567938F797De6F7ed21a58990586080",
	"TKNB=0xDf7d6E11E069Bc19CDDB4Ad008aA6DC8607f40f9",
}

var defaultRPCURLs = []string{
	"https://1rpc.io/sepolia",
	"https://rpc.sepolia.org",
	"https://rpc2.sepolia.org",
	"https://sepolia.gateway.tenderly.co",
	"https://ethereum-sepolia.publicnode.com",
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL           string
	RPCFallback      []string
	ChainID          uint64
	ChainName        string
	Explorer         string
	Exchange         string
	Tokens           []string
	PrivateKey       string
	Keystore         string
	KeystorePassword string
	CallTimeout      time.Duration
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	MaxConcurrency   int
	RPCRate          float64
	RPCBurst         int
	MaxRetries       int
	RetryBackoff     time.Duration
	SlippageBps      uint64
	Out              string
	PGDSN            string
	StateFile        string
	MetricsAddr      string
	LogLevel         string
}

// RPCURLs returns the primary RPC URL followed by the fallbacks.
func (c Config) RPCURLs() []string {
	urls := make([]string, 0, len(c.RPCFallback)+1)
	if c.RPCURL != "" {
		urls = append(urls, c.RPCURL)
	}
	for _, u := range c.RPCFallback {
		if u != c.RPCURL {
			urls = append(urls, u)
		}
	}
	return urls
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DELEX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc-fallback", defaultRPCURLs)
	v.SetDefault("chain-id", DefaultChainID)
	v.SetDefault("chain-name", "Sepolia Test Network")
	v.SetDefault("explorer", "https://sepolia.etherscan.io/")
	v.SetDefault("exchange", DefaultExchange)
	v.SetDefault("tokens", defaultTokens)
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("confirm-timeout", 3*time.Minute)
	v.SetDefault("poll-interval", 15*time.Second)
	v.SetDefault("max-concurrency", 8)
	v.SetDefault("rpc-rate", 20.0)
	v.SetDefault("rpc-burst", 10)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("slippage-bps", uint64(500))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		RPCFallback:      getStringSlice(v, "rpc-fallback"),
		ChainID:          v.GetUint64("chain-id"),
		ChainName:        v.GetString("chain-name"),
		Explorer:         v.GetString("explorer"),
		Exchange:         v.GetString("exchange"),
		Tokens:           getStringSlice(v, "tokens"),
		PrivateKey:       v.GetString("private-key"),
		Keystore:         v.GetString("keystore"),
		KeystorePassword: v.GetString("keystore-password"),
		CallTimeout:      v.GetDuration("call-timeout"),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		PollInterval:     v.GetDuration("poll-interval"),
		MaxConcurrency:   v.GetInt("max-concurrency"),
		RPCRate:          v.GetFloat64("rpc-rate"),
		RPCBurst:         v.GetInt("rpc-burst"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		SlippageBps:      v.GetUint64("slippage-bps"),
		Out:              v.GetString("out"),
		PGDSN:            v.GetString("pg-dsn"),
		StateFile:        v.GetString("state-file"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain id is required")
	}
	if len(c.RPCURLs()) == 0 {
		return fmt.Errorf("rpc url is required")
	}
	if c.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage-bps must be below 10000, got %d", c.SlippageBps)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max-concurrency must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call-timeout must be positive")
	}
	if _, err := ParseAddress(c.Exchange); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	if _, err := ParseTokens(c.Tokens); err != nil {
		return err
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
