package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LENDPOOL"

// newViper merges defaults, environment variables, flags and an optional
// config file. Without an explicit file, ./config.* is read when present.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario  string
	Journal   string
	PGDSN     string
	RunName   string
	BatchSize int
	LogLevel  string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"journal":    "./data/pool_events.jsonl",
		"batch-size": 100,
		"run-name":   "simulate",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		Scenario:  v.GetString("scenario"),
		Journal:   v.GetString("journal"),
		PGDSN:     v.GetString("pg-dsn"),
		RunName:   v.GetString("run-name"),
		BatchSize: v.GetInt("batch-size"),
		LogLevel:  v.GetString("log-level"),
	}
	if cfg.Scenario == "" {
		return SimulateConfig{}, fmt.Errorf("scenario file is required")
	}
	if cfg.BatchSize <= 0 {
		return SimulateConfig{}, fmt.Errorf("batch-size must be positive")
	}
	return cfg, nil
}

// QuoteConfig holds configuration for the sign-quote and verify-quote commands.
type QuoteConfig struct {
	RPCURL     string
	OracleKey  string
	Oracle     string
	Collection string
	Price      string
	Deadline   uint64
	TTL        time.Duration
	ChainID    uint64
	Signature  string
	Now        uint64
	LogLevel   string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"ttl":      20 * time.Minute,
		"chain-id": uint64(1),
	})
	if err != nil {
		return QuoteConfig{}, err
	}

	cfg := QuoteConfig{
		RPCURL:     v.GetString("rpc"),
		OracleKey:  strings.TrimPrefix(v.GetString("oracle-key"), "0x"),
		Oracle:     v.GetString("oracle"),
		Collection: v.GetString("collection"),
		Price:      v.GetString("price"),
		Deadline:   v.GetUint64("deadline"),
		TTL:        v.GetDuration("ttl"),
		ChainID:    v.GetUint64("chain-id"),
		Signature:  v.GetString("signature"),
		Now:        v.GetUint64("now"),
		LogLevel:   v.GetString("log-level"),
	}
	if cfg.Collection == "" {
		return QuoteConfig{}, fmt.Errorf("collection is required")
	}
	if cfg.Price == "" {
		return QuoteConfig{}, fmt.Errorf("price is required")
	}
	return cfg, nil
}

// NFTsConfig holds configuration for the list-nfts command.
type NFTsConfig struct {
	RPCURL       string
	Collection   string
	Owner        string
	From         uint64
	To           uint64
	PageSize     uint64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadNFTs merges config file, environment variables, and flags into NFTsConfig.
func LoadNFTs(cfgFile string, flags *pflag.FlagSet) (NFTsConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"to":            uint64(5000),
		"page-size":     uint64(500),
		"max-retries":   3,
		"retry-backoff": 200 * time.Millisecond,
	})
	if err != nil {
		return NFTsConfig{}, err
	}

	cfg := NFTsConfig{
		RPCURL:       v.GetString("rpc"),
		Collection:   v.GetString("collection"),
		Owner:        v.GetString("owner"),
		From:         v.GetUint64("from"),
		To:           v.GetUint64("to"),
		PageSize:     v.GetUint64("page-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.RPCURL == "" {
		return NFTsConfig{}, fmt.Errorf("rpc url is required")
	}
	if cfg.Collection == "" || cfg.Owner == "" {
		return NFTsConfig{}, fmt.Errorf("collection and owner are required")
	}
	if cfg.To <= cfg.From {
		return NFTsConfig{}, fmt.Errorf("to must be greater than from")
	}
	if cfg.PageSize == 0 {
		return NFTsConfig{}, fmt.Errorf("page-size must be positive")
	}
	return cfg, nil
}

// ActivityConfig holds configuration for the activity command.
type ActivityConfig struct {
	Input         string
	Window        time.Duration
	PGDSN         string
	BatchSize     int
	StateFile     string
	StateName     string
	RecomputeFrom uint64
	LogLevel      string
}

// LoadActivity merges config file, environment variables, and flags into ActivityConfig.
func LoadActivity(cfgFile string, flags *pflag.FlagSet) (ActivityConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"in":         "./data/pool_events.jsonl",
		"window":     time.Hour,
		"batch-size": 1000,
	})
	if err != nil {
		return ActivityConfig{}, err
	}

	recompute, err := ParseTimestamp(v.GetString("recompute-from"))
	if err != nil {
		return ActivityConfig{}, fmt.Errorf("parse recompute-from: %w", err)
	}
	cfg := ActivityConfig{
		Input:         v.GetString("in"),
		Window:        v.GetDuration("window"),
		PGDSN:         v.GetString("pg-dsn"),
		BatchSize:     v.GetInt("batch-size"),
		StateFile:     v.GetString("state-file"),
		RecomputeFrom: recompute,
		LogLevel:      v.GetString("log-level"),
	}
	if cfg.Input == "" {
		return ActivityConfig{}, fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return ActivityConfig{}, fmt.Errorf("pg dsn is required")
	}
	if cfg.Window < time.Second {
		return ActivityConfig{}, fmt.Errorf("window must be at least 1s")
	}
	if cfg.BatchSize <= 0 {
		return ActivityConfig{}, fmt.Errorf("batch-size must be positive")
	}
	cfg.StateName = fmt.Sprintf("activity:%d", int64(cfg.Window.Seconds()))
	return cfg, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, nil
	}

	if isNumeric(input) {
		return strconv.ParseUint(input, 10, 64)
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	if tm.Unix() < 0 {
		return 0, fmt.Errorf("timestamp before epoch: %s", input)
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
