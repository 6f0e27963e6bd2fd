package scenario

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// File is a scenario document. Actors are referenced by name and amounts are
// decimal strings in whole currency units ("0.2" is 0.2e18 wei).
type File struct {
	ChainID      uint64            `mapstructure:"chain_id"`
	MetadataHost string            `mapstructure:"metadata_host"`
	StartTime    int64             `mapstructure:"start_time"`
	OracleKey    string            `mapstructure:"oracle_key"`
	Admin        string            `mapstructure:"admin"`
	Funds        map[string]string `mapstructure:"funds"`
	Collections  []CollectionDef   `mapstructure:"collections"`
	Pools        []PoolDef         `mapstructure:"pools"`
	Steps        []Step            `mapstructure:"steps"`
}

// CollectionDef declares a collateral collection and its initial holders.
type CollectionDef struct {
	Name   string              `mapstructure:"name"`
	Symbol string              `mapstructure:"symbol"`
	Mint   map[string][]uint64 `mapstructure:"mint"`
}

// PoolDef is one CreatePool call with a single collection.
type PoolDef struct {
	Name            string        `mapstructure:"name"`
	Symbol          string        `mapstructure:"symbol"`
	Owner           string        `mapstructure:"owner"`
	Collection      string        `mapstructure:"collection"`
	MaxPrice        string        `mapstructure:"max_price"`
	LTV             string        `mapstructure:"ltv"`
	MaxLoanLength   time.Duration `mapstructure:"max_loan_length"`
	MinAnnualRate   string        `mapstructure:"min_annual_rate"`
	MaxVariableRate string        `mapstructure:"max_variable_annual_rate"`
	MaxDailyVolume  string        `mapstructure:"max_daily_volume"`
	DecayWindow     time.Duration `mapstructure:"decay_window"`
	FeeBps          uint64        `mapstructure:"fee_bps"`
	FeeCollector    string        `mapstructure:"fee_collector"`
}

// Step is one action against the engine. Expect names the error category
// (authorization, validation, state, resource) or specific error the step
// must fail with; empty means it must succeed.
type Step struct {
	Action      string        `mapstructure:"action"`
	Actor       string        `mapstructure:"actor"`
	Pool        int           `mapstructure:"pool"`
	Pools       []int         `mapstructure:"pools"`
	Amount      string        `mapstructure:"amount"`
	Price       string        `mapstructure:"price"`
	Tokens      []uint64      `mapstructure:"tokens"`
	Loans       []uint64      `mapstructure:"loans"`
	Account     string        `mapstructure:"account"`
	Recipient   string        `mapstructure:"recipient"`
	MaxRate     string        `mapstructure:"max_rate"`
	MinProceeds string        `mapstructure:"min_proceeds"`
	QuoteTTL    time.Duration `mapstructure:"quote_ttl"`
	Duration    time.Duration `mapstructure:"duration"`
	Expect      string        `mapstructure:"expect"`
}

// Load reads a scenario file in any format viper understands.
func Load(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("chain_id", uint64(1))
	v.SetDefault("metadata_host", "nft.llamalend.com")
	v.SetDefault("start_time", int64(1_700_000_000))
	v.SetDefault("admin", "admin")
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("read scenario: %w", err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("decode scenario: %w", err)
	}
	if len(f.Pools) == 0 {
		return File{}, fmt.Errorf("scenario declares no pools")
	}
	return f, nil
}
