package pool

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nftLend/internal/collection"
	"nftLend/internal/currency"
	"nftLend/internal/interest"
	"nftLend/internal/model"
)

const (
	maxFeeBps = 10_000
	// MaxLoanLengthLimit caps the loan term at 100 years so that start plus
	// term stays far from uint64 overflow.
	MaxLoanLengthLimit = 100 * 365 * 24 * 3600
)

// Config is the immutable configuration of one pool.
type Config struct {
	Address common.Address
	Factory common.Address
	Owner   common.Address
	Oracle  common.Address
	ChainID uint64
	Name    string
	Symbol  string
	// MaxPrice is the initial price ceiling. Zero disables borrowing.
	MaxPrice      *big.Int
	MaxLoanLength uint64
	// LTV is the advanced fraction of the quoted price, scaled by 1e18.
	LTV      *big.Int
	Interest interest.Model
	// FeeBps is the share of repaid interest accrued for FeeCollector.
	FeeBps       uint64
	FeeCollector common.Address
	MetadataHost string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("pool address is required")
	}
	if c.Owner == (common.Address{}) {
		return fmt.Errorf("owner is required")
	}
	if c.Oracle == (common.Address{}) {
		return fmt.Errorf("oracle is required")
	}
	if c.MaxPrice == nil || c.MaxPrice.Sign() < 0 {
		return fmt.Errorf("max price must be non-negative")
	}
	if c.MaxLoanLength == 0 {
		return fmt.Errorf("max loan length must be positive")
	}
	if c.MaxLoanLength > MaxLoanLengthLimit {
		return fmt.Errorf("max loan length %d above %d", c.MaxLoanLength, uint64(MaxLoanLengthLimit))
	}
	if c.LTV == nil || c.LTV.Sign() <= 0 || c.LTV.Cmp(interest.WAD) > 0 {
		return fmt.Errorf("ltv must be in (0, 1e18]")
	}
	if err := c.Interest.Validate(); err != nil {
		return fmt.Errorf("interest model: %w", err)
	}
	if c.FeeBps > maxFeeBps {
		return fmt.Errorf("fee bps %d above %d", c.FeeBps, maxFeeBps)
	}
	if c.FeeBps > 0 && c.FeeCollector == (common.Address{}) {
		return fmt.Errorf("fee collector is required when fee bps is set")
	}
	if strings.TrimSpace(c.MetadataHost) == "" {
		return fmt.Errorf("metadata host is required")
	}
	return nil
}

// Clock supplies the caller-observed current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// EventSink receives events after the operation that produced them commits.
type EventSink interface {
	Emit(event model.PoolEvent)
}

// Deps are the collaborators of a pool.
type Deps struct {
	Collection collection.Collection
	Payer      currency.Payer
	Clock      Clock
	Events     EventSink
	Logger     *zap.Logger
}
