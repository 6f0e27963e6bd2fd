package activity

import (
	"encoding/json"
	"fmt"
	"math/big"

	"nftLend/internal/model"
)

// Position is the running liquidity picture of one pool. It is only complete
// when the journal was replayed from its first event.
type Position struct {
	Balance     *big.Int
	Outstanding *big.Int
}

func newPosition() *Position {
	return &Position{Balance: big.NewInt(0), Outstanding: big.NewInt(0)}
}

// Accumulator holds activity totals for a pool window.
type Accumulator struct {
	ChainID             uint64
	PoolAddress         string
	WindowStart         uint64
	WindowEnd           uint64
	EventCount          uint64
	Deposited           *big.Int
	Withdrawn           *big.Int
	Borrowed            *big.Int
	Repaid              *big.Int
	Interest            *big.Int
	Fees                *big.Int
	LiquidatedPrincipal *big.Int
	LoansOpened         uint64
	LoansRepaid         uint64
	LoansLiquidated     uint64
	LastTS              uint64

	position *Position
}

func NewAccumulator(record model.PoolEventRecord, windowStart, windowEnd uint64, position *Position) *Accumulator {
	return &Accumulator{
		ChainID:             record.ChainID,
		PoolAddress:         record.Pool,
		WindowStart:         windowStart,
		WindowEnd:           windowEnd,
		Deposited:           big.NewInt(0),
		Withdrawn:           big.NewInt(0),
		Borrowed:            big.NewInt(0),
		Repaid:              big.NewInt(0),
		Interest:            big.NewInt(0),
		Fees:                big.NewInt(0),
		LiquidatedPrincipal: big.NewInt(0),
		LastTS:              record.Timestamp,
		position:            position,
	}
}

func (a *Accumulator) AddEvent(record model.PoolEventRecord) error {
	switch record.EventName {
	case model.EventDeposit, model.EventWithdraw:
		var data model.LiquidityData
		if err := json.Unmarshal(record.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", record.EventName, err)
		}
		amount, err := parseBigInt(data.Amount)
		if err != nil {
			return err
		}
		balance, err := parseBigInt(data.Balance)
		if err != nil {
			return err
		}
		if record.EventName == model.EventDeposit {
			a.Deposited.Add(a.Deposited, amount)
		} else {
			a.Withdrawn.Add(a.Withdrawn, amount)
		}
		if a.position != nil {
			a.position.Balance.Set(balance)
		}
	case model.EventLoanCreated:
		var data model.LoanCreatedData
		if err := json.Unmarshal(record.Data, &data); err != nil {
			return fmt.Errorf("decode loan created: %w", err)
		}
		principal, err := parseBigInt(data.Principal)
		if err != nil {
			return err
		}
		a.Borrowed.Add(a.Borrowed, principal)
		a.LoansOpened++
		if a.position != nil {
			a.position.Balance.Sub(a.position.Balance, principal)
			a.position.Outstanding.Add(a.position.Outstanding, principal)
		}
	case model.EventLoanRepaid:
		var data model.LoanRepaidData
		if err := json.Unmarshal(record.Data, &data); err != nil {
			return fmt.Errorf("decode loan repaid: %w", err)
		}
		principal, err := parseBigInt(data.Principal)
		if err != nil {
			return err
		}
		total, err := parseBigInt(data.TotalRepay)
		if err != nil {
			return err
		}
		fee, err := parseBigInt(data.Fee)
		if err != nil {
			return err
		}
		a.Repaid.Add(a.Repaid, total)
		a.Interest.Add(a.Interest, new(big.Int).Sub(total, principal))
		a.Fees.Add(a.Fees, fee)
		a.LoansRepaid++
		if a.position != nil {
			a.position.Balance.Add(a.position.Balance, new(big.Int).Sub(total, fee))
			a.position.Outstanding.Sub(a.position.Outstanding, principal)
		}
	case model.EventLoanLiquidated:
		var data model.LoanLiquidatedData
		if err := json.Unmarshal(record.Data, &data); err != nil {
			return fmt.Errorf("decode loan liquidated: %w", err)
		}
		principal, err := parseBigInt(data.Principal)
		if err != nil {
			return err
		}
		a.LiquidatedPrincipal.Add(a.LiquidatedPrincipal, principal)
		a.LoansLiquidated++
		if a.position != nil {
			a.position.Outstanding.Sub(a.position.Outstanding, principal)
		}
	}

	a.EventCount++
	if record.Timestamp > a.LastTS {
		a.LastTS = record.Timestamp
	}
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
