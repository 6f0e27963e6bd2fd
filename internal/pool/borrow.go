package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nftLend/internal/interest"
	"nftLend/internal/lenderr"
	"nftLend/internal/model"
	"nftLend/internal/oracle"
)

// BorrowRequest pledges CollateralIDs against a signed price quote.
type BorrowRequest struct {
	Caller        common.Address
	CollateralIDs []*big.Int
	Quote         oracle.Quote
	// MaxAnnualRate caps the annual rate the borrower accepts, scaled by 1e18.
	MaxAnnualRate *big.Int
	// MinProceeds is the least total advance the borrower accepts.
	MinProceeds *big.Int
}

// BorrowResult describes a committed borrow.
type BorrowResult struct {
	LoanIDs   []uint64
	Principal *big.Int
	Proceeds  *big.Int
	Rate      *big.Int
}

type pledge struct {
	id    *big.Int
	owner common.Address
}

// Borrow opens one loan per collateral token. Collateral moves into custody,
// proceeds move to the caller, and a receipt is minted per loan. Either the
// whole batch commits or nothing changes.
func (c *Controller) Borrow(req BorrowRequest) (BorrowResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(req.CollateralIDs) == 0 {
		return BorrowResult{}, fmt.Errorf("%w: no collateral", lenderr.ErrInvalidAmount)
	}

	pledges, err := c.checkCollateral(req.Caller, req.CollateralIDs)
	if err != nil {
		return BorrowResult{}, err
	}

	now := c.now()
	if err := oracle.Verify(req.Quote, c.collection.Address(), c.cfg.ChainID, c.cfg.Oracle, now); err != nil {
		return BorrowResult{}, err
	}
	price := req.Quote.Price
	if price.Sign() == 0 || price.Cmp(c.maxPrice) > 0 {
		return BorrowResult{}, fmt.Errorf("%w: price %s, max %s", lenderr.ErrPriceCeilingExceeded, price, c.maxPrice)
	}

	principal := new(big.Int).Mul(price, c.cfg.LTV)
	principal.Quo(principal, interest.WAD)
	proceeds := new(big.Int).Mul(principal, big.NewInt(int64(len(pledges))))

	rate := c.cfg.Interest.RatePerSecond(c.rate, proceeds, now)
	annual := new(big.Int).Mul(rate, big.NewInt(interest.SecondsPerYear))
	if req.MaxAnnualRate != nil && annual.Cmp(req.MaxAnnualRate) > 0 {
		return BorrowResult{}, fmt.Errorf("%w: annual rate %s above %s", lenderr.ErrGuardViolated, annual, req.MaxAnnualRate)
	}
	if req.MinProceeds != nil && proceeds.Cmp(req.MinProceeds) < 0 {
		return BorrowResult{}, fmt.Errorf("%w: proceeds %s below %s", lenderr.ErrGuardViolated, proceeds, req.MinProceeds)
	}
	if proceeds.Cmp(c.balance) > 0 {
		return BorrowResult{}, fmt.Errorf("%w: need %s, balance %s", lenderr.ErrInsufficientLiquidity, proceeds, c.balance)
	}

	moved, err := c.takeCustody(pledges)
	if err != nil {
		c.releaseCustody(moved)
		return BorrowResult{}, err
	}
	if err := c.payer.Pay(req.Caller, proceeds); err != nil {
		c.releaseCustody(moved)
		return BorrowResult{}, fmt.Errorf("pay proceeds: %w", err)
	}

	result := BorrowResult{
		LoanIDs:   make([]uint64, 0, len(pledges)),
		Principal: principal,
		Proceeds:  proceeds,
		Rate:      rate,
	}
	for _, p := range pledges {
		loanID, err := c.loans.Open(req.Caller, p.id, new(big.Int).Set(principal), new(big.Int).Set(rate), now)
		if err != nil {
			// Custody was checked under the same lock.
			panic(fmt.Sprintf("pool: ledger rejected checked collateral: %v", err))
		}
		if err := c.receipts.mint(req.Caller, loanID); err != nil {
			panic(fmt.Sprintf("pool: receipt %d already minted: %v", loanID, err))
		}
		result.LoanIDs = append(result.LoanIDs, loanID)
	}
	c.balance.Sub(c.balance, proceeds)
	c.cfg.Interest.Record(c.rate, proceeds, now)

	annualText := interest.FormatWad(annual, 6)
	for i, p := range pledges {
		c.emit(model.EventLoanCreated, now, model.LoanCreatedData{
			LoanID:       result.LoanIDs[i],
			CollateralID: p.id.String(),
			Borrower:     req.Caller.Hex(),
			Principal:    principal.String(),
			Rate:         rate.String(),
			AnnualRate:   annualText,
			StartTime:    now,
		})
	}
	c.logger.Info("borrow",
		zap.String("borrower", req.Caller.Hex()),
		zap.Int("loans", len(pledges)),
		zap.String("proceeds", proceeds.String()),
		zap.String("annual_rate", annualText),
	)
	return result, nil
}

// checkCollateral validates custody before ownership so a token already held
// by the pool reports ErrDuplicateCollateral.
func (c *Controller) checkCollateral(caller common.Address, ids []*big.Int) ([]pledge, error) {
	seen := make(map[string]struct{}, len(ids))
	pledges := make([]pledge, 0, len(ids))
	for _, id := range ids {
		if id == nil || id.Sign() < 0 {
			return nil, fmt.Errorf("%w: invalid collateral id", lenderr.ErrInvalidAmount)
		}
		key := id.String()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: token %s pledged twice", lenderr.ErrDuplicateCollateral, key)
		}
		seen[key] = struct{}{}
		if c.loans.HoldsCollateral(id) {
			return nil, fmt.Errorf("%w: token %s", lenderr.ErrDuplicateCollateral, key)
		}

		ok, err := c.collection.IsApprovedOrOwner(caller, id)
		if err != nil {
			return nil, fmt.Errorf("%w: token %s: %v", lenderr.ErrNotOwner, key, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: token %s", lenderr.ErrNotOwner, key)
		}
		owner, err := c.collection.OwnerOf(id)
		if err != nil {
			return nil, fmt.Errorf("%w: token %s: %v", lenderr.ErrNotOwner, key, err)
		}
		pledges = append(pledges, pledge{id: new(big.Int).Set(id), owner: owner})
	}
	return pledges, nil
}

// takeCustody moves pledges into the pool and returns those it moved.
func (c *Controller) takeCustody(pledges []pledge) ([]pledge, error) {
	moved := make([]pledge, 0, len(pledges))
	for _, p := range pledges {
		if err := c.collection.TransferFrom(c.cfg.Address, p.owner, c.cfg.Address, p.id); err != nil {
			return moved, fmt.Errorf("take custody of %s: %w", p.id, err)
		}
		moved = append(moved, p)
	}
	return moved, nil
}

func (c *Controller) releaseCustody(moved []pledge) {
	for i := len(moved) - 1; i >= 0; i-- {
		p := moved[i]
		if err := c.collection.TransferFrom(c.cfg.Address, c.cfg.Address, p.owner, p.id); err != nil {
			c.logger.Error("rollback custody", zap.String("token", p.id.String()), zap.Error(err))
		}
	}
}
