package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nftLend/internal/interest"
	"nftLend/internal/ledger"
	"nftLend/internal/lenderr"
	"nftLend/internal/model"
)

const bpsDenominator = 10_000

// RepayResult describes a committed repayment.
type RepayResult struct {
	Total  *big.Int
	Fee    *big.Int
	Refund *big.Int
}

type repayment struct {
	loan  ledger.Loan
	total *big.Int
	fee   *big.Int
}

func (c *Controller) owed(loan ledger.Loan, now uint64) *big.Int {
	var elapsed uint64
	if now > loan.StartTime {
		elapsed = now - loan.StartTime
	}
	return interest.Repayment(loan.Principal, loan.Rate, elapsed)
}

func (c *Controller) fee(loan ledger.Loan, total *big.Int) *big.Int {
	if c.cfg.FeeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Sub(total, loan.Principal)
	fee.Mul(fee, new(big.Int).SetUint64(c.cfg.FeeBps))
	return fee.Quo(fee, big.NewInt(bpsDenominator))
}

// QuoteRepayment is what Repay would charge for loanID right now.
func (c *Controller) QuoteRepayment(loanID uint64) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	loan, err := c.loans.Get(loanID)
	if err != nil {
		return nil, err
	}
	return c.owed(loan, c.now()), nil
}

// Repay closes loanIDs for the receipt holder. payment is the value the caller
// attached; anything above the total owed is refunded. The balance is
// credited with the total minus the fee share, which accrues for the fee
// collector.
func (c *Controller) Repay(caller common.Address, loanIDs []uint64, payment *big.Int) (RepayResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(loanIDs) == 0 {
		return RepayResult{}, fmt.Errorf("%w: no loans", lenderr.ErrInvalidAmount)
	}
	if payment == nil || payment.Sign() < 0 {
		return RepayResult{}, lenderr.ErrInvalidAmount
	}

	now := c.now()
	seen := make(map[uint64]struct{}, len(loanIDs))
	batch := make([]repayment, 0, len(loanIDs))
	total := big.NewInt(0)
	fees := big.NewInt(0)
	for _, id := range loanIDs {
		loan, err := c.loans.Get(id)
		if err != nil {
			return RepayResult{}, err
		}
		holder, err := c.receipts.OwnerOf(new(big.Int).SetUint64(id))
		if err != nil || holder != caller {
			return RepayResult{}, fmt.Errorf("%w: receipt %d", lenderr.ErrNotOwner, id)
		}
		if _, dup := seen[id]; dup {
			return RepayResult{}, fmt.Errorf("%w: %d", lenderr.ErrDuplicateLoan, id)
		}
		seen[id] = struct{}{}

		owed := c.owed(loan, now)
		fee := c.fee(loan, owed)
		total.Add(total, owed)
		fees.Add(fees, fee)
		batch = append(batch, repayment{loan: loan, total: owed, fee: fee})
	}
	if payment.Cmp(total) < 0 {
		return RepayResult{}, fmt.Errorf("%w: owed %s, paid %s", lenderr.ErrInsufficientPayment, total, payment)
	}

	returned := make([]ledger.Loan, 0, len(batch))
	for _, r := range batch {
		if err := c.collection.TransferFrom(c.cfg.Address, c.cfg.Address, caller, r.loan.CollateralID); err != nil {
			c.reclaim(caller, returned)
			return RepayResult{}, fmt.Errorf("return collateral %s: %w", r.loan.CollateralID, err)
		}
		returned = append(returned, r.loan)
	}
	refund := new(big.Int).Sub(payment, total)
	if refund.Sign() > 0 {
		if err := c.payer.Pay(caller, refund); err != nil {
			c.reclaim(caller, returned)
			return RepayResult{}, fmt.Errorf("refund excess: %w", err)
		}
	}

	for _, r := range batch {
		if _, err := c.loans.Close(r.loan.ID); err != nil {
			panic(fmt.Sprintf("pool: ledger lost loan %d: %v", r.loan.ID, err))
		}
		if err := c.receipts.burn(r.loan.ID); err != nil {
			panic(fmt.Sprintf("pool: receipt %d missing: %v", r.loan.ID, err))
		}
	}
	c.balance.Add(c.balance, new(big.Int).Sub(total, fees))
	c.fees.Add(c.fees, fees)

	for _, r := range batch {
		c.emit(model.EventLoanRepaid, now, model.LoanRepaidData{
			LoanID:       r.loan.ID,
			CollateralID: r.loan.CollateralID.String(),
			Payer:        caller.Hex(),
			Principal:    r.loan.Principal.String(),
			TotalRepay:   r.total.String(),
			Fee:          r.fee.String(),
		})
	}
	c.logger.Info("repay",
		zap.String("payer", caller.Hex()),
		zap.Int("loans", len(batch)),
		zap.String("total", total.String()),
		zap.String("fee", fees.String()),
		zap.String("refund", refund.String()),
	)
	return RepayResult{Total: total, Fee: fees, Refund: refund}, nil
}

// reclaim pulls returned collateral back into custody. The caller owns it at
// this point, so the transfer is made with the caller as operator.
func (c *Controller) reclaim(caller common.Address, returned []ledger.Loan) {
	for i := len(returned) - 1; i >= 0; i-- {
		id := returned[i].CollateralID
		if err := c.collection.TransferFrom(caller, caller, c.cfg.Address, id); err != nil {
			c.logger.Error("rollback collateral return", zap.String("token", id.String()), zap.Error(err))
		}
	}
}

// Liquidate hands the collateral of an expired loan to recipient. The pool
// collects nothing; the collateral is the liquidator's compensation.
func (c *Controller) Liquidate(caller common.Address, loanID uint64, recipient common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.liquidators[caller]; !ok && caller != c.cfg.Owner {
		return fmt.Errorf("%w: %s cannot liquidate", lenderr.ErrUnauthorized, caller.Hex())
	}
	if recipient == (common.Address{}) {
		return lenderr.ErrInvalidRecipient
	}
	loan, err := c.loans.Get(loanID)
	if err != nil {
		return err
	}
	now := c.now()
	if now <= loan.StartTime || now-loan.StartTime <= c.cfg.MaxLoanLength {
		return fmt.Errorf("%w: loan %d started at %d with term %d, now %d", lenderr.ErrNotExpired, loanID, loan.StartTime, c.cfg.MaxLoanLength, now)
	}

	if err := c.collection.TransferFrom(c.cfg.Address, c.cfg.Address, recipient, loan.CollateralID); err != nil {
		return fmt.Errorf("transfer collateral %s: %w", loan.CollateralID, err)
	}
	if _, err := c.loans.Close(loanID); err != nil {
		panic(fmt.Sprintf("pool: ledger lost loan %d: %v", loanID, err))
	}
	if err := c.receipts.burn(loanID); err != nil {
		panic(fmt.Sprintf("pool: receipt %d missing: %v", loanID, err))
	}

	c.emit(model.EventLoanLiquidated, now, model.LoanLiquidatedData{
		LoanID:       loanID,
		CollateralID: loan.CollateralID.String(),
		Liquidator:   caller.Hex(),
		Recipient:    recipient.Hex(),
		Principal:    loan.Principal.String(),
	})
	c.logger.Warn("liquidate",
		zap.Uint64("loan", loanID),
		zap.String("liquidator", caller.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("principal", loan.Principal.String()),
	)
	return nil
}
