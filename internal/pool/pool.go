package pool

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nftLend/internal/collection"
	"nftLend/internal/currency"
	"nftLend/internal/interest"
	"nftLend/internal/ledger"
	"nftLend/internal/lenderr"
	"nftLend/internal/model"
)

// Controller is one lending pool: it custodies collateral, holds the lendable
// balance and keeps the loan ledger. Every public method runs under mu, so
// operations are totally ordered and never observe each other half done.
type Controller struct {
	cfg        Config
	collection collection.Collection
	payer      currency.Payer
	clock      Clock
	events     EventSink
	logger     *zap.Logger

	mu          sync.Mutex
	maxPrice    *big.Int
	rate        *interest.State
	balance     *big.Int
	fees        *big.Int
	loans       *ledger.Ledger
	liquidators map[common.Address]struct{}
	receipts    *Receipts
	seq         uint64
}

// New builds a pool from its configuration and collaborators.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Collection == nil {
		return nil, fmt.Errorf("collection is nil")
	}
	if deps.Payer == nil {
		return nil, fmt.Errorf("payer is nil")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		cfg:         cfg,
		collection:  deps.Collection,
		payer:       deps.Payer,
		clock:       deps.Clock,
		events:      deps.Events,
		maxPrice:    new(big.Int).Set(cfg.MaxPrice),
		balance:     big.NewInt(0),
		fees:        big.NewInt(0),
		loans:       ledger.New(),
		liquidators: make(map[common.Address]struct{}),
		receipts:    newReceipts(cfg.Address, cfg.Name, cfg.Symbol),
	}
	c.rate = interest.NewState(c.now())
	c.logger = logger.With(zap.String("pool", cfg.Address.Hex()), zap.String("collection", deps.Collection.Address().Hex()))
	return c, nil
}

func (c *Controller) now() uint64 {
	ts := c.clock.Now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (c *Controller) emit(name string, ts uint64, data interface{}) {
	c.seq++
	if c.events == nil {
		return
	}
	c.events.Emit(model.PoolEvent{
		ChainID:   c.cfg.ChainID,
		Pool:      c.cfg.Address.Hex(),
		Seq:       c.seq,
		EventName: name,
		Timestamp: ts,
		Data:      data,
	})
}

func (c *Controller) requireOwner(caller common.Address) error {
	if caller != c.cfg.Owner {
		return fmt.Errorf("%w: %s is not the pool owner", lenderr.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return lenderr.ErrInvalidAmount
	}
	return nil
}

// Deposit adds owner funds to the lendable balance.
func (c *Controller) Deposit(caller common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}

	c.balance.Add(c.balance, amount)
	c.emit(model.EventDeposit, c.now(), model.LiquidityData{
		Account: caller.Hex(),
		Amount:  amount.String(),
		Balance: c.balance.String(),
	})
	c.logger.Info("deposit", zap.String("amount", amount.String()), zap.String("balance", c.balance.String()))
	return nil
}

// Withdraw pays amount of the lendable balance back to the owner.
func (c *Controller) Withdraw(caller common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if amount.Cmp(c.balance) > 0 {
		return fmt.Errorf("%w: withdraw %s, balance %s", lenderr.ErrInsufficientLiquidity, amount, c.balance)
	}
	if err := c.payer.Pay(caller, amount); err != nil {
		return fmt.Errorf("pay withdrawal: %w", err)
	}

	c.balance.Sub(c.balance, amount)
	c.emit(model.EventWithdraw, c.now(), model.LiquidityData{
		Account: caller.Hex(),
		Amount:  amount.String(),
		Balance: c.balance.String(),
	})
	c.logger.Info("withdraw", zap.String("amount", amount.String()), zap.String("balance", c.balance.String()))
	return nil
}

// AddLiquidator grants liquidation rights. Adding an existing member is a no-op.
func (c *Controller) AddLiquidator(caller, liquidator common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if _, ok := c.liquidators[liquidator]; ok {
		return nil
	}
	c.liquidators[liquidator] = struct{}{}
	c.emit(model.EventLiquidatorAdded, c.now(), model.RoleData{Account: liquidator.Hex()})
	return nil
}

// RemoveLiquidator revokes liquidation rights.
func (c *Controller) RemoveLiquidator(caller, liquidator common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if _, ok := c.liquidators[liquidator]; !ok {
		return nil
	}
	delete(c.liquidators, liquidator)
	c.emit(model.EventLiquidatorRemoved, c.now(), model.RoleData{Account: liquidator.Hex()})
	return nil
}

// SetMaxPrice changes the price ceiling.
func (c *Controller) SetMaxPrice(caller common.Address, price *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if price == nil || price.Sign() < 0 {
		return lenderr.ErrInvalidAmount
	}
	c.maxPrice = new(big.Int).Set(price)
	c.emit(model.EventMaxPriceSet, c.now(), model.MaxPriceData{Caller: caller.Hex(), MaxPrice: price.String()})
	return nil
}

// Shutdown zeroes the price ceiling, which stops new borrows and nothing else.
// Only the factory that created the pool may call it.
func (c *Controller) Shutdown(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Factory == (common.Address{}) || caller != c.cfg.Factory {
		return fmt.Errorf("%w: %s is not the pool factory", lenderr.ErrUnauthorized, caller.Hex())
	}
	c.maxPrice = big.NewInt(0)
	c.emit(model.EventShutdown, c.now(), model.MaxPriceData{Caller: caller.Hex(), MaxPrice: "0"})
	c.logger.Warn("emergency shutdown")
	return nil
}

// SweepFees pays accrued repayment fees to the fee collector.
func (c *Controller) SweepFees(caller common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.cfg.Owner && caller != c.cfg.FeeCollector {
		return nil, fmt.Errorf("%w: %s cannot sweep fees", lenderr.ErrUnauthorized, caller.Hex())
	}
	amount := new(big.Int).Set(c.fees)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := c.payer.Pay(c.cfg.FeeCollector, amount); err != nil {
		return nil, fmt.Errorf("pay fees: %w", err)
	}
	c.fees.SetInt64(0)
	c.logger.Info("fees swept", zap.String("amount", amount.String()), zap.String("collector", c.cfg.FeeCollector.Hex()))
	return amount, nil
}

// CurrentAnnualRate is the annual rate a borrow of extra wei would lock in now.
func (c *Controller) CurrentAnnualRate(extra *big.Int) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Interest.AnnualRate(c.rate, extra, c.now())
}

// TokenURI is the metadata location of a loan receipt.
func (c *Controller) TokenURI(loanID uint64) string {
	return fmt.Sprintf("https://%s/nft/%d/%s/%s/%d",
		c.cfg.MetadataHost,
		c.cfg.ChainID,
		strings.ToLower(c.cfg.Address.Hex()),
		strings.ToLower(c.collection.Address().Hex()),
		loanID,
	)
}

// Loan returns an active loan.
func (c *Controller) Loan(loanID uint64) (ledger.Loan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loans.Get(loanID)
}

// ActiveLoans lists active loans ordered by id.
func (c *Controller) ActiveLoans() []ledger.Loan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loans.Active()
}

// Receipts is the loan-receipt token registry. Receipt id equals loan id.
func (c *Controller) Receipts() *Receipts {
	return c.receipts
}

func (c *Controller) Balance() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance)
}

func (c *Controller) AccruedFees() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.fees)
}

func (c *Controller) MaxPrice() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.maxPrice)
}

func (c *Controller) IsLiquidator(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.liquidators[addr]
	return ok
}

// InterestState returns a copy of the borrow pressure tracker.
func (c *Controller) InterestState() *interest.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate.Clone()
}

func (c *Controller) Config() Config             { return c.cfg }
func (c *Controller) Address() common.Address    { return c.cfg.Address }
func (c *Controller) Collection() common.Address { return c.collection.Address() }
