package scenario

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"nftLend/internal/collection"
	"nftLend/internal/currency"
	"nftLend/internal/factory"
	"nftLend/internal/interest"
	"nftLend/internal/lenderr"
	"nftLend/internal/oracle"
	"nftLend/internal/pool"
)

const defaultQuoteTTL = 20 * time.Minute

var namedErrors = map[string]error{
	"authorization":          lenderr.ErrAuthorization,
	"validation":             lenderr.ErrValidation,
	"state":                  lenderr.ErrState,
	"resource":               lenderr.ErrResource,
	"not_owner":              lenderr.ErrNotOwner,
	"unauthorized":           lenderr.ErrUnauthorized,
	"duplicate_collateral":   lenderr.ErrDuplicateCollateral,
	"price_ceiling":          lenderr.ErrPriceCeilingExceeded,
	"expired_quote":          lenderr.ErrExpiredQuote,
	"invalid_signature":      lenderr.ErrInvalidSignature,
	"guard":                  lenderr.ErrGuardViolated,
	"loan_not_found":         lenderr.ErrLoanNotFound,
	"duplicate_loan":         lenderr.ErrDuplicateLoan,
	"not_expired":            lenderr.ErrNotExpired,
	"insufficient_liquidity": lenderr.ErrInsufficientLiquidity,
	"insufficient_payment":   lenderr.ErrInsufficientPayment,
	"unknown_pool":           lenderr.ErrUnknownPool,
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Time   uint64 `json:"time"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PoolSummary is the state of a pool after the run.
type PoolSummary struct {
	Index       int    `json:"index"`
	Address     string `json:"address"`
	Balance     string `json:"balance"`
	AccruedFees string `json:"accrued_fees"`
	ActiveLoans int    `json:"active_loans"`
	MaxPrice    string `json:"max_price"`
	AnnualRate  string `json:"annual_rate"`
}

// Report is the outcome of a run.
type Report struct {
	Steps    []StepResult      `json:"steps"`
	Pools    []PoolSummary     `json:"pools"`
	Balances map[string]string `json:"balances"`
}

// Runner replays a scenario against in-memory collections and wallets.
type Runner struct {
	file    File
	logger  *zap.Logger
	clock   *pool.ManualClock
	wallets *currency.Wallets
	factory *factory.Factory
	key     *ecdsa.PrivateKey
	nfts    map[string]*collection.Registry
	actors  map[string]common.Address
}

// NewRunner builds the factory, collections and pools a scenario declares.
func NewRunner(file File, events pool.EventSink, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		file:    file,
		logger:  logger,
		clock:   pool.NewManualClock(time.Unix(file.StartTime, 0)),
		wallets: currency.NewWallets(),
		nfts:    make(map[string]*collection.Registry),
		actors:  make(map[string]common.Address),
	}

	key, err := oracleKey(file.OracleKey)
	if err != nil {
		return nil, err
	}
	r.key = key

	for name, amount := range file.Funds {
		wei, err := parseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("funds %s: %w", name, err)
		}
		if err := r.wallets.Fund(r.actor(name), wei); err != nil {
			return nil, fmt.Errorf("funds %s: %w", name, err)
		}
	}

	for _, def := range file.Collections {
		addr := r.actor("collection:" + def.Name)
		reg := collection.NewRegistry(addr, def.Name, def.Symbol)
		for holder, ids := range def.Mint {
			for _, id := range ids {
				if err := reg.Mint(r.actor(holder), new(big.Int).SetUint64(id)); err != nil {
					return nil, fmt.Errorf("collection %s: %w", def.Name, err)
				}
			}
		}
		r.nfts[def.Name] = reg
	}

	r.factory, err = factory.New(factory.Options{
		Address:      r.actor("factory"),
		Owner:        r.actor(file.Admin),
		ChainID:      file.ChainID,
		MetadataHost: file.MetadataHost,
		Payer:        r.wallets,
		Clock:        r.clock,
		Events:       events,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	oracleAddr := crypto.PubkeyToAddress(key.PublicKey)
	for i, def := range file.Pools {
		if err := r.createPool(oracleAddr, def); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
	}
	return r, nil
}

func oracleKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return crypto.GenerateKey()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("oracle key: %w", err)
	}
	return key, nil
}

func (r *Runner) createPool(oracleAddr common.Address, def PoolDef) error {
	reg, ok := r.nfts[def.Collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", def.Collection)
	}
	maxPrice, err := parseAmount(def.MaxPrice)
	if err != nil {
		return fmt.Errorf("max_price: %w", err)
	}
	ltv, err := parseAmount(def.LTV)
	if err != nil {
		return fmt.Errorf("ltv: %w", err)
	}
	minRate, err := parseAnnualRate(def.MinAnnualRate)
	if err != nil {
		return fmt.Errorf("min_annual_rate: %w", err)
	}
	maxVariable, err := parseAnnualRate(def.MaxVariableRate)
	if err != nil {
		return fmt.Errorf("max_variable_annual_rate: %w", err)
	}
	volume, err := parseAmount(def.MaxDailyVolume)
	if err != nil {
		return fmt.Errorf("max_daily_volume: %w", err)
	}
	var collector common.Address
	if def.FeeCollector != "" {
		collector = r.actor(def.FeeCollector)
	}

	_, err = r.factory.CreatePool(r.actor(def.Owner), oracleAddr, volume, def.Name, def.Symbol, []factory.CollectionConfig{{
		Collection:    reg,
		MaxPrice:      maxPrice,
		MaxLoanLength: uint64(def.MaxLoanLength / time.Second),
		MaxVariable:   maxVariable,
		MinimumRate:   minRate,
		LTV:           ltv,
		FeeBps:        def.FeeBps,
		FeeCollector:  collector,
		DecayWindow:   uint64(def.DecayWindow / time.Second),
	}})
	return err
}

// actor maps a scenario name to a stable address.
func (r *Runner) actor(name string) common.Address {
	name = strings.ToLower(name)
	if common.IsHexAddress(name) {
		return common.HexToAddress(name)
	}
	if addr, ok := r.actors[name]; ok {
		return addr
	}
	addr := common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
	r.actors[name] = addr
	return addr
}

func (r *Runner) Factory() *factory.Factory  { return r.factory }
func (r *Runner) Wallets() *currency.Wallets { return r.wallets }

// Collection returns a declared collection by name.
func (r *Runner) Collection(name string) *collection.Registry { return r.nfts[name] }

// Address returns the address of a named actor.
func (r *Runner) Address(name string) common.Address { return r.actor(name) }

// Run executes every step in order. A step whose outcome differs from its
// expectation stops the run.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{Balances: make(map[string]string)}
	for i, step := range r.file.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result := StepResult{Index: i, Action: step.Action, Actor: step.Actor}
		detail, err := r.apply(step)
		result.Time = uint64(r.clock.Now().Unix())
		result.Detail = detail
		if err != nil {
			result.Error = err.Error()
		}
		report.Steps = append(report.Steps, result)

		if err := checkExpectation(step.Expect, err); err != nil {
			r.logger.Error("step failed", zap.Int("step", i), zap.String("action", step.Action), zap.Error(err))
			return report, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		r.logger.Info("step", zap.Int("step", i), zap.String("action", step.Action), zap.String("detail", detail), zap.String("error", result.Error))
	}

	for i, p := range r.factory.Pools() {
		report.Pools = append(report.Pools, PoolSummary{
			Index:       i,
			Address:     p.Address().Hex(),
			Balance:     interest.FormatWad(p.Balance(), 6),
			AccruedFees: interest.FormatWad(p.AccruedFees(), 6),
			ActiveLoans: len(p.ActiveLoans()),
			MaxPrice:    interest.FormatWad(p.MaxPrice(), 6),
			AnnualRate:  interest.FormatWad(p.CurrentAnnualRate(big.NewInt(0)), 4),
		})
	}
	for name, addr := range r.actors {
		if strings.HasPrefix(name, "collection:") || name == "factory" {
			continue
		}
		report.Balances[name] = interest.FormatWad(r.wallets.BalanceOf(addr), 6)
	}
	return report, nil
}

func checkExpectation(expect string, err error) error {
	if expect == "" {
		return err
	}
	want, ok := namedErrors[strings.ToLower(expect)]
	if !ok {
		return fmt.Errorf("unknown expectation %q", expect)
	}
	if err == nil {
		return fmt.Errorf("expected %s error, step succeeded", expect)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("expected %s error, got: %w", expect, err)
	}
	return nil
}

func (r *Runner) apply(step Step) (string, error) {
	caller := r.actor(step.Actor)
	if step.Action == "advance" {
		r.clock.Advance(step.Duration)
		return step.Duration.String(), nil
	}
	if step.Action == "shutdown" {
		return fmt.Sprintf("pools %v", step.Pools), r.factory.EmergencyShutdown(caller, step.Pools)
	}

	p, err := r.factory.Pool(step.Pool)
	if err != nil {
		return "", err
	}

	switch step.Action {
	case "deposit":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return "", err
		}
		return step.Amount, r.attach(caller, amount, func() error { return p.Deposit(caller, amount) })
	case "withdraw":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return "", err
		}
		return step.Amount, p.Withdraw(caller, amount)
	case "approve":
		reg, err := r.poolCollection(p)
		if err != nil {
			return "", err
		}
		reg.SetApprovalForAll(caller, p.Address(), true)
		return p.Address().Hex(), nil
	case "add-liquidator":
		return step.Account, p.AddLiquidator(caller, r.actor(step.Account))
	case "remove-liquidator":
		return step.Account, p.RemoveLiquidator(caller, r.actor(step.Account))
	case "set-max-price":
		price, err := parseAmount(step.Price)
		if err != nil {
			return "", err
		}
		return step.Price, p.SetMaxPrice(caller, price)
	case "borrow":
		return r.borrow(p, caller, step)
	case "repay":
		return r.repay(p, caller, step)
	case "liquidate":
		return r.liquidate(p, caller, step)
	case "sweep-fees":
		swept, err := p.SweepFees(caller)
		if err != nil {
			return "", err
		}
		return interest.FormatWad(swept, 6), nil
	default:
		return "", fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *Runner) poolCollection(p *pool.Controller) (*collection.Registry, error) {
	for _, reg := range r.nfts {
		if reg.Address() == p.Collection() {
			return reg, nil
		}
	}
	return nil, fmt.Errorf("pool %s has no scenario collection", p.Address().Hex())
}

// attach charges the caller before an operation that takes attached value
// and returns the funds when the operation fails.
func (r *Runner) attach(caller common.Address, amount *big.Int, op func() error) error {
	if err := r.wallets.Charge(caller, amount); err != nil {
		return err
	}
	if err := op(); err != nil {
		if ferr := r.wallets.Fund(caller, amount); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return nil
}

func (r *Runner) borrow(p *pool.Controller, caller common.Address, step Step) (string, error) {
	price, err := parseAmount(step.Price)
	if err != nil {
		return "", fmt.Errorf("price: %w", err)
	}
	ttl := step.QuoteTTL
	if ttl == 0 {
		ttl = defaultQuoteTTL
	}
	now := r.clock.Now()
	deadline := now.Add(ttl).Unix()
	if deadline < 0 {
		deadline = 0
	}
	quote, err := oracle.Sign(r.key, price, uint64(deadline), r.file.ChainID, p.Collection())
	if err != nil {
		return "", err
	}

	req := pool.BorrowRequest{Caller: caller, Quote: quote}
	for _, id := range step.Tokens {
		req.CollateralIDs = append(req.CollateralIDs, new(big.Int).SetUint64(id))
	}
	if step.MaxRate != "" {
		if req.MaxAnnualRate, err = parseAmount(step.MaxRate); err != nil {
			return "", fmt.Errorf("max_rate: %w", err)
		}
	}
	if step.MinProceeds != "" {
		if req.MinProceeds, err = parseAmount(step.MinProceeds); err != nil {
			return "", fmt.Errorf("min_proceeds: %w", err)
		}
	}

	res, err := p.Borrow(req)
	if err != nil {
		return "", err
	}
	annual := new(big.Int).Mul(res.Rate, big.NewInt(interest.SecondsPerYear))
	return fmt.Sprintf("loans %v proceeds %s apr %s", res.LoanIDs, interest.FormatWad(res.Proceeds, 6), interest.FormatWad(annual, 4)), nil
}

// liquidate checks every listed loan before seizing any, so a bad id later
// in the list leaves the earlier loans untouched.
func (r *Runner) liquidate(p *pool.Controller, caller common.Address, step Step) (string, error) {
	recipient := caller
	if step.Recipient != "" {
		recipient = r.actor(step.Recipient)
	}
	if len(step.Loans) == 0 {
		return "", fmt.Errorf("%w: no loans", lenderr.ErrInvalidAmount)
	}
	cfg := p.Config()
	if caller != cfg.Owner && !p.IsLiquidator(caller) {
		return "", fmt.Errorf("%w: %s cannot liquidate", lenderr.ErrUnauthorized, caller.Hex())
	}
	if recipient == (common.Address{}) {
		return "", lenderr.ErrInvalidRecipient
	}

	now := uint64(r.clock.Now().Unix())
	seen := make(map[uint64]struct{}, len(step.Loans))
	for _, id := range step.Loans {
		if _, dup := seen[id]; dup {
			return "", fmt.Errorf("%w: %d", lenderr.ErrDuplicateLoan, id)
		}
		seen[id] = struct{}{}
		loan, err := p.Loan(id)
		if err != nil {
			return "", err
		}
		if now <= loan.StartTime || now-loan.StartTime <= cfg.MaxLoanLength {
			return "", fmt.Errorf("%w: loan %d", lenderr.ErrNotExpired, id)
		}
	}

	for _, id := range step.Loans {
		if err := p.Liquidate(caller, id, recipient); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("loans %v", step.Loans), nil
}

func (r *Runner) repay(p *pool.Controller, caller common.Address, step Step) (string, error) {
	var payment *big.Int
	if step.Amount != "" {
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return "", err
		}
		payment = amount
	} else {
		payment = big.NewInt(0)
		for _, id := range step.Loans {
			owed, err := p.QuoteRepayment(id)
			if err != nil {
				return "", err
			}
			payment.Add(payment, owed)
		}
	}

	var res pool.RepayResult
	err := r.attach(caller, payment, func() error {
		var err error
		res, err = p.Repay(caller, step.Loans, payment)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("total %s fee %s refund %s", interest.FormatWad(res.Total, 6), interest.FormatWad(res.Fee, 6), interest.FormatWad(res.Refund, 6)), nil
}

func parseAmount(text string) (*big.Int, error) {
	if text == "" {
		return nil, fmt.Errorf("amount is required")
	}
	wei, err := interest.ParseWad(text)
	if err != nil {
		return nil, err
	}
	if wei.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", text)
	}
	return wei, nil
}

// parseAnnualRate converts an annual fraction into a per-second WAD rate.
func parseAnnualRate(text string) (*big.Int, error) {
	annual, err := parseAmount(text)
	if err != nil {
		return nil, err
	}
	return annual.Quo(annual, big.NewInt(interest.SecondsPerYear)), nil
}
