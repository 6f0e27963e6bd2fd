package pool

import (
	"crypto/ecdsa"
	"errors"
	"math"
	"math/big"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nftLend/internal/collection"
	"nftLend/internal/currency"
	"nftLend/internal/interest"
	"nftLend/internal/lenderr"
	"nftLend/internal/model"
	"nftLend/internal/oracle"
)

const (
	testChainID = 31337
	day         = 24 * time.Hour
)

var (
	poolAddr       = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	factoryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000FA")
	ownerAddr      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	borrowerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	strangerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	liquidatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000004")
	collectorAddr  = common.HexToAddress("0x0000000000000000000000000000000000000005")
	nftAddr        = common.HexToAddress("0x00000000000000000000000000000000000000C0")
)

func eth(frac float64) *big.Int {
	milli := big.NewInt(int64(math.Round(frac * 1000)))
	return milli.Mul(milli, big.NewInt(1_000_000_000_000_000))
}

func perSecond(annual *big.Int) *big.Int {
	return new(big.Int).Quo(annual, big.NewInt(interest.SecondsPerYear))
}

type recordingSink struct {
	events []model.PoolEvent
}

func (s *recordingSink) Emit(event model.PoolEvent) {
	s.events = append(s.events, event)
}

func (s *recordingSink) names() []string {
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventName)
	}
	return out
}

type flakyPayer struct {
	*currency.Wallets
	fail bool
}

func (p *flakyPayer) Pay(to common.Address, amount *big.Int) error {
	if p.fail {
		return errors.New("payment rejected")
	}
	return p.Wallets.Pay(to, amount)
}

type harness struct {
	t         *testing.T
	pool      *Controller
	nfts      *collection.Registry
	payer     *flakyPayer
	clock     *ManualClock
	sink      *recordingSink
	oracleKey *ecdsa.PrivateKey
}

func testConfig(oracleAddr common.Address) Config {
	return Config{
		Address:       poolAddr,
		Factory:       factoryAddr,
		Owner:         ownerAddr,
		Oracle:        oracleAddr,
		ChainID:       testChainID,
		Name:          "TubbyLoans",
		Symbol:        "TL",
		MaxPrice:      eth(1),
		MaxLoanLength: uint64((14 * day).Seconds()),
		LTV:           eth(0.5),
		Interest: interest.Model{
			MinimumRate:    perSecond(eth(0.4)),
			MaxVariable:    perSecond(eth(0.8)),
			MaxDailyVolume: eth(1),
			DecayWindow:    interest.DefaultDecayWindow,
		},
		FeeBps:       1000,
		FeeCollector: collectorAddr,
		MetadataHost: "nft.llamalend.com",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	h := &harness{
		t:         t,
		nfts:      collection.NewRegistry(nftAddr, "Tubby Cats", "TUBBY"),
		payer:     &flakyPayer{Wallets: currency.NewWallets()},
		clock:     NewManualClock(time.Unix(1_700_000_000, 0)),
		sink:      &recordingSink{},
		oracleKey: key,
	}
	pool, err := New(testConfig(crypto.PubkeyToAddress(key.PublicKey)), Deps{
		Collection: h.nfts,
		Payer:      h.payer,
		Clock:      h.clock,
		Events:     h.sink,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	h.pool = pool
	for _, id := range []int64{1, 2, 3} {
		if err := h.nfts.Mint(borrowerAddr, big.NewInt(id)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	h.nfts.SetApprovalForAll(borrowerAddr, poolAddr, true)
	return h
}

func (h *harness) quote(price *big.Int) oracle.Quote {
	h.t.Helper()
	deadline := uint64(h.clock.Now().Unix()) + 3600
	q, err := oracle.Sign(h.oracleKey, price, deadline, testChainID, nftAddr)
	if err != nil {
		h.t.Fatalf("sign quote: %v", err)
	}
	return q
}

func (h *harness) borrow(price *big.Int, ids ...int64) (BorrowResult, error) {
	req := BorrowRequest{Caller: borrowerAddr, Quote: h.quote(price)}
	for _, id := range ids {
		req.CollateralIDs = append(req.CollateralIDs, big.NewInt(id))
	}
	return h.pool.Borrow(req)
}

func (h *harness) deposit(amount *big.Int) {
	h.t.Helper()
	if err := h.pool.Deposit(ownerAddr, amount); err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) nftOwner(id int64) common.Address {
	h.t.Helper()
	owner, err := h.nfts.OwnerOf(big.NewInt(id))
	if err != nil {
		h.t.Fatalf("owner of %d: %v", id, err)
	}
	return owner
}

func TestEndToEndLoanLifecycle(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))

	res, err := h.borrow(eth(0.2), 1, 2)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if res.Proceeds.Cmp(eth(0.2)) != 0 {
		t.Fatalf("proceeds = %s, want 2 x 0.2 x 0.5", res.Proceeds)
	}
	if len(res.LoanIDs) != 2 || res.LoanIDs[0] != 1 || res.LoanIDs[1] != 2 {
		t.Fatalf("loan ids = %v", res.LoanIDs)
	}
	if got := h.payer.BalanceOf(borrowerAddr); got.Cmp(eth(0.2)) != 0 {
		t.Fatalf("borrower received %s", got)
	}
	if h.pool.Balance().Cmp(eth(0.8)) != 0 {
		t.Fatalf("balance = %s", h.pool.Balance())
	}
	if h.nftOwner(1) != poolAddr || h.nftOwner(2) != poolAddr {
		t.Fatalf("collateral not in custody")
	}
	for _, id := range res.LoanIDs {
		holder, err := h.pool.Receipts().OwnerOf(new(big.Int).SetUint64(id))
		if err != nil || holder != borrowerAddr {
			t.Fatalf("receipt %d holder = %s, err %v", id, holder.Hex(), err)
		}
	}

	cfg := h.pool.Config().Interest
	wantRate := new(big.Int).Mul(cfg.MaxVariable, eth(0.1))
	wantRate.Quo(wantRate, cfg.MaxDailyVolume)
	wantRate.Add(wantRate, cfg.MinimumRate)
	if res.Rate.Cmp(wantRate) != 0 {
		t.Fatalf("rate = %s, want %s", res.Rate, wantRate)
	}

	h.clock.Advance(7 * day)
	principal := eth(0.1)
	accrued := new(big.Int).Mul(principal, res.Rate)
	accrued.Mul(accrued, big.NewInt(int64((7 * day).Seconds())))
	accrued.Quo(accrued, interest.WAD)
	want := new(big.Int).Add(principal, accrued)

	quoted, err := h.pool.QuoteRepayment(1)
	if err != nil {
		t.Fatalf("quote repayment: %v", err)
	}
	if quoted.Cmp(want) != 0 {
		t.Fatalf("quoted %s, want %s", quoted, want)
	}

	excess := eth(0.001)
	payment := new(big.Int).Add(quoted, excess)
	repaid, err := h.pool.Repay(borrowerAddr, []uint64{1}, payment)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Total.Cmp(quoted) != 0 {
		t.Fatalf("charged %s, quoted %s", repaid.Total, quoted)
	}
	if repaid.Refund.Cmp(excess) != 0 {
		t.Fatalf("refund = %s", repaid.Refund)
	}
	wantFee := new(big.Int).Quo(accrued, big.NewInt(10))
	if repaid.Fee.Cmp(wantFee) != 0 {
		t.Fatalf("fee = %s, want %s", repaid.Fee, wantFee)
	}
	wantBalance := new(big.Int).Add(eth(0.8), new(big.Int).Sub(quoted, wantFee))
	if h.pool.Balance().Cmp(wantBalance) != 0 {
		t.Fatalf("balance = %s, want %s", h.pool.Balance(), wantBalance)
	}
	if h.nftOwner(1) != borrowerAddr {
		t.Fatalf("collateral 1 not returned")
	}
	if h.pool.Receipts().Exists(big.NewInt(1)) {
		t.Fatalf("receipt 1 not burned")
	}

	if err := h.pool.AddLiquidator(ownerAddr, liquidatorAddr); err != nil {
		t.Fatalf("add liquidator: %v", err)
	}
	h.clock.Advance(7 * day)
	if err := h.pool.Liquidate(liquidatorAddr, 2, liquidatorAddr); !errors.Is(err, lenderr.ErrNotExpired) {
		t.Fatalf("liquidate at expiry: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.pool.Liquidate(liquidatorAddr, 2, liquidatorAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if h.nftOwner(2) != liquidatorAddr {
		t.Fatalf("collateral 2 not seized")
	}
	if err := h.pool.Liquidate(liquidatorAddr, 2, liquidatorAddr); !errors.Is(err, lenderr.ErrState) {
		t.Fatalf("second liquidate: %v", err)
	}
	if _, err := h.pool.Repay(borrowerAddr, []uint64{2}, eth(1)); !errors.Is(err, lenderr.ErrLoanNotFound) {
		t.Fatalf("repay liquidated loan: %v", err)
	}
	if len(h.pool.ActiveLoans()) != 0 {
		t.Fatalf("loans still active")
	}
	if h.pool.Receipts().Exists(big.NewInt(2)) {
		t.Fatalf("receipt 2 not burned")
	}

	wantEvents := []string{
		model.EventDeposit,
		model.EventLoanCreated, model.EventLoanCreated,
		model.EventLoanRepaid,
		model.EventLiquidatorAdded,
		model.EventLoanLiquidated,
	}
	got := h.sink.names()
	if strings.Join(got, ",") != strings.Join(wantEvents, ",") {
		t.Fatalf("events = %v", got)
	}
	for i, e := range h.sink.events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d", i, e.Seq)
		}
	}
}

func TestEmptyPoolRateIsMinimum(t *testing.T) {
	h := newHarness(t)
	want := new(big.Int).Mul(h.pool.Config().Interest.MinimumRate, big.NewInt(interest.SecondsPerYear))
	if got := h.pool.CurrentAnnualRate(big.NewInt(0)); got.Cmp(want) != 0 {
		t.Fatalf("rate = %s, want %s", got, want)
	}
}

func TestAnnualRateMonotonic(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.4), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	prev := h.pool.CurrentAnnualRate(big.NewInt(0))
	for _, extra := range []*big.Int{eth(0.01), eth(0.1), eth(0.5), eth(1), eth(5)} {
		rate := h.pool.CurrentAnnualRate(extra)
		if rate.Cmp(prev) < 0 {
			t.Fatalf("rate decreased at extra %s", extra)
		}
		prev = rate
	}

	prev = h.pool.CurrentAnnualRate(eth(0.1))
	for i := 0; i < 5; i++ {
		h.clock.Advance(6 * time.Hour)
		rate := h.pool.CurrentAnnualRate(eth(0.1))
		if rate.Cmp(prev) > 0 {
			t.Fatalf("rate increased with idle time")
		}
		prev = rate
	}
}

func TestBorrowRejectsCustodiedCollateral(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.borrow(eth(0.2), 1); !errors.Is(err, lenderr.ErrDuplicateCollateral) {
		t.Fatalf("re-pledge: %v", err)
	}
	if _, err := h.borrow(eth(0.2), 2, 2); !errors.Is(err, lenderr.ErrDuplicateCollateral) {
		t.Fatalf("in-batch duplicate: %v", err)
	}
	if h.nftOwner(2) != borrowerAddr {
		t.Fatalf("duplicate batch moved collateral")
	}
}

func TestBorrowRequiresOwnership(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	req := BorrowRequest{Caller: strangerAddr, CollateralIDs: []*big.Int{big.NewInt(1)}, Quote: h.quote(eth(0.2))}
	_, err := h.pool.Borrow(req)
	if !errors.Is(err, lenderr.ErrNotOwner) || !errors.Is(err, lenderr.ErrAuthorization) {
		t.Fatalf("stranger borrow: %v", err)
	}
}

func TestBorrowQuoteFailures(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))

	expired := h.quote(eth(0.2))
	h.clock.Advance(2 * time.Hour)
	req := BorrowRequest{Caller: borrowerAddr, CollateralIDs: []*big.Int{big.NewInt(1)}, Quote: expired}
	if _, err := h.pool.Borrow(req); !errors.Is(err, lenderr.ErrExpiredQuote) {
		t.Fatalf("expired quote: %v", err)
	}

	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	forged, err := oracle.Sign(other, eth(0.2), uint64(h.clock.Now().Unix())+60, testChainID, nftAddr)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Quote = forged
	if _, err := h.pool.Borrow(req); !errors.Is(err, lenderr.ErrInvalidSignature) {
		t.Fatalf("forged quote: %v", err)
	}

	if _, err := h.borrow(eth(2), 1); !errors.Is(err, lenderr.ErrPriceCeilingExceeded) {
		t.Fatalf("price above ceiling: %v", err)
	}
	if h.nftOwner(1) != borrowerAddr {
		t.Fatalf("failed borrow moved collateral")
	}
}

func TestBorrowGuards(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))

	req := BorrowRequest{
		Caller:        borrowerAddr,
		CollateralIDs: []*big.Int{big.NewInt(1)},
		Quote:         h.quote(eth(0.2)),
		MaxAnnualRate: eth(0.4),
	}
	if _, err := h.pool.Borrow(req); !errors.Is(err, lenderr.ErrGuardViolated) {
		t.Fatalf("rate guard: %v", err)
	}

	req.MaxAnnualRate = eth(1.2)
	req.MinProceeds = eth(0.2)
	if _, err := h.pool.Borrow(req); !errors.Is(err, lenderr.ErrGuardViolated) {
		t.Fatalf("slippage guard: %v", err)
	}

	req.MinProceeds = eth(0.1)
	if _, err := h.pool.Borrow(req); err != nil {
		t.Fatalf("borrow within guards: %v", err)
	}
}

func TestBorrowInsufficientLiquidityIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(0.15))

	if _, err := h.borrow(eth(0.2), 1, 2); !errors.Is(err, lenderr.ErrInsufficientLiquidity) {
		t.Fatalf("borrow: %v", err)
	}
	if h.nftOwner(1) != borrowerAddr || h.nftOwner(2) != borrowerAddr {
		t.Fatalf("collateral moved")
	}
	if h.pool.Balance().Cmp(eth(0.15)) != 0 || len(h.pool.ActiveLoans()) != 0 {
		t.Fatalf("state changed")
	}
}

func TestBorrowRollsBackWhenPayoutFails(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	before := h.pool.InterestState()

	h.payer.fail = true
	if _, err := h.borrow(eth(0.2), 1, 2); err == nil {
		t.Fatalf("expected payout failure")
	}
	if h.nftOwner(1) != borrowerAddr || h.nftOwner(2) != borrowerAddr {
		t.Fatalf("collateral not rolled back")
	}
	after := h.pool.InterestState()
	if after.Accumulator.Cmp(before.Accumulator) != 0 || h.pool.Balance().Cmp(eth(1)) != 0 {
		t.Fatalf("state changed")
	}
	if len(h.pool.ActiveLoans()) != 0 || h.pool.Receipts().Exists(big.NewInt(1)) {
		t.Fatalf("loan opened")
	}
}

func TestBorrowWithoutPoolApprovalIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	h.nfts.SetApprovalForAll(borrowerAddr, poolAddr, false)
	if err := h.nfts.Approve(borrowerAddr, poolAddr, big.NewInt(1)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := h.borrow(eth(0.2), 1, 2); !errors.Is(err, lenderr.ErrNotOwner) {
		t.Fatalf("borrow: %v", err)
	}
	if h.nftOwner(1) != borrowerAddr {
		t.Fatalf("first token not rolled back")
	}
}

func TestShutdownBlocksBorrowOnly(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := h.pool.Shutdown(ownerAddr); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("owner shutdown: %v", err)
	}
	if err := h.pool.Shutdown(factoryAddr); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if h.pool.MaxPrice().Sign() != 0 {
		t.Fatalf("max price = %s", h.pool.MaxPrice())
	}
	_, err := h.borrow(eth(0.2), 2)
	if !errors.Is(err, lenderr.ErrPriceCeilingExceeded) || !errors.Is(err, lenderr.ErrValidation) {
		t.Fatalf("borrow after shutdown: %v", err)
	}

	h.clock.Advance(day)
	owed, err := h.pool.QuoteRepayment(1)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if _, err := h.pool.Repay(borrowerAddr, []uint64{1}, owed); err != nil {
		t.Fatalf("repay after shutdown: %v", err)
	}
	if err := h.pool.Withdraw(ownerAddr, eth(0.5)); err != nil {
		t.Fatalf("withdraw after shutdown: %v", err)
	}
}

func TestRepayRequiresReceiptHolder(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if _, err := h.pool.Repay(strangerAddr, []uint64{1}, eth(1)); !errors.Is(err, lenderr.ErrNotOwner) {
		t.Fatalf("stranger repay: %v", err)
	}

	if err := h.pool.Receipts().TransferFrom(borrowerAddr, borrowerAddr, strangerAddr, big.NewInt(1)); err != nil {
		t.Fatalf("transfer receipt: %v", err)
	}
	if _, err := h.pool.Repay(borrowerAddr, []uint64{1}, eth(1)); !errors.Is(err, lenderr.ErrNotOwner) {
		t.Fatalf("former holder repay: %v", err)
	}
	if _, err := h.pool.Repay(strangerAddr, []uint64{1}, eth(1)); err != nil {
		t.Fatalf("new holder repay: %v", err)
	}
	if h.nftOwner(1) != strangerAddr {
		t.Fatalf("collateral went to %s", h.nftOwner(1).Hex())
	}
}

func TestReceiptSupplyIsPoolOnly(t *testing.T) {
	receiptType := reflect.TypeOf(&Receipts{})
	for _, name := range []string{"Mint", "Burn"} {
		if _, ok := receiptType.MethodByName(name); ok {
			t.Fatalf("receipts expose %s", name)
		}
	}

	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	receipts := h.pool.Receipts()
	if err := receipts.Approve(strangerAddr, strangerAddr, big.NewInt(1)); !errors.Is(err, lenderr.ErrNotOwner) {
		t.Fatalf("stranger approve: %v", err)
	}
	if err := receipts.TransferFrom(strangerAddr, borrowerAddr, strangerAddr, big.NewInt(1)); !errors.Is(err, lenderr.ErrNotOwner) {
		t.Fatalf("stranger transfer: %v", err)
	}
	if receipts.Exists(big.NewInt(2)) || receipts.BalanceOf(borrowerAddr) != 1 {
		t.Fatalf("unexpected receipt supply")
	}

	if err := h.pool.AddLiquidator(ownerAddr, liquidatorAddr); err != nil {
		t.Fatalf("add liquidator: %v", err)
	}
	h.clock.Advance(15 * day)
	if err := h.pool.Liquidate(liquidatorAddr, 1, liquidatorAddr); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if receipts.Exists(big.NewInt(1)) || h.nftOwner(1) != liquidatorAddr {
		t.Fatalf("liquidation left receipt or collateral behind")
	}

	if _, err := h.borrow(eth(0.2), 2); err != nil {
		t.Fatalf("borrow after liquidation: %v", err)
	}
	if owner, err := receipts.OwnerOf(big.NewInt(2)); err != nil || owner != borrowerAddr {
		t.Fatalf("receipt 2 owner = %s, %v", owner.Hex(), err)
	}
}

func TestRepayBatchValidation(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1, 2); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.clock.Advance(3 * day)

	if _, err := h.pool.Repay(borrowerAddr, []uint64{1, 1}, eth(1)); !errors.Is(err, lenderr.ErrDuplicateLoan) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := h.pool.Repay(borrowerAddr, []uint64{1, 9}, eth(1)); !errors.Is(err, lenderr.ErrLoanNotFound) {
		t.Fatalf("unknown loan: %v", err)
	}
	_, err := h.pool.Repay(borrowerAddr, []uint64{1, 2}, eth(0.2))
	if !errors.Is(err, lenderr.ErrInsufficientPayment) || !errors.Is(err, lenderr.ErrResource) {
		t.Fatalf("short payment: %v", err)
	}
	if len(h.pool.ActiveLoans()) != 2 || h.nftOwner(1) != poolAddr {
		t.Fatalf("failed repay changed state")
	}

	q1, _ := h.pool.QuoteRepayment(1)
	q2, _ := h.pool.QuoteRepayment(2)
	exact := new(big.Int).Add(q1, q2)
	res, err := h.pool.Repay(borrowerAddr, []uint64{1, 2}, exact)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Refund.Sign() != 0 || res.Total.Cmp(exact) != 0 {
		t.Fatalf("result %+v", res)
	}
	if _, err := h.pool.Repay(borrowerAddr, []uint64{1}, eth(1)); !errors.Is(err, lenderr.ErrState) {
		t.Fatalf("double repay: %v", err)
	}
}

func TestRepayRollsBackWhenRefundFails(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	balance := h.pool.Balance()

	h.payer.fail = true
	if _, err := h.pool.Repay(borrowerAddr, []uint64{1}, eth(1)); err == nil {
		t.Fatalf("expected refund failure")
	}
	if h.nftOwner(1) != poolAddr {
		t.Fatalf("collateral not reclaimed")
	}
	if _, err := h.pool.Loan(1); err != nil {
		t.Fatalf("loan closed: %v", err)
	}
	if h.pool.Balance().Cmp(balance) != 0 || h.pool.AccruedFees().Sign() != 0 {
		t.Fatalf("balances changed")
	}
}

func TestLiquidateAuthorization(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1, 2); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.clock.Advance(15 * day)

	err := h.pool.Liquidate(strangerAddr, 1, strangerAddr)
	if !errors.Is(err, lenderr.ErrUnauthorized) || !errors.Is(err, lenderr.ErrAuthorization) {
		t.Fatalf("stranger liquidate: %v", err)
	}
	if err := h.pool.Liquidate(ownerAddr, 1, common.Address{}); !errors.Is(err, lenderr.ErrInvalidRecipient) {
		t.Fatalf("zero recipient: %v", err)
	}
	if err := h.pool.Liquidate(ownerAddr, 1, ownerAddr); err != nil {
		t.Fatalf("owner liquidate: %v", err)
	}

	if err := h.pool.AddLiquidator(ownerAddr, liquidatorAddr); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := h.pool.AddLiquidator(ownerAddr, liquidatorAddr); err != nil {
		t.Fatalf("add twice: %v", err)
	}
	if err := h.pool.RemoveLiquidator(ownerAddr, liquidatorAddr); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if h.pool.IsLiquidator(liquidatorAddr) {
		t.Fatalf("liquidator not removed")
	}
	if err := h.pool.Liquidate(liquidatorAddr, 2, liquidatorAddr); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("removed liquidator: %v", err)
	}
	if err := h.pool.AddLiquidator(strangerAddr, strangerAddr); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("stranger add: %v", err)
	}
}

func TestOwnerLiquidityControls(t *testing.T) {
	h := newHarness(t)

	if err := h.pool.Deposit(strangerAddr, eth(1)); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("stranger deposit: %v", err)
	}
	if err := h.pool.Deposit(ownerAddr, big.NewInt(0)); !errors.Is(err, lenderr.ErrInvalidAmount) {
		t.Fatalf("zero deposit: %v", err)
	}
	h.deposit(eth(1))
	if err := h.pool.Withdraw(ownerAddr, eth(2)); !errors.Is(err, lenderr.ErrInsufficientLiquidity) {
		t.Fatalf("over withdraw: %v", err)
	}
	if err := h.pool.Withdraw(ownerAddr, eth(0.25)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if h.pool.Balance().Cmp(eth(0.75)) != 0 || h.payer.BalanceOf(ownerAddr).Cmp(eth(0.25)) != 0 {
		t.Fatalf("withdraw accounting wrong")
	}

	if err := h.pool.SetMaxPrice(strangerAddr, eth(5)); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("stranger set max price: %v", err)
	}
	if err := h.pool.SetMaxPrice(ownerAddr, eth(5)); err != nil {
		t.Fatalf("set max price: %v", err)
	}
	if _, err := h.borrow(eth(1.2), 1); err != nil {
		t.Fatalf("borrow under raised ceiling: %v", err)
	}
}

func TestSweepFees(t *testing.T) {
	h := newHarness(t)
	h.deposit(eth(1))
	if _, err := h.borrow(eth(0.2), 1); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.clock.Advance(10 * day)
	res, err := h.pool.Repay(borrowerAddr, []uint64{1}, eth(1))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if res.Fee.Sign() <= 0 {
		t.Fatalf("no fee accrued")
	}

	if _, err := h.pool.SweepFees(strangerAddr); !errors.Is(err, lenderr.ErrUnauthorized) {
		t.Fatalf("stranger sweep: %v", err)
	}
	swept, err := h.pool.SweepFees(collectorAddr)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Cmp(res.Fee) != 0 || h.payer.BalanceOf(collectorAddr).Cmp(res.Fee) != 0 {
		t.Fatalf("swept %s, fee %s", swept, res.Fee)
	}
	if h.pool.AccruedFees().Sign() != 0 {
		t.Fatalf("fees not reset")
	}
}

func TestTokenURI(t *testing.T) {
	h := newHarness(t)
	want := "https://nft.llamalend.com/nft/31337/0x00000000000000000000000000000000000000aa/0x00000000000000000000000000000000000000c0/7"
	if got := h.pool.TokenURI(7); got != want {
		t.Fatalf("token uri = %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(common.HexToAddress("0x01"))
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	bad := cfg
	bad.LTV = eth(1.5)
	if bad.Validate() == nil {
		t.Fatalf("ltv above one accepted")
	}
	bad = cfg
	bad.FeeCollector = common.Address{}
	if bad.Validate() == nil {
		t.Fatalf("fee without collector accepted")
	}
	bad = cfg
	bad.MaxLoanLength = 0
	if bad.Validate() == nil {
		t.Fatalf("zero loan length accepted")
	}
	bad.MaxLoanLength = math.MaxUint64
	if bad.Validate() == nil {
		t.Fatalf("loan length wrapping uint64 accepted")
	}
	bad.MaxLoanLength = MaxLoanLengthLimit
	if err := bad.Validate(); err != nil {
		t.Fatalf("loan length at limit: %v", err)
	}
}
