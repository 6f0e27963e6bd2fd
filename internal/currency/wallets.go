package currency

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("currency: insufficient funds")

// Payer sends currency out of a pool.
type Payer interface {
	Pay(to common.Address, amount *big.Int) error
}

// Wallets is an in-memory account book. Pools pay out through it; callers
// are charged before they attach value to a pool operation.
type Wallets struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

var _ Payer = (*Wallets)(nil)

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[common.Address]*big.Int)}
}

// Fund credits amount to addr out of thin air.
func (w *Wallets) Fund(addr common.Address, amount *big.Int) error {
	if err := w.Pay(addr, amount); err != nil {
		return fmt.Errorf("fund %s: %w", addr.Hex(), err)
	}
	return nil
}

// Pay credits amount to to.
func (w *Wallets) Pay(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid payment amount")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	bal := w.balances[to]
	if bal == nil {
		bal = big.NewInt(0)
	}
	w.balances[to] = new(big.Int).Add(bal, amount)
	return nil
}

// Charge debits amount from from.
func (w *Wallets) Charge(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid charge amount")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	bal := w.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, from.Hex())
	}
	w.balances[from] = new(big.Int).Sub(bal, amount)
	return nil
}

func (w *Wallets) BalanceOf(addr common.Address) *big.Int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	bal := w.balances[addr]
	if bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}
