package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftLend/internal/collection"
)

// Receipts is the transferable loan-receipt token of a pool. Receipt id
// equals loan id. Holders may approve and transfer receipts; only the pool
// mints and burns them.
type Receipts struct {
	reg *collection.Registry
}

func newReceipts(address common.Address, name, symbol string) *Receipts {
	return &Receipts{reg: collection.NewRegistry(address, name, symbol)}
}

func (r *Receipts) Address() common.Address { return r.reg.Address() }
func (r *Receipts) Name() string            { return r.reg.Name() }
func (r *Receipts) Symbol() string          { return r.reg.Symbol() }

func (r *Receipts) OwnerOf(id *big.Int) (common.Address, error) { return r.reg.OwnerOf(id) }
func (r *Receipts) Exists(id *big.Int) bool                     { return r.reg.Exists(id) }
func (r *Receipts) BalanceOf(owner common.Address) int          { return r.reg.BalanceOf(owner) }
func (r *Receipts) TokensOf(owner common.Address) []*big.Int    { return r.reg.TokensOf(owner) }

func (r *Receipts) Approve(caller, spender common.Address, id *big.Int) error {
	return r.reg.Approve(caller, spender, id)
}

func (r *Receipts) GetApproved(id *big.Int) (common.Address, error) {
	return r.reg.GetApproved(id)
}

func (r *Receipts) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.reg.SetApprovalForAll(owner, operator, approved)
}

func (r *Receipts) IsApprovedForAll(owner, operator common.Address) bool {
	return r.reg.IsApprovedForAll(owner, operator)
}

func (r *Receipts) IsApprovedOrOwner(spender common.Address, id *big.Int) (bool, error) {
	return r.reg.IsApprovedOrOwner(spender, id)
}

func (r *Receipts) TransferFrom(operator, from, to common.Address, id *big.Int) error {
	return r.reg.TransferFrom(operator, from, to, id)
}

func (r *Receipts) mint(to common.Address, loanID uint64) error {
	return r.reg.Mint(to, new(big.Int).SetUint64(loanID))
}

func (r *Receipts) burn(loanID uint64) error {
	return r.reg.Burn(new(big.Int).SetUint64(loanID))
}
