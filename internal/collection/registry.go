package collection

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"nftLend/internal/lenderr"
)

var (
	ErrNonexistentToken = errors.New("collection: nonexistent token")
	ErrAlreadyMinted    = errors.New("collection: token already minted")
	ErrZeroAddress      = errors.New("collection: zero address")
)

// Collection is the slice of ERC-721 a pool needs from a collateral collection.
type Collection interface {
	Address() common.Address
	OwnerOf(id *big.Int) (common.Address, error)
	IsApprovedOrOwner(spender common.Address, id *big.Int) (bool, error)
	TransferFrom(operator, from, to common.Address, id *big.Int) error
}

// Registry is an in-memory ERC-721 ledger. Pools use one for their loan
// receipts; tests and scenarios use them as collateral collections.
type Registry struct {
	address common.Address
	name    string
	symbol  string

	mu        sync.RWMutex
	owners    map[string]common.Address
	ids       map[string]*big.Int
	approvals map[string]common.Address
	operators map[common.Address]map[common.Address]bool
}

var _ Collection = (*Registry)(nil)

func NewRegistry(address common.Address, name, symbol string) *Registry {
	return &Registry{
		address:   address,
		name:      name,
		symbol:    symbol,
		owners:    make(map[string]common.Address),
		ids:       make(map[string]*big.Int),
		approvals: make(map[string]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func tokenKey(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func (r *Registry) Address() common.Address { return r.address }
func (r *Registry) Name() string            { return r.name }
func (r *Registry) Symbol() string          { return r.symbol }

// Mint creates token id owned by to.
func (r *Registry) Mint(to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if id == nil || id.Sign() < 0 {
		return fmt.Errorf("invalid token id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(id)
	if _, ok := r.owners[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMinted, key)
	}
	r.owners[key] = to
	r.ids[key] = new(big.Int).Set(id)
	return nil
}

// Burn destroys token id and its approval.
func (r *Registry) Burn(id *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(id)
	if _, ok := r.owners[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	delete(r.owners, key)
	delete(r.ids, key)
	delete(r.approvals, key)
	return nil
}

func (r *Registry) OwnerOf(id *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[tokenKey(id)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNonexistentToken, tokenKey(id))
	}
	return owner, nil
}

// Exists reports whether id is currently minted.
func (r *Registry) Exists(id *big.Int) bool {
	r.mu.RLock()
	_, ok := r.owners[tokenKey(id)]
	r.mu.RUnlock()
	return ok
}

// Approve lets spender move id. Only the owner or an operator may approve.
func (r *Registry) Approve(caller, spender common.Address, id *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(id)
	owner, ok := r.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	if caller != owner && !r.operators[owner][caller] {
		return fmt.Errorf("%w: approve %s", lenderr.ErrNotOwner, key)
	}
	r.approvals[key] = spender
	return nil
}

func (r *Registry) GetApproved(id *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := tokenKey(id)
	if _, ok := r.owners[key]; !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	return r.approvals[key], nil
}

func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := r.operators[owner]
	if ops == nil {
		ops = make(map[common.Address]bool)
		r.operators[owner] = ops
	}
	ops[operator] = approved
}

func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[owner][operator]
}

func (r *Registry) IsApprovedOrOwner(spender common.Address, id *big.Int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isApprovedOrOwner(spender, tokenKey(id))
}

func (r *Registry) isApprovedOrOwner(spender common.Address, key string) (bool, error) {
	owner, ok := r.owners[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNonexistentToken, key)
	}
	if spender == owner || r.approvals[key] == spender {
		return true, nil
	}
	return r.operators[owner][spender], nil
}

// TransferFrom moves id from from to to on behalf of operator.
func (r *Registry) TransferFrom(operator, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey(id)
	ok, err := r.isApprovedOrOwner(operator, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: transfer %s", lenderr.ErrNotOwner, key)
	}
	if r.owners[key] != from {
		return fmt.Errorf("%w: %s is not owned by %s", lenderr.ErrNotOwner, key, from.Hex())
	}
	r.owners[key] = to
	delete(r.approvals, key)
	return nil
}

// BalanceOf counts the tokens held by owner.
func (r *Registry) BalanceOf(owner common.Address) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, holder := range r.owners {
		if holder == owner {
			n++
		}
	}
	return n
}

// TokensOf lists the ids held by owner in ascending order.
func (r *Registry) TokensOf(owner common.Address) []*big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*big.Int, 0)
	for key, holder := range r.owners {
		if holder == owner {
			out = append(out, new(big.Int).Set(r.ids[key]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
