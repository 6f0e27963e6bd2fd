package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"nftLend/internal/lenderr"
)

// Loan is one active loan against a single collateral token.
type Loan struct {
	ID           uint64
	CollateralID *big.Int
	Borrower     common.Address
	Principal    *big.Int
	// Rate is interest per wei per second scaled by 1e18, fixed at origination.
	Rate      *big.Int
	StartTime uint64
}

// Clone returns a deep copy of the loan.
func (l Loan) Clone() Loan {
	clone := l
	if l.CollateralID != nil {
		clone.CollateralID = new(big.Int).Set(l.CollateralID)
	}
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.Rate != nil {
		clone.Rate = new(big.Int).Set(l.Rate)
	}
	return clone
}

// Ledger indexes active loans by id and by collateral id. It moves no assets.
type Ledger struct {
	loans        map[uint64]Loan
	byCollateral map[string]uint64
	nextID       uint64
}

// New returns an empty ledger whose first loan id is 1.
func New() *Ledger {
	return &Ledger{
		loans:        make(map[uint64]Loan),
		byCollateral: make(map[string]uint64),
		nextID:       1,
	}
}

func collateralKey(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// Open records a loan and returns its id. Ids are never reused.
func (l *Ledger) Open(borrower common.Address, collateralID, principal, rate *big.Int, start uint64) (uint64, error) {
	if collateralID == nil || collateralID.Sign() < 0 {
		return 0, fmt.Errorf("invalid collateral id")
	}
	key := collateralKey(collateralID)
	if existing, ok := l.byCollateral[key]; ok {
		return 0, fmt.Errorf("%w: token %s held by loan %d", lenderr.ErrDuplicateCollateral, key, existing)
	}

	id := l.nextID
	l.nextID++
	loan := Loan{
		ID:           id,
		CollateralID: collateralID,
		Borrower:     borrower,
		Principal:    principal,
		Rate:         rate,
		StartTime:    start,
	}
	l.loans[id] = loan.Clone()
	l.byCollateral[key] = id
	return id, nil
}

// Close removes the loan and returns it.
func (l *Ledger) Close(id uint64) (Loan, error) {
	loan, ok := l.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("%w: %d", lenderr.ErrLoanNotFound, id)
	}
	delete(l.loans, id)
	delete(l.byCollateral, collateralKey(loan.CollateralID))
	return loan, nil
}

// Get returns a copy of an active loan.
func (l *Ledger) Get(id uint64) (Loan, error) {
	loan, ok := l.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("%w: %d", lenderr.ErrLoanNotFound, id)
	}
	return loan.Clone(), nil
}

// HoldsCollateral reports whether an active loan references collateralID.
func (l *Ledger) HoldsCollateral(collateralID *big.Int) bool {
	_, ok := l.byCollateral[collateralKey(collateralID)]
	return ok
}

// NextID is the id the next Open will assign.
func (l *Ledger) NextID() uint64 {
	return l.nextID
}

// Len is the number of active loans.
func (l *Ledger) Len() int {
	return len(l.loans)
}

// Active returns copies of all active loans ordered by id.
func (l *Ledger) Active() []Loan {
	out := make([]Loan, 0, len(l.loans))
	for _, loan := range l.loans {
		out = append(out, loan.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
