package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftLend/internal/lenderr"
)

var borrower = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestOpenAssignsMonotonicIDs(t *testing.T) {
	l := New()
	first, err := l.Open(borrower, big.NewInt(7), big.NewInt(100), big.NewInt(1), 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := l.Open(borrower, big.NewInt(8), big.NewInt(100), big.NewInt(1), 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("ids %d %d", first, second)
	}

	if _, err := l.Close(first); err != nil {
		t.Fatalf("close: %v", err)
	}
	third, err := l.Open(borrower, big.NewInt(7), big.NewInt(100), big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("reopen collateral: %v", err)
	}
	if third != 3 {
		t.Fatalf("closed ids must not be reused, got %d", third)
	}
}

func TestOpenRejectsDuplicateCollateral(t *testing.T) {
	l := New()
	if _, err := l.Open(borrower, big.NewInt(1), big.NewInt(100), big.NewInt(1), 10); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := l.Open(borrower, big.NewInt(1), big.NewInt(100), big.NewInt(1), 10)
	if !errors.Is(err, lenderr.ErrDuplicateCollateral) {
		t.Fatalf("expected duplicate collateral, got %v", err)
	}
	if l.Len() != 1 || l.NextID() != 2 {
		t.Fatalf("failed open must not change the ledger")
	}
}

func TestCloseTwiceFails(t *testing.T) {
	l := New()
	id, err := l.Open(borrower, big.NewInt(3), big.NewInt(100), big.NewInt(1), 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	loan, err := l.Close(id)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if loan.CollateralID.Int64() != 3 || loan.Borrower != borrower {
		t.Fatalf("closed loan mismatch: %+v", loan)
	}
	if l.HoldsCollateral(big.NewInt(3)) {
		t.Fatalf("collateral index not cleared")
	}

	_, err = l.Close(id)
	if !errors.Is(err, lenderr.ErrLoanNotFound) || !errors.Is(err, lenderr.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if _, err := l.Get(id); !errors.Is(err, lenderr.ErrLoanNotFound) {
		t.Fatalf("get closed loan: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	principal := big.NewInt(100)
	id, err := l.Open(borrower, big.NewInt(4), principal, big.NewInt(5), 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	principal.SetInt64(1)

	loan, err := l.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loan.Rate.SetInt64(999)

	again, _ := l.Get(id)
	if again.Principal.Int64() != 100 || again.Rate.Int64() != 5 {
		t.Fatalf("ledger state leaked: %+v", again)
	}

	active := l.Active()
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("active mismatch: %+v", active)
	}
}
