package nft

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	collectionAddr = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	holderAddr     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	otherAddr      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type fakeCollection struct {
	owners     map[uint64]common.Address
	enumerable bool
	legacyMeta bool
	flaky      int
	calls      map[string]int
}

func newFakeCollection(enumerable bool) *fakeCollection {
	return &fakeCollection{
		owners: map[uint64]common.Address{
			1: holderAddr,
			2: otherAddr,
			4: holderAddr,
			7: holderAddr,
		},
		enumerable: enumerable,
		calls:      make(map[string]int),
	}
}

func (f *fakeCollection) owned(owner common.Address) []uint64 {
	var ids []uint64
	for id, holder := range f.owners {
		if holder == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeCollection) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	parsed, err := ERC721ABI()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.calls[method.Name]++

	switch method.Name {
	case "balanceOf":
		if f.flaky > 0 {
			f.flaky--
			return nil, errors.New("rpc timeout")
		}
		owner := args[0].(common.Address)
		return method.Outputs.Pack(big.NewInt(int64(len(f.owned(owner)))))
	case "ownerOf":
		holder, ok := f.owners[args[0].(*big.Int).Uint64()]
		if !ok {
			return nil, errors.New("execution reverted: nonexistent token")
		}
		return method.Outputs.Pack(holder)
	case "tokenOfOwnerByIndex":
		if !f.enumerable {
			return nil, errors.New("execution reverted")
		}
		ids := f.owned(args[0].(common.Address))
		index := args[1].(*big.Int).Uint64()
		if index >= uint64(len(ids)) {
			return nil, errors.New("execution reverted: index out of bounds")
		}
		return method.Outputs.Pack(new(big.Int).SetUint64(ids[index]))
	case "name", "symbol":
		if f.legacyMeta {
			legacy, err := erc721Bytes32Instance()
			if err != nil {
				return nil, err
			}
			var word [32]byte
			copy(word[:], "TUBBY")
			return legacy.Methods[method.Name].Outputs.Pack(word)
		}
		return method.Outputs.Pack("Tubby Cats")
	}
	return nil, errors.New("unexpected method")
}

func ids(tokens []*big.Int) []uint64 {
	out := make([]uint64, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t.Uint64())
	}
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func TestListOwnedEnumerablePages(t *testing.T) {
	fake := newFakeCollection(true)
	scanner := NewScanner(fake, fastRetry(), nil)

	page, err := scanner.ListOwned(context.Background(), collectionAddr, holderAddr, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !page.Enumerable || !equal(ids(page.Tokens), []uint64{1, 4}) || page.Next != 2 || page.Done {
		t.Fatalf("first page = %+v", page)
	}

	page, err = scanner.ListOwned(context.Background(), collectionAddr, holderAddr, page.Next, page.Next+2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !equal(ids(page.Tokens), []uint64{7}) || !page.Done {
		t.Fatalf("second page = %+v", page)
	}
	if fake.calls["ownerOf"] != 0 {
		t.Fatalf("enumerable scan called ownerOf")
	}
}

func TestListOwnedFallsBackToOwnerOf(t *testing.T) {
	fake := newFakeCollection(false)
	scanner := NewScanner(fake, fastRetry(), nil)

	page, err := scanner.ListOwned(context.Background(), collectionAddr, holderAddr, 0, 6)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Enumerable || !equal(ids(page.Tokens), []uint64{1, 4}) {
		t.Fatalf("page = %+v", page)
	}
	if fake.calls["ownerOf"] != 6 {
		t.Fatalf("ownerOf calls = %d", fake.calls["ownerOf"])
	}
}

func TestListOwnedRetriesTransientErrors(t *testing.T) {
	fake := newFakeCollection(true)
	fake.flaky = 2
	scanner := NewScanner(fake, fastRetry(), nil)

	page, err := scanner.ListOwned(context.Background(), collectionAddr, holderAddr, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tokens) != 3 || fake.calls["balanceOf"] != 3 {
		t.Fatalf("tokens %d, balanceOf calls %d", len(page.Tokens), fake.calls["balanceOf"])
	}

	fake.flaky = 5
	if _, err := scanner.ListOwned(context.Background(), collectionAddr, holderAddr, 0, 10); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestListOwnedEmpty(t *testing.T) {
	scanner := NewScanner(newFakeCollection(true), fastRetry(), nil)
	page, err := scanner.ListOwned(context.Background(), collectionAddr, common.HexToAddress("0x09"), 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tokens) != 0 || !page.Done {
		t.Fatalf("page = %+v", page)
	}
	if _, err := scanner.ListOwned(context.Background(), collectionAddr, holderAddr, 5, 5); err == nil {
		t.Fatalf("empty range accepted")
	}
}

func TestFetchMeta(t *testing.T) {
	fake := newFakeCollection(true)
	scanner := NewScanner(fake, fastRetry(), nil)
	meta, err := scanner.FetchMeta(context.Background(), collectionAddr)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Name != "Tubby Cats" || meta.Symbol != "Tubby Cats" {
		t.Fatalf("meta = %+v", meta)
	}

	fake.legacyMeta = true
	meta, err = scanner.FetchMeta(context.Background(), collectionAddr)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Name != "TUBBY" {
		t.Fatalf("legacy name = %q", meta.Name)
	}
}

func TestScanPagesEnumerable(t *testing.T) {
	fake := newFakeCollection(true)
	scanner := NewScanner(fake, fastRetry(), nil)

	tokens, err := scanner.Scan(context.Background(), collectionAddr, holderAddr, 0, 5000, 2)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !equal(ids(tokens), []uint64{1, 4, 7}) {
		t.Fatalf("tokens = %v", ids(tokens))
	}
	if fake.calls["balanceOf"] != 2 {
		t.Fatalf("balanceOf calls = %d", fake.calls["balanceOf"])
	}
}

func TestScanPagesByProbe(t *testing.T) {
	fake := newFakeCollection(false)
	scanner := NewScanner(fake, fastRetry(), nil)

	tokens, err := scanner.Scan(context.Background(), collectionAddr, holderAddr, 0, 10, 3)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !equal(ids(tokens), []uint64{1, 4, 7}) {
		t.Fatalf("tokens = %v", ids(tokens))
	}
	if fake.calls["ownerOf"] != 10 {
		t.Fatalf("ownerOf calls = %d", fake.calls["ownerOf"])
	}
}
