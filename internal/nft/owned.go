package nft

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ContractCaller is the read side of a chain client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Scanner enumerates tokens of a collection held by an address.
type Scanner struct {
	caller ContractCaller
	retry  RetryPolicy
	logger *zap.Logger
}

func NewScanner(caller ContractCaller, retry RetryPolicy, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{caller: caller, retry: retry, logger: logger}
}

// Page is one slice of an ownership scan.
type Page struct {
	Tokens []*big.Int
	// Enumerable is true when the collection answered tokenOfOwnerByIndex and
	// the bounds were applied to owner indices rather than token ids.
	Enumerable bool
	// Done is set when no tokens of owner can exist past this page.
	Done bool
	// Next is the owner index the following enumerable page starts at.
	Next uint64
}

// ListOwned returns the tokens of collection held by owner within [from, to).
// Enumerable collections are paged by owner index; others are checked with
// ownerOf over the token id range.
func (s *Scanner) ListOwned(ctx context.Context, collection, owner common.Address, from, to uint64) (Page, error) {
	if to <= from {
		return Page{}, fmt.Errorf("empty range [%d, %d)", from, to)
	}
	parsed, err := ERC721ABI()
	if err != nil {
		return Page{}, fmt.Errorf("parse erc721 abi: %w", err)
	}

	var balance *big.Int
	err = s.retry.do(ctx, func(ctx context.Context) error {
		values, err := s.call(ctx, parsed, collection, "balanceOf", owner)
		if err != nil {
			return err
		}
		balance, err = asBigInt(values[0])
		return err
	})
	if err != nil {
		return Page{}, fmt.Errorf("balanceOf: %w", err)
	}
	if balance.Sign() == 0 {
		return Page{Done: true}, nil
	}

	if s.enumerable(ctx, parsed, collection, owner) {
		if !balance.IsUint64() {
			return Page{}, fmt.Errorf("balance %s out of range", balance)
		}
		if from >= balance.Uint64() {
			return Page{Enumerable: true, Done: true}, nil
		}
		return s.byIndex(ctx, parsed, collection, owner, from, to, balance.Uint64())
	}
	s.logger.Debug("collection not enumerable, probing ownerOf", zap.String("collection", collection.Hex()))
	return s.byProbe(ctx, parsed, collection, owner, from, to)
}

// enumerable asks for the first owned token; owner holds at least one.
func (s *Scanner) enumerable(ctx context.Context, parsed abi.ABI, collection, owner common.Address) bool {
	_, err := s.call(ctx, parsed, collection, "tokenOfOwnerByIndex", owner, big.NewInt(0))
	return err == nil
}

func (s *Scanner) byIndex(ctx context.Context, parsed abi.ABI, collection, owner common.Address, from, to, balance uint64) (Page, error) {
	end := to
	if end > balance {
		end = balance
	}
	page := Page{Enumerable: true, Tokens: make([]*big.Int, 0, end-from)}
	for i := from; i < end; i++ {
		index := new(big.Int).SetUint64(i)
		err := s.retry.do(ctx, func(ctx context.Context) error {
			values, err := s.call(ctx, parsed, collection, "tokenOfOwnerByIndex", owner, index)
			if err != nil {
				return err
			}
			id, err := asBigInt(values[0])
			if err != nil {
				return err
			}
			page.Tokens = append(page.Tokens, id)
			return nil
		})
		if err != nil {
			return Page{}, fmt.Errorf("tokenOfOwnerByIndex %d: %w", i, err)
		}
	}
	if end < balance {
		page.Next = end
	} else {
		page.Done = true
	}
	return page, nil
}

// byProbe checks every id in range. Reverts such as nonexistent tokens are
// skipped rather than retried.
func (s *Scanner) byProbe(ctx context.Context, parsed abi.ABI, collection, owner common.Address, from, to uint64) (Page, error) {
	page := Page{Tokens: make([]*big.Int, 0)}
	for id := from; id < to; id++ {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		token := new(big.Int).SetUint64(id)
		values, err := s.call(ctx, parsed, collection, "ownerOf", token)
		if err != nil {
			continue
		}
		holder, err := asAddress(values[0])
		if err != nil {
			return Page{}, fmt.Errorf("ownerOf %d: %w", id, err)
		}
		if holder == owner {
			page.Tokens = append(page.Tokens, token)
		}
	}
	return page, nil
}

// Scan pages through [from, to) with ListOwned and returns every token of
// owner found. Enumerable collections stop as soon as the owner's balance is
// exhausted.
func (s *Scanner) Scan(ctx context.Context, collection, owner common.Address, from, to, pageSize uint64) ([]*big.Int, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page size must be positive")
	}
	var tokens []*big.Int
	start := from
	for start < to {
		end := start + pageSize
		if end > to || end < start {
			end = to
		}
		page, err := s.ListOwned(ctx, collection, owner, start, end)
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, page.Tokens...)
		s.logger.Debug("scan page",
			zap.Uint64("from", start),
			zap.Uint64("to", end),
			zap.Int("found", len(page.Tokens)),
			zap.Bool("enumerable", page.Enumerable),
		)
		if page.Done {
			break
		}
		if page.Enumerable {
			start = page.Next
			continue
		}
		start = end
	}
	return tokens, nil
}

// Meta is the display metadata of a collection.
type Meta struct {
	Address common.Address
	Name    string
	Symbol  string
}

// FetchMeta reads name and symbol, falling back to bytes32 encodings.
func (s *Scanner) FetchMeta(ctx context.Context, collection common.Address) (Meta, error) {
	meta := Meta{Address: collection}
	parsed, err := ERC721ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc721 abi: %w", err)
	}
	legacy, err := erc721Bytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse bytes32 abi: %w", err)
	}

	read := func(method string) string {
		if values, err := s.call(ctx, parsed, collection, method); err == nil {
			if text, ok := values[0].(string); ok {
				return text
			}
		}
		if values, err := s.call(ctx, legacy, collection, method); err == nil {
			if text, ok := bytes32ToString(values[0]); ok {
				return text
			}
		} else {
			s.logger.Debug(method+" call failed", zap.String("collection", collection.Hex()), zap.Error(err))
		}
		return ""
	}
	meta.Name = read("name")
	meta.Symbol = read("symbol")
	return meta, nil
}

func (s *Scanner) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
