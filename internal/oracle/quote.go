package oracle

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"nftLend/internal/lenderr"
)

// priceBits is the width of the signed price field.
const priceBits = 216

// Quote is a signed (price, deadline) attestation for one collection.
type Quote struct {
	Price    *big.Int
	Deadline uint64
	V        uint8
	R        common.Hash
	S        common.Hash
}

// Message builds the canonical payload the oracle signs:
// price (uint216, 27 bytes) | deadline (32 bytes) | chainID (32 bytes) | collection (20 bytes).
// All integers are big-endian. The layout matches abi.encode(uint216,uint256,uint256)
// with the zero padding of the first word dropped, followed by the raw address.
func Message(price *big.Int, deadline uint64, chainID uint64, collection common.Address) ([]byte, error) {
	if price == nil || price.Sign() < 0 || price.BitLen() > priceBits {
		return nil, fmt.Errorf("%w: price outside uint216", lenderr.ErrMalformedQuote)
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return nil, fmt.Errorf("%w: price overflow", lenderr.ErrMalformedQuote)
	}

	priceWord := p.Bytes32()
	deadlineWord := uint256.NewInt(deadline).Bytes32()
	chainWord := uint256.NewInt(chainID).Bytes32()

	msg := make([]byte, 0, priceBits/8+32+32+common.AddressLength)
	msg = append(msg, priceWord[32-priceBits/8:]...)
	msg = append(msg, deadlineWord[:]...)
	msg = append(msg, chainWord[:]...)
	msg = append(msg, collection.Bytes()...)
	return msg, nil
}

// Digest returns the EIP-191 personal-message hash of the canonical payload.
func Digest(price *big.Int, deadline uint64, chainID uint64, collection common.Address) ([]byte, error) {
	msg, err := Message(price, deadline, chainID, collection)
	if err != nil {
		return nil, err
	}
	return accounts.TextHash(msg), nil
}

// Sign produces a quote signed by key. It plays the role of the off-host
// oracle in tests and in the sign-quote command.
func Sign(key *ecdsa.PrivateKey, price *big.Int, deadline uint64, chainID uint64, collection common.Address) (Quote, error) {
	if key == nil {
		return Quote{}, fmt.Errorf("signing key is nil")
	}
	hash, err := Digest(price, deadline, chainID, collection)
	if err != nil {
		return Quote{}, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return Quote{}, fmt.Errorf("sign quote: %w", err)
	}
	return Quote{
		Price:    new(big.Int).Set(price),
		Deadline: deadline,
		V:        sig[crypto.RecoveryIDOffset] + 27,
		R:        common.BytesToHash(sig[:32]),
		S:        common.BytesToHash(sig[32:64]),
	}, nil
}

// Signature returns the 65-byte r|s|v encoding with v in {27, 28}.
func (q Quote) Signature() []byte {
	sig := make([]byte, 0, crypto.SignatureLength)
	sig = append(sig, q.R.Bytes()...)
	sig = append(sig, q.S.Bytes()...)
	return append(sig, q.V)
}

// WithSignature fills v, r and s from a hex encoded 65-byte signature.
func (q Quote) WithSignature(sigHex string) (Quote, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return Quote{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return Quote{}, fmt.Errorf("signature length %d", len(sig))
	}
	q.R = common.BytesToHash(sig[:32])
	q.S = common.BytesToHash(sig[32:64])
	q.V = sig[crypto.RecoveryIDOffset]
	return q, nil
}
