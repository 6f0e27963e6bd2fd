package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nftLend/internal/lenderr"
)

// Verify checks that quote was signed by oracle for collection on chainID and
// that it has not expired at now. Expiry is reported before any signature
// problem so callers know to fetch a fresh quote.
func Verify(quote Quote, collection common.Address, chainID uint64, oracle common.Address, now uint64) error {
	if now > quote.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", lenderr.ErrExpiredQuote, quote.Deadline, now)
	}

	signer, err := Recover(quote, collection, chainID)
	if err != nil {
		return err
	}
	if signer != oracle {
		return fmt.Errorf("%w: recovered %s", lenderr.ErrInvalidSignature, signer.Hex())
	}
	return nil
}

// Recover returns the address that signed quote for collection on chainID.
func Recover(quote Quote, collection common.Address, chainID uint64) (common.Address, error) {
	hash, err := Digest(quote.Price, quote.Deadline, chainID, collection)
	if err != nil {
		return common.Address{}, err
	}

	v := quote.V
	if v >= 27 {
		v -= 27
	}
	if !crypto.ValidateSignatureValues(v, quote.R.Big(), quote.S.Big(), true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", lenderr.ErrInvalidSignature)
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[:32], quote.R.Bytes())
	copy(sig[32:64], quote.S.Bytes())
	sig[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", lenderr.ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
