package lenderr

import "errors"

// Category sentinels. Every specific error below matches exactly one of them
// through errors.Is.
var (
	ErrAuthorization = errors.New("authorization error")
	ErrValidation    = errors.New("validation error")
	ErrState         = errors.New("state error")
	ErrResource      = errors.New("resource error")
)

var (
	ErrNotOwner     = newError(ErrAuthorization, "caller is not owner nor approved")
	ErrUnauthorized = newError(ErrAuthorization, "caller is not authorized")

	ErrDuplicateCollateral  = newError(ErrValidation, "collateral already in custody")
	ErrPriceCeilingExceeded = newError(ErrValidation, "price above pool max price")
	ErrExpiredQuote         = newError(ErrValidation, "oracle quote expired")
	ErrInvalidSignature     = newError(ErrValidation, "oracle signature mismatch")
	ErrMalformedQuote       = newError(ErrValidation, "malformed oracle quote")
	ErrGuardViolated        = newError(ErrValidation, "borrower rate or slippage guard violated")
	ErrInvalidAmount        = newError(ErrValidation, "amount must be positive")
	ErrInvalidRecipient     = newError(ErrValidation, "recipient must be a non-zero address")

	ErrLoanNotFound  = newError(ErrState, "loan not found")
	ErrDuplicateLoan = newError(ErrState, "loan referenced twice in batch")
	ErrNotExpired    = newError(ErrState, "loan not expired")
	ErrUnknownPool   = newError(ErrState, "unknown pool index")

	ErrInsufficientLiquidity = newError(ErrResource, "insufficient pool liquidity")
	ErrInsufficientPayment   = newError(ErrResource, "insufficient repayment funds")
)

// Error is a leaf failure tagged with its category.
type Error struct {
	category error
	msg      string
}

func newError(category error, msg string) *Error {
	return &Error{category: category, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Is reports a match against the error itself or its category sentinel.
func (e *Error) Is(target error) bool {
	return target == e || target == e.category
}

// Category returns the category sentinel of err, or nil when err carries none.
func Category(err error) error {
	for _, category := range []error{ErrAuthorization, ErrValidation, ErrState, ErrResource} {
		if errors.Is(err, category) {
			return category
		}
	}
	return nil
}
