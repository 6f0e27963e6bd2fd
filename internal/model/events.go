package model

// Event names written to the journal.
const (
	EventPoolCreated       = "PoolCreated"
	EventDeposit           = "Deposit"
	EventWithdraw          = "Withdraw"
	EventLiquidatorAdded   = "LiquidatorAdded"
	EventLiquidatorRemoved = "LiquidatorRemoved"
	EventMaxPriceSet       = "MaxPriceSet"
	EventShutdown          = "EmergencyShutdown"
	EventLoanCreated       = "LoanCreated"
	EventLoanRepaid        = "LoanRepaid"
	EventLoanLiquidated    = "LoanLiquidated"
)

// LoanCreatedData is the payload of a LoanCreated event.
type LoanCreatedData struct {
	LoanID       uint64 `json:"loan_id"`
	CollateralID string `json:"collateral_id"`
	Borrower     string `json:"borrower"`
	Principal    string `json:"principal"`
	Rate         string `json:"rate_per_second"`
	AnnualRate   string `json:"annual_rate"`
	StartTime    uint64 `json:"start_time"`
}

// LoanRepaidData is the payload of a LoanRepaid event.
type LoanRepaidData struct {
	LoanID       uint64 `json:"loan_id"`
	CollateralID string `json:"collateral_id"`
	Payer        string `json:"payer"`
	Principal    string `json:"principal"`
	TotalRepay   string `json:"total_repay"`
	Fee          string `json:"fee"`
}

// LoanLiquidatedData is the payload of a LoanLiquidated event.
type LoanLiquidatedData struct {
	LoanID       uint64 `json:"loan_id"`
	CollateralID string `json:"collateral_id"`
	Liquidator   string `json:"liquidator"`
	Recipient    string `json:"recipient"`
	Principal    string `json:"principal"`
}

// LiquidityData is the payload of Deposit and Withdraw events.
type LiquidityData struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

// RoleData is the payload of liquidator membership events.
type RoleData struct {
	Account string `json:"account"`
}

// MaxPriceData is the payload of MaxPriceSet and EmergencyShutdown events.
type MaxPriceData struct {
	Caller   string `json:"caller"`
	MaxPrice string `json:"max_price"`
}
