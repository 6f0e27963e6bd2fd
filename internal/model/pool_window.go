package model

import "time"

// PoolWindowMetrics is the lending activity of one pool over one window.
// Amounts are decimal strings in ether units.
type PoolWindowMetrics struct {
	ChainID             uint64
	PoolAddress         string
	WindowSizeSecs      int64
	WindowStart         time.Time
	WindowEnd           time.Time
	EventCount          uint64
	Deposited           string
	Withdrawn           string
	Borrowed            string
	Repaid              string
	Interest            string
	Fees                string
	LiquidatedPrincipal string
	LoansOpened         uint64
	LoansRepaid         uint64
	LoansLiquidated     uint64
	Utilization         *string
}
