package model

// Pool is a lending pool registry record for storage.
type Pool struct {
	ChainID       uint64 `json:"chain_id"`
	Index         int    `json:"index"`
	Address       string `json:"address"`
	Collection    string `json:"collection"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Oracle        string `json:"oracle"`
	Owner         string `json:"owner"`
	LTV           string `json:"ltv"`
	MaxPrice      string `json:"max_price"`
	MaxLoanLength uint64 `json:"max_loan_length"`
	Shutdown      bool   `json:"shutdown"`
}
