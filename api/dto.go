/*
dto.go - Request/response data structures for the HTTP API

Amounts cross the wire as integers in minor currency units, exactly as
the engine sees them. Responses additionally carry a display string
("12.50") derived with decimal arithmetic so clients never format money
with floats. Timestamps serialize as RFC 3339 UTC, second precision.
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brim/ledger-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateAccountRequest struct {
	Name     string `json:"name"`
	Document string `json:"document"`
}

func (r *CreateAccountRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Document == "" {
		return fmt.Errorf("document is required")
	}
	return nil
}

type DepositRequest struct {
	Amount int64 `json:"amount"`
}

type TransferRequest struct {
	TargetAccountKey string `json:"targetAccountKey"`
	Amount           int64  `json:"amount"`
}

func (r *TransferRequest) Validate() error {
	if r.TargetAccountKey == "" {
		return fmt.Errorf("targetAccountKey is required")
	}
	return nil
}

// =============================================================================
// RESPONSES
// =============================================================================

type AccountResponse struct {
	AccountKey       string `json:"accountKey"`
	Name             string `json:"name"`
	Document         string `json:"document"`
	Balance          int64  `json:"balance"`
	BalanceFormatted string `json:"balanceFormatted"`
}

func newAccountResponse(a ledger.Account) AccountResponse {
	return AccountResponse{
		AccountKey:       a.Key,
		Name:             a.Name,
		Document:         a.Document,
		Balance:          a.Balance,
		BalanceFormatted: formatMinorUnits(a.Balance),
	}
}

type DepositResponse struct {
	AccountKey      string `json:"accountKey"`
	Amount          int64  `json:"amount"`
	AmountFormatted string `json:"amountFormatted"`
	Time            string `json:"time"`
}

func newDepositResponse(d ledger.Deposit) DepositResponse {
	return DepositResponse{
		AccountKey:      d.AccountKey,
		Amount:          d.Amount,
		AmountFormatted: formatMinorUnits(d.Amount),
		Time:            d.Time.UTC().Format(time.RFC3339),
	}
}

type TransferResponse struct {
	OriginAccountKey string `json:"originAccountKey"`
	TargetAccountKey string `json:"targetAccountKey"`
	Amount           int64  `json:"amount"`
	AmountFormatted  string `json:"amountFormatted"`
	Time             string `json:"time"`
}

func newTransferResponse(t ledger.Transfer) TransferResponse {
	return TransferResponse{
		OriginAccountKey: t.OriginAccountKey,
		TargetAccountKey: t.TargetAccountKey,
		Amount:           t.Amount,
		AmountFormatted:  formatMinorUnits(t.Amount),
		Time:             t.Time.UTC().Format(time.RFC3339),
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// formatMinorUnits renders minor units as a fixed two-decimal string,
// e.g. 1250 -> "12.50".
func formatMinorUnits(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}
