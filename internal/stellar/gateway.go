// Package stellar wraps the Horizon testnet API behind the narrow gateway
// contract the rest of the system depends on: submit a payment, read a
// balance, create and activate accounts. The internal transaction store stays
// authoritative; the memo ties on-chain payments back to internal records for
// reconciliation.
package stellar

import (
	"context"

	"github.com/shopspring/decimal"
)

// MemoMaxBytes is the network's text memo limit. Internal transaction ids are
// truncated to fit.
const MemoMaxBytes = 28

// Keypair is a freshly generated ledger keypair. Seed is handed straight to
// the custody service for encryption and never persisted in the clear.
type Keypair struct {
	Address string
	Seed    string
}

// PaymentResult is the settlement outcome returned by the network.
type PaymentResult struct {
	Hash      string
	LedgerSeq int64
}

// Gateway is the capability the custody and settlement services need from the
// external ledger network. Implementations carry network config only, no
// business state.
type Gateway interface {
	GenerateKeypair() (Keypair, error)

	// SubmitPayment sends a native-asset payment and waits for the network's
	// settlement response. Failures (rejection, timeout, network error) wrap
	// apperr.CodeLedger.
	SubmitPayment(ctx context.Context, fromSeed, toAddress string, amount decimal.Decimal, memo string) (PaymentResult, error)

	// SubmitFromMaster pays out of the master funding account, whose seed
	// never leaves the gateway. Callers must hold the master-account lease.
	SubmitFromMaster(ctx context.Context, toAddress string, amount decimal.Decimal, memo string) (PaymentResult, error)

	// GetBalance returns the settled native balance, zero for accounts the
	// network does not know yet.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// ActivateAccount funds a brand-new account from the master account so it
	// meets the network's minimum-balance requirement.
	ActivateAccount(ctx context.Context, address string) error

	// FundFromFaucet requests friendbot funding for a testnet account.
	FundFromFaucet(ctx context.Context, address string) error
}

// TruncateMemo clips a memo to the network's byte limit.
func TruncateMemo(memo string) string {
	if len(memo) <= MemoMaxBytes {
		return memo
	}
	return memo[:MemoMaxBytes]
}
