package stellar

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/lumenpay/backend/internal/apperr"
)

const (
	submitTimeout = 30 * time.Second

	// txTimeBounds keeps a submitted transaction from settling long after the
	// worker has given up on it.
	txTimeBounds = 120

	// activationAmount covers the network's minimum balance for a fresh
	// account plus a little headroom for fees.
	activationAmount = "2"
)

// Client talks to a Horizon instance. It is safe for concurrent use.
type Client struct {
	horizon           *horizonclient.Client
	networkPassphrase string

	// masterSeed signs activation payments; empty means faucet-only mode.
	masterSeed string
}

var _ Gateway = (*Client)(nil)

func NewClient(horizonURL, networkPassphrase, masterSeed string) *Client {
	return &Client{
		horizon: &horizonclient.Client{
			HorizonURL: horizonURL,
			HTTP:       &http.Client{Timeout: submitTimeout},
		},
		networkPassphrase: networkPassphrase,
		masterSeed:        masterSeed,
	}
}

func (c *Client) GenerateKeypair() (Keypair, error) {
	kp, err := keypair.Random()
	if err != nil {
		return Keypair{}, apperr.Wrap(apperr.CodeInternal, "generate keypair", err)
	}
	return Keypair{Address: kp.Address(), Seed: kp.Seed()}, nil
}

func (c *Client) SubmitPayment(ctx context.Context, fromSeed, toAddress string, amount decimal.Decimal, memo string) (PaymentResult, error) {
	kp, err := keypair.ParseFull(fromSeed)
	if err != nil {
		return PaymentResult{}, apperr.Wrap(apperr.CodeCrypto, "parse sender seed", err)
	}
	op := &txnbuild.Payment{
		Destination: toAddress,
		Amount:      amount.StringFixed(7),
		Asset:       txnbuild.NativeAsset{},
	}
	return c.submit(ctx, kp, op, memo)
}

func (c *Client) SubmitFromMaster(ctx context.Context, toAddress string, amount decimal.Decimal, memo string) (PaymentResult, error) {
	if c.masterSeed == "" {
		return PaymentResult{}, apperr.New(apperr.CodeLedger, "no master funding account configured")
	}
	return c.SubmitPayment(ctx, c.masterSeed, toAddress, amount, memo)
}

func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	acct, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			// Unfunded accounts don't exist on the ledger yet.
			return decimal.Zero, nil
		}
		return decimal.Zero, apperr.Wrap(apperr.CodeLedger, "fetch account", err)
	}
	native, err := acct.GetNativeBalance()
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.CodeLedger, "read native balance", err)
	}
	bal, err := decimal.NewFromString(native)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.CodeLedger, "parse balance", err)
	}
	return bal, nil
}

func (c *Client) ActivateAccount(ctx context.Context, address string) error {
	if c.masterSeed == "" {
		return c.FundFromFaucet(ctx, address)
	}
	kp, err := keypair.ParseFull(c.masterSeed)
	if err != nil {
		return apperr.Wrap(apperr.CodeCrypto, "parse master seed", err)
	}
	op := &txnbuild.CreateAccount{
		Destination: address,
		Amount:      activationAmount,
	}
	_, err = c.submit(ctx, kp, op, "")
	return err
}

func (c *Client) FundFromFaucet(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.horizon.Fund(address); err != nil {
		return apperr.Wrap(apperr.CodeLedger, "friendbot funding", err)
	}
	return nil
}

// submit builds, signs and submits a single-operation transaction from the
// given source keypair. Horizon's own HTTP timeout bounds the wait.
func (c *Client) submit(ctx context.Context, source *keypair.Full, op txnbuild.Operation, memo string) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}

	sourceAcct, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: source.Address()})
	if err != nil {
		return PaymentResult{}, apperr.Wrap(apperr.CodeLedger, "load source account", err)
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        &sourceAcct,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeBounds)},
	}
	if memo != "" {
		params.Memo = txnbuild.MemoText(TruncateMemo(memo))
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return PaymentResult{}, apperr.Wrap(apperr.CodeLedger, "build transaction", err)
	}
	signed, err := tx.Sign(c.networkPassphrase, source)
	if err != nil {
		return PaymentResult{}, apperr.Wrap(apperr.CodeCrypto, "sign transaction", err)
	}

	resp, err := c.horizon.SubmitTransaction(signed)
	if err != nil {
		return PaymentResult{}, apperr.Wrap(apperr.CodeLedger, "submit transaction", err)
	}
	return PaymentResult{Hash: resp.Hash, LedgerSeq: int64(resp.Ledger)}, nil
}
