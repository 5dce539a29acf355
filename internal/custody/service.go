package custody

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/limits"
	"github.com/lumenpay/backend/internal/models"
	"github.com/lumenpay/backend/internal/stellar"
)

// masterFundingLeaseKey serializes payments from the master funding account.
// Two concurrent submissions from one Stellar account race on its sequence
// number, so this path holds a short lease first.
const (
	masterFundingLeaseKey    = "master-funding-account"
	walletFundingLeasePrefix = "wallet-funding:"
	fundingLeaseTTL          = 30 * time.Second
	leaseRetryInterval       = 500 * time.Millisecond
	leaseRetryAttempts       = 10
)

// WalletStore is the wallet persistence the custody service needs.
type WalletStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	ApplyFunding(ctx context.Context, id uuid.UUID, balance, dailySum decimal.Decimal, fundingCount int, lastReset, fundedAt time.Time) error
}

// FundingRecorder persists the FUNDING transaction row.
type FundingRecorder interface {
	Create(ctx context.Context, t *models.Transaction) error
}

// Locker is the distributed lease used for master-account serialization.
type Locker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// Auditor records custody-side audit entries.
type Auditor interface {
	Record(ctx context.Context, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
	RecordTx(ctx context.Context, tx pgx.Tx, actorID *uuid.UUID, action, resource, resourceID string, metadata any) error
}

// Service owns keypair generation, seed encryption and the balance cache.
// Seeds are decrypted nowhere else.
type Service struct {
	wallets   WalletStore
	txs       FundingRecorder
	gateway   stellar.Gateway
	box       *SecretBox
	locks     Locker
	audit     Auditor
	log       *slog.Logger
	policy    limits.FundingPolicy
	deflt     decimal.Decimal
	hasMaster bool
}

func NewService(
	wallets WalletStore,
	txs FundingRecorder,
	gateway stellar.Gateway,
	box *SecretBox,
	locks Locker,
	audit Auditor,
	log *slog.Logger,
	policy limits.FundingPolicy,
	defaultFundingAmount decimal.Decimal,
	hasMasterAccount bool,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		wallets: wallets, txs: txs, gateway: gateway, box: box, locks: locks,
		audit: audit, log: log, policy: policy, deflt: defaultFundingAmount,
		hasMaster: hasMasterAccount,
	}
}

// CreateWallet generates a keypair, encrypts the seed and persists the wallet
// inside the caller's transaction, so account and wallet commit or fail
// together. The on-ledger account is activated lazily on first funding.
func (s *Service) CreateWallet(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.Wallet, error) {
	kp, err := s.gateway.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	sealed, iv, err := s.box.Seal([]byte(kp.Seed))
	if err != nil {
		return nil, err
	}
	w := &models.Wallet{
		ID:              uuid.New(),
		AccountID:       accountID,
		PublicAddress:   kp.Address,
		EncryptedSeed:   sealed,
		SeedIV:          iv,
		Balance:         decimal.Zero,
		Status:          models.WalletStatusActive,
		DailyFundingSum: decimal.Zero,
		LastResetDate:   limits.DayStart(time.Now()),
	}
	if err := s.wallets.CreateTx(ctx, tx, w); err != nil {
		return nil, err
	}
	if err := s.audit.RecordTx(ctx, tx, &accountID, models.AuditActionWalletCreated, "wallet", w.ID.String(),
		map[string]string{"public_address": kp.Address}); err != nil {
		return nil, err
	}
	return w, nil
}

// DecryptSeed recovers the wallet's secret seed. An integrity failure is a
// security event: logged loudly and surfaced as CRYPTO_ERROR, never ignored.
func (s *Service) DecryptSeed(w *models.Wallet) (string, error) {
	seed, err := s.box.Open(w.EncryptedSeed, w.SeedIV)
	if err != nil {
		s.log.Error("wallet seed decryption failed",
			"security_event", true, "wallet_id", w.ID, "error", err)
		return "", err
	}
	return string(seed), nil
}

// SyncBalance overwrites the cached balance with the ledger's settled value.
// Idempotent; safe to call at any time.
func (s *Service) SyncBalance(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	bal, err := s.gateway.GetBalance(ctx, w.PublicAddress)
	if err != nil {
		return nil, err
	}
	if err := s.wallets.UpdateBalance(ctx, w.ID, bal); err != nil {
		return nil, err
	}
	w.Balance = bal
	return w, nil
}

// Balance returns the cached balance next to a fresh ledger read. When the
// ledger is unreachable the cached value is still served, flagged unsynced.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (w *models.Wallet, onLedger decimal.Decimal, synced bool, err error) {
	w, err = s.wallets.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, false, err
	}
	onLedger, lerr := s.gateway.GetBalance(ctx, w.PublicAddress)
	if lerr != nil {
		s.log.Warn("ledger balance read failed", "wallet_id", w.ID, "error", lerr)
		return w, w.Balance, false, nil
	}
	return w, onLedger, onLedger.Equal(w.Balance), nil
}

// FundWallet enforces the funding policy, then moves testnet funds to the
// wallet (from the master account when configured, otherwise from the
// faucet), waits for settlement and updates cache plus counters atomically.
// Funding is the one synchronous ledger call in the request path.
func (s *Service) FundWallet(ctx context.Context, accountID uuid.UUID, amount *decimal.Decimal) (*models.Wallet, *models.Transaction, error) {
	// The daily counters are read, checked and written back under a
	// per-wallet lease. Without it two concurrent requests both pass the
	// caps before either records its funding.
	leaseKey := walletFundingLeasePrefix + accountID.String()
	holder := uuid.NewString()
	ok, err := s.locks.Acquire(ctx, leaseKey, holder, fundingLeaseTTL)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.New(apperr.CodeConflict, "another funding request for this wallet is in progress")
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), leaseKey, holder); err != nil {
			s.log.Warn("lease release failed", "key", leaseKey, "error", err)
		}
	}()

	w, err := s.wallets.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	amt := s.deflt
	if amount != nil {
		amt = *amount
	}
	if amt.LessThanOrEqual(decimal.Zero) {
		return nil, nil, apperr.New(apperr.CodeValidation, "funding amount must be positive")
	}

	now := time.Now()
	counters := limits.ResetIfNewDay(w, now)
	if err := limits.CheckFunding(w, counters, amt, s.policy); err != nil {
		return nil, nil, err
	}

	fundingTx := &models.Transaction{
		ID:         uuid.New(),
		SenderID:   accountID,
		ReceiverID: accountID,
		Amount:     amt,
		Type:       models.TxTypeFunding,
		Status:     models.TxStatusSuccess,
	}

	if s.hasMaster {
		result, err := s.fundFromMaster(ctx, w, amt, fundingTx.ID.String())
		if err != nil {
			return nil, nil, err
		}
		fundingTx.StellarTxHash = &result.Hash
		fundingTx.LedgerSeq = &result.LedgerSeq
	} else {
		if err := s.gateway.FundFromFaucet(ctx, w.PublicAddress); err != nil {
			return nil, nil, err
		}
	}

	bal, err := s.gateway.GetBalance(ctx, w.PublicAddress)
	if err != nil {
		// Funding settled; cache refresh failure only leaves the cache stale
		// until the next sync.
		s.log.Warn("post-funding balance refresh failed", "wallet_id", w.ID, "error", err)
		bal = w.Balance.Add(amt)
	}

	fundedAt := time.Now()
	completed := fundedAt
	fundingTx.CompletedAt = &completed
	if err := s.wallets.ApplyFunding(ctx, w.ID, bal, counters.DailyFundingSum.Add(amt), counters.FundingCount+1, counters.LastResetDate, fundedAt); err != nil {
		return nil, nil, err
	}
	if err := s.txs.Create(ctx, fundingTx); err != nil {
		return nil, nil, err
	}
	if err := s.audit.Record(ctx, &accountID, models.AuditActionWalletFunded, "wallet", w.ID.String(),
		map[string]string{"amount": amt.String(), "transaction_id": fundingTx.ID.String()}); err != nil {
		s.log.Warn("audit write failed", "error", err)
	}

	w.Balance = bal
	w.FundingCount = counters.FundingCount + 1
	w.DailyFundingSum = counters.DailyFundingSum.Add(amt)
	w.LastFundedAt = &fundedAt
	return w, fundingTx, nil
}

// fundFromMaster submits a payment from the master account under the
// sequence-number lease, activating the destination first if the ledger does
// not know it yet.
func (s *Service) fundFromMaster(ctx context.Context, w *models.Wallet, amt decimal.Decimal, memo string) (stellar.PaymentResult, error) {
	holder := uuid.NewString()
	acquired := false
	for i := 0; i < leaseRetryAttempts; i++ {
		ok, err := s.locks.Acquire(ctx, masterFundingLeaseKey, holder, fundingLeaseTTL)
		if err != nil {
			return stellar.PaymentResult{}, err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return stellar.PaymentResult{}, ctx.Err()
		case <-time.After(leaseRetryInterval):
		}
	}
	if !acquired {
		return stellar.PaymentResult{}, apperr.New(apperr.CodeConflict, "another funding operation is in progress, try again")
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), masterFundingLeaseKey, holder); err != nil {
			s.log.Warn("lease release failed", "key", masterFundingLeaseKey, "error", err)
		}
	}()

	onLedger, err := s.gateway.GetBalance(ctx, w.PublicAddress)
	if err != nil {
		return stellar.PaymentResult{}, err
	}
	if onLedger.IsZero() {
		if err := s.gateway.ActivateAccount(ctx, w.PublicAddress); err != nil {
			return stellar.PaymentResult{}, err
		}
	}
	return s.gateway.SubmitFromMaster(ctx, w.PublicAddress, amt, memo)
}
