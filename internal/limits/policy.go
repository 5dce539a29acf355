// Package limits holds the funding and transaction rate policies as pure
// functions over values passed in; no I/O happens here.
//
// All windows use the server-local calendar day. The same boundary applies to
// funding counter resets and to the daily send-volume cap.
package limits

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenpay/backend/internal/apperr"
	"github.com/lumenpay/backend/internal/models"
)

// FundingPolicy caps how often and how much a wallet can be funded per day.
type FundingPolicy struct {
	MaxFundingsPerDay int
	DailyFundingLimit decimal.Decimal
}

// AmountPolicy bounds a single transaction amount.
type AmountPolicy struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// ValidateAmount rejects non-positive amounts, amounts outside [Min, Max],
// and amounts with more than 7 fractional digits (native ledger precision).
func ValidateAmount(amount decimal.Decimal, p AmountPolicy) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return apperr.New(apperr.CodeValidation, "amount must be positive")
	}
	if amount.Exponent() < -7 {
		return apperr.New(apperr.CodeValidation, "amount precision exceeds 7 decimal places")
	}
	if amount.LessThan(p.Min) || amount.GreaterThan(p.Max) {
		return apperr.Newf(apperr.CodeValidation, "amount must be between %s and %s", p.Min, p.Max).
			WithMeta(map[string]string{"min": p.Min.String(), "max": p.Max.String()})
	}
	return nil
}

// CheckDailySendVolume enforces the per-sender daily cumulative cap across
// PENDING and SUCCESS transactions created today.
func CheckDailySendVolume(dailySum, amount, limit decimal.Decimal) error {
	if dailySum.Add(amount).GreaterThan(limit) {
		return apperr.New(apperr.CodeLimitExceeded, "daily transaction limit exceeded").
			WithMeta(map[string]string{
				"daily_limit": limit.String(),
				"used_today":  dailySum.String(),
				"requested":   amount.String(),
			})
	}
	return nil
}

// FundingCounters is the wallet funding bookkeeping after a reset check.
type FundingCounters struct {
	FundingCount    int
	DailyFundingSum decimal.Decimal
	LastResetDate   time.Time
}

// ResetIfNewDay returns the wallet's funding counters, zeroed when the last
// reset fell on an earlier calendar day than now.
func ResetIfNewDay(w *models.Wallet, now time.Time) FundingCounters {
	if SameCalendarDay(w.LastResetDate, now) {
		return FundingCounters{
			FundingCount:    w.FundingCount,
			DailyFundingSum: w.DailyFundingSum,
			LastResetDate:   w.LastResetDate,
		}
	}
	return FundingCounters{DailyFundingSum: decimal.Zero, LastResetDate: DayStart(now)}
}

// CheckFunding validates a funding request against the policy, after the
// counters have been reset for the current day. The frozen-wallet check comes
// first: a frozen wallet is rejected regardless of remaining allowance.
func CheckFunding(w *models.Wallet, counters FundingCounters, amount decimal.Decimal, p FundingPolicy) error {
	if w.Status == models.WalletStatusFrozen {
		return apperr.New(apperr.CodeWalletFrozen, "wallet is frozen")
	}
	if w.Status == models.WalletStatusClosed {
		return apperr.New(apperr.CodeValidation, "wallet is closed")
	}
	if counters.FundingCount >= p.MaxFundingsPerDay {
		return apperr.Newf(apperr.CodeRateLimitExceeded, "funding limit of %d per day reached", p.MaxFundingsPerDay)
	}
	if counters.DailyFundingSum.Add(amount).GreaterThan(p.DailyFundingLimit) {
		return apperr.New(apperr.CodeLimitExceeded, "daily funding amount limit exceeded").
			WithMeta(map[string]string{
				"daily_limit": p.DailyFundingLimit.String(),
				"used_today":  counters.DailyFundingSum.String(),
				"requested":   amount.String(),
			})
	}
	return nil
}

// DayStart returns local midnight of the given time.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameCalendarDay reports whether both times fall on the same server-local day.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
