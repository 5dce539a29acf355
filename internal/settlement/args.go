package settlement

import (
	"github.com/google/uuid"
)

// SettlePaymentArgs is the queue job payload. It carries only the transaction
// id; all other state is re-read from the store at processing time so the
// worker never acts on a stale snapshot.
type SettlePaymentArgs struct {
	TransactionID uuid.UUID `json:"transaction_id"`
}

func (SettlePaymentArgs) Kind() string { return "settle_payment" }
