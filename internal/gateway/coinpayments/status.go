package coinpayments

import (
	"cashier-service/internal/domain/transaction"
	xerrors "cashier-service/internal/pkg/errors"
)

const StatusComplete = 100

var statusText = map[int]string{
	-2:  "Refund / Reversal",
	-1:  "Cancelled / Timed Out",
	0:   "Waiting",
	1:   "Coin Confirmed",
	2:   "Queued",
	3:   "PayPal Pending",
	100: "Complete",
}

// StatusText returns the label of a known CoinPayments status code.
func StatusText(code int) (string, bool) {
	text, ok := statusText[code]
	return text, ok
}

// Outcome maps a status code onto the ledger. Codes outside the table are
// rejected rather than guessed.
func Outcome(code int) (transaction.Outcome, error) {
	if _, ok := statusText[code]; !ok {
		return "", xerrors.UnmappedStatus(code)
	}
	switch {
	case code >= StatusComplete:
		return transaction.OutcomeSuccess, nil
	case code < 0:
		return transaction.OutcomeFailed, nil
	default:
		return transaction.OutcomePending, nil
	}
}
