package auditlog

import "time"

type Type string

const (
	TypeSubscribed   Type = "subscribed"
	TypePaid         Type = "paid"
	TypeRenewed      Type = "renewed"
	TypePlanChanged  Type = "plan_changed"
	TypeCancelledNow Type = "cancelled_now"
	TypeExpiring     Type = "expiring"
	TypeEnded        Type = "ended"
	TypeError        Type = "error"
)

// Entry is one line of a subscription's audit trail. Seq orders entries of
// the same subscription and is assigned by the store on append.
type Entry struct {
	ID             string            `json:"id" db:"id"`
	SubscriptionID string            `json:"subscription_id" db:"subscription_id"`
	Seq            int64             `json:"seq" db:"seq"`
	Type           Type              `json:"type" db:"type"`
	Payload        map[string]string `json:"payload,omitempty" db:"payload"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

func New(typ Type, payload map[string]string) *Entry {
	return &Entry{Type: typ, Payload: payload}
}

// Types returns the entry types in order.
func Types(entries []*Entry) []Type {
	out := make([]Type, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Type)
	}
	return out
}
