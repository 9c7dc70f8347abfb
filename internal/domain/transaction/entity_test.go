package transaction

import (
	"testing"
	"time"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pending(id string, typ Type) *Transaction {
	return New(id, "sub_1", typ, decimal.NewFromInt(10), "USD", "plan_basic", now.AddDate(0, 1, 0), now)
}

func TestStatusMovesOnceFromPending(t *testing.T) {
	ok := pending("t1", TypeRenew)
	require.NoError(t, ok.SetSuccess(now))
	assert.ErrorIs(t, ok.SetFailed("late failure", now), xerrors.ErrInvalidTransition)
	assert.ErrorIs(t, ok.SetSuccess(now), xerrors.ErrInvalidTransition)
	assert.Equal(t, StatusSuccess, ok.Status)

	failed := pending("t2", TypeRenew)
	require.NoError(t, failed.SetFailed("declined", now))
	assert.ErrorIs(t, failed.SetSuccess(now), xerrors.ErrInvalidTransition)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "declined", failed.Error)
}

func TestRecordRemoteUpdatesDescription(t *testing.T) {
	txn := pending("t1", TypeSubscribe)
	at := now.Add(time.Minute)

	txn.RecordRemote(RemoteStatus{Code: 0, Text: "Waiting for buyer funds...", Outcome: OutcomePending, FetchedAt: at})

	require.NotNil(t, txn.Remote)
	assert.Equal(t, "Waiting for buyer funds...", txn.Description)
	assert.Equal(t, at, txn.UpdatedAt)
	assert.True(t, txn.IsPending())
}

func TestLedgerQueries(t *testing.T) {
	sub := pending("t1", TypeSubscribe)
	require.NoError(t, sub.SetSuccess(now))
	renew := pending("t2", TypeRenew)
	require.NoError(t, renew.SetFailed("x", now))
	change := pending("t3", TypeChangePlan)
	ledger := []*Transaction{sub, renew, change}

	assert.Equal(t, "t3", Last(ledger).ID)
	assert.Equal(t, "t1", Init(ledger).ID)
	assert.Equal(t, "t3", Pending(ledger).ID)

	assert.Nil(t, Last(nil))
	assert.Nil(t, Init([]*Transaction{renew}))
	assert.Nil(t, Pending([]*Transaction{sub, renew}))
}
