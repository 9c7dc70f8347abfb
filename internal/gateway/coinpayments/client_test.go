package coinpayments

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSignsRequests(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, Sign("private", body), r.Header.Get("HMAC"))
		form, _ = url.ParseQuery(string(body))
		w.Write([]byte(`{"error":"ok","result":{"txn_id":"CPTX1","checkout_url":"https://cp.example/checkout","status_url":"https://cp.example/status","qrcode_url":"https://cp.example/qr"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "public", "private")
	created, err := c.CreateTransaction(context.Background(), CreateTransactionRequest{
		Amount:          "10.00",
		Currency:        "USD",
		ReceiveCurrency: "BTC",
		ItemNumber:      "inv_1",
		BuyerEmail:      "jane@example.com",
		Custom:          `{"invoice_uid":"inv_1"}`,
	})

	require.NoError(t, err)
	assert.Equal(t, "CPTX1", created.TxnID)
	assert.Equal(t, "https://cp.example/checkout", created.CheckoutURL)
	assert.Equal(t, "create_transaction", form.Get("cmd"))
	assert.Equal(t, "public", form.Get("key"))
	assert.Equal(t, "1", form.Get("version"))
	assert.Equal(t, "USD", form.Get("currency1"))
	assert.Equal(t, "BTC", form.Get("currency2"))
	assert.Equal(t, `{"invoice_uid":"inv_1"}`, form.Get("custom"))
}

func TestClientMapsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Invalid API key","result":[]}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "public", "private").GetBasicInfo(context.Background())

	kind, ok := xerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.KindRemoteRejected, kind)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestClientProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "public", "private").GetTxInfo(context.Background(), "CPTX1")

	kind, _ := xerrors.KindOf(err)
	assert.Equal(t, xerrors.KindProviderUnavailable, kind)
}

func TestGetTxInfoKeepsRawPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"ok","result":{"status":1,"status_text":"Coin Confirmed","coin":"BTC"}}`))
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL, "public", "private").GetTxInfo(context.Background(), "CPTX1")

	require.NoError(t, err)
	assert.Equal(t, 1, info.Status)
	assert.Equal(t, "Coin Confirmed", info.StatusText)
	assert.JSONEq(t, `{"status":1,"status_text":"Coin Confirmed","coin":"BTC"}`, string(info.Raw))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		code int
		want string
		text string
	}{
		{-2, "failed", "Refund / Reversal"},
		{-1, "failed", "Cancelled / Timed Out"},
		{0, "pending", "Waiting"},
		{1, "pending", "Coin Confirmed"},
		{2, "pending", "Queued"},
		{3, "pending", "PayPal Pending"},
		{100, "success", "Complete"},
	}
	for _, tt := range tests {
		got, err := Outcome(tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), "code %d", tt.code)
		text, ok := StatusText(tt.code)
		assert.True(t, ok)
		assert.Equal(t, tt.text, text)
	}

	for _, code := range []int{-3, 4, 99, 101} {
		_, err := Outcome(code)
		kind, _ := xerrors.KindOf(err)
		assert.Equal(t, xerrors.KindUnmappedStatus, kind, "code %d", code)
	}
}
