package coinpayments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "cashier-service/internal/pkg/errors"
)

const DefaultAPIURL = "https://www.coinpayments.net/api.php"

// Client is the subset of the CoinPayments merchant API the gateway uses.
type Client interface {
	GetBasicInfo(ctx context.Context) error
	CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*CreatedTransaction, error)
	GetTxInfo(ctx context.Context, txnID string) (*TxInfo, error)
}

type CreateTransactionRequest struct {
	Amount          string
	Currency        string // currency1, the invoice currency
	ReceiveCurrency string // currency2, what the merchant is paid in
	ItemName        string
	ItemNumber      string
	BuyerEmail      string
	Custom          string
}

type CreatedTransaction struct {
	TxnID       string `json:"txn_id"`
	Amount      string `json:"amount"`
	Address     string `json:"address"`
	CheckoutURL string `json:"checkout_url"`
	StatusURL   string `json:"status_url"`
	QRCodeURL   string `json:"qrcode_url"`
	Timeout     int    `json:"timeout"`
}

type TxInfo struct {
	Status     int             `json:"status"`
	StatusText string          `json:"status_text"`
	Coin       string          `json:"coin"`
	Amountf    string          `json:"amountf"`
	Receivedf  string          `json:"receivedf"`
	Raw        json.RawMessage `json:"-"`
}

type envelope struct {
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

type httpClient struct {
	httpClient *http.Client
	apiURL     string
	publicKey  string
	privateKey string
}

func NewClient(apiURL, publicKey, privateKey string) Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &httpClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     apiURL,
		publicKey:  publicKey,
		privateKey: privateKey,
	}
}

// Sign returns the hex HMAC-SHA512 of body, as carried in the HMAC header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}

func (c *httpClient) call(ctx context.Context, cmd string, params url.Values) (json.RawMessage, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("version", "1")
	form.Set("cmd", cmd)
	form.Set("key", c.publicKey)
	form.Set("format", "json")
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", cmd, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HMAC", Sign(c.privateKey, []byte(body)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("coinpayments "+cmd, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("coinpayments "+cmd, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, xerrors.ProviderUnavailable("coinpayments "+cmd,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, xerrors.ProviderUnavailable("coinpayments "+cmd, fmt.Errorf("decode response: %w", err))
	}
	if env.Error != "ok" {
		return nil, xerrors.RemoteRejected(resp.StatusCode, env.Error)
	}
	return env.Result, nil
}

func (c *httpClient) GetBasicInfo(ctx context.Context) error {
	_, err := c.call(ctx, "get_basic_info", nil)
	return err
}

func (c *httpClient) CreateTransaction(ctx context.Context, r CreateTransactionRequest) (*CreatedTransaction, error) {
	result, err := c.call(ctx, "create_transaction", url.Values{
		"amount":      {r.Amount},
		"currency1":   {r.Currency},
		"currency2":   {r.ReceiveCurrency},
		"item_name":   {r.ItemName},
		"item_number": {r.ItemNumber},
		"buyer_email": {r.BuyerEmail},
		"custom":      {r.Custom},
	})
	if err != nil {
		return nil, err
	}
	var out CreatedTransaction
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode create_transaction result: %w", err)
	}
	return &out, nil
}

func (c *httpClient) GetTxInfo(ctx context.Context, txnID string) (*TxInfo, error) {
	result, err := c.call(ctx, "get_tx_info", url.Values{"txid": {txnID}, "full": {"1"}})
	if err != nil {
		return nil, err
	}
	var out TxInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode get_tx_info result: %w", err)
	}
	out.Raw = result
	return &out, nil
}
