package paypal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	xerrors "cashier-service/internal/pkg/errors"
)

const (
	SandboxAPIURL    = "https://api-m.sandbox.paypal.com"
	ProductionAPIURL = "https://api-m.paypal.com"
)

// Client is the part of the Orders v2 API the gateway uses.
type Client interface {
	GetAccessToken(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*Order, error)
}

type CreateOrderRequest struct {
	ReferenceID string // subscription id
	CustomID    string // invoice id, echoed back on the order
	Description string
	Currency    string
	Value       string
	ReturnURL   string
	CancelURL   string
}

type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type Amount struct {
	Currency string `json:"currency_code"`
	Value    string `json:"value"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

type PurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id"`
	Payments    struct {
		Captures []Capture `json:"captures"`
	} `json:"payments"`
}

type Order struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Links         []Link          `json:"links"`
	PurchaseUnits []PurchaseUnit  `json:"purchase_units"`
	Raw           json.RawMessage `json:"-"`
}

// ApproveURL is where the payer approves the order.
func (o *Order) ApproveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

type httpClient struct {
	httpClient   *http.Client
	baseAPIURL   string
	clientID     string
	clientSecret string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(baseAPIURL, clientID, clientSecret string) Client {
	if baseAPIURL == "" {
		baseAPIURL = SandboxAPIURL
	}
	return &httpClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseAPIURL:   strings.TrimRight(baseAPIURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetAccessToken returns a cached client-credentials token, refreshing it a
// minute before PayPal expires it.
func (c *httpClient) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseAPIURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", xerrors.ProviderUnavailable("paypal token", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", xerrors.ProviderUnavailable("paypal token", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.RemoteRejected(resp.StatusCode, "paypal rejected client credentials")
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", xerrors.ProviderUnavailable("paypal token", fmt.Errorf("decode response: %w", err))
	}
	c.token = res.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(res.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload any) (*Order, error) {
	accessToken, err := c.GetAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get paypal access token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseAPIURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.ProviderUnavailable("paypal "+path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, xerrors.ProviderUnavailable("paypal "+path, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, xerrors.RemoteRejected(resp.StatusCode, "paypal error: "+string(raw))
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode paypal response: %w", err)
	}
	order.Raw = raw
	return &order, nil
}

func (c *httpClient) CreateOrder(ctx context.Context, r CreateOrderRequest) (*Order, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": r.ReferenceID,
				"custom_id":    r.CustomID,
				"description":  r.Description,
				"amount": map[string]string{
					"currency_code": r.Currency,
					"value":         r.Value,
				},
			},
		},
		"application_context": map[string]string{
			"return_url":  r.ReturnURL,
			"cancel_url":  r.CancelURL,
			"user_action": "PAY_NOW",
		},
	}
	return c.do(ctx, http.MethodPost, "/v2/checkout/orders", payload)
}

func (c *httpClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil)
}

func (c *httpClient) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	return c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", nil)
}
