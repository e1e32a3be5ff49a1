package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAmount is returned before any gateway call when the charge amount
// is not a positive integer number of minor units.
var ErrInvalidAmount = errors.New("payment amount must be a positive integer of minor units")

// IntentSucceeded is the only gateway status that permits order creation.
const IntentSucceeded = "succeeded"

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type RefundResult struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

type gatewayError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// PaymentClient is a thin wrapper over the external payment gateway's
// create/retrieve/refund operations.
type PaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPaymentClient(baseURL, apiKey string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *PaymentClient) CreateIntent(ctx context.Context, amountMinor int64, currency string) (*PaymentIntent, error) {
	if amountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", currency)

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *PaymentClient) RetrieveIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	if intentID == "" {
		return nil, errors.New("payment intent id required")
	}
	var intent PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *PaymentClient) Refund(ctx context.Context, intentID string) (*RefundResult, error) {
	if intentID == "" {
		return nil, errors.New("payment intent id required")
	}
	form := url.Values{}
	form.Set("payment_intent", intentID)

	var refund RefundResult
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *PaymentClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ge gatewayError
		if err := json.NewDecoder(resp.Body).Decode(&ge); err == nil && ge.Error.Message != "" {
			return fmt.Errorf("payment gateway: %s (%s)", ge.Error.Message, ge.Error.Type)
		}
		return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
