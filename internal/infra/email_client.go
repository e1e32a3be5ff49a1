package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// EmailMessage is a templated email request for the delivery service. Data
// carries the template variables (order number, items, totals, slot, ...).
type EmailMessage struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// Templates known to the delivery service.
const (
	TemplateOrderConfirmation       = "order-confirmation"
	TemplateOrderCancelled          = "order-cancelled"
	TemplateReservationConfirmation = "reservation-confirmation"
)

// EmailClient posts templated emails to the delivery service. Sending is
// best-effort everywhere it is used: a handful of retries, then give up.
type EmailClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retries    int
	backoff    time.Duration
}

func NewEmailClient(baseURL, apiKey string, timeout time.Duration) *EmailClient {
	return &EmailClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retries:    2,
		backoff:    500 * time.Millisecond,
	}
}

func (c *EmailClient) Send(ctx context.Context, msg EmailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		if lastErr = c.send(ctx, body); lastErr == nil {
			return nil
		}
		log.Printf("email send attempt %d failed: %v", attempt+1, lastErr)
	}
	return lastErr
}

func (c *EmailClient) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
	return nil
}
