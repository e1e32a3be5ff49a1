package infra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// Gateway event types this service reacts to. Anything else is acknowledged
// and ignored.
const (
	EventPaymentFailed = "payment_intent.payment_failed"
	EventChargeRefund  = "charge.refunded"
)

// WebhookEvent is the gateway's callback payload, decoded just far enough to
// route it.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
			Status        string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent decodes the raw callback body.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errors.New("webhook event missing id or type")
	}
	return &ev, nil
}

// IntentID returns the payment intent the event refers to, whichever field
// the gateway used for this event type.
func (ev *WebhookEvent) IntentID() string {
	if ev.Data.Object.PaymentIntent != "" {
		return ev.Data.Object.PaymentIntent
	}
	return ev.Data.Object.ID
}

// VerifyWebhookSignature checks the gateway's signature header against the
// raw payload. The header carries "t=<unix>,v1=<hex hmac>" where the hmac is
// SHA-256 over "<t>.<payload>" keyed with the endpoint secret. Timestamps
// older than tolerance are rejected to block replays.
func VerifyWebhookSignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			ts = parsed
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrBadSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleTimestamp
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrBadSignature
}
