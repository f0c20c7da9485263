package payment

import (
	"crypto/subtle"
	"errors"

	"github.com/tidwall/gjson"
)

// StateComplete is the webhook state for a finished collection.
const StateComplete = "COMPLETE"

var (
	// ErrMalformedWebhook is returned for bodies that are not valid JSON.
	ErrMalformedWebhook = errors.New("webhook body is not valid json")
	// ErrNotAnEvent is returned for valid JSON that is not an object and so
	// carries no event fields.
	ErrNotAnEvent = errors.New("webhook body is not a json object")
)

// WebhookEvent is a collection event posted by IntaSend.
type WebhookEvent struct {
	InvoiceID string
	State     string
	APIRef    string
	Account   string
	Value     string
	Currency  string
	Challenge string
}

// Reference is the checkout reference the event settles: api_ref, falling
// back to invoice_id.
func (e WebhookEvent) Reference() string {
	if e.APIRef != "" {
		return e.APIRef
	}
	return e.InvoiceID
}

// Complete reports whether the event finishes a payment.
func (e WebhookEvent) Complete() bool {
	return e.State == StateComplete
}

// ParseWebhook reads the fields used for settlement from a webhook body.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	if !gjson.ValidBytes(body) {
		return WebhookEvent{}, ErrMalformedWebhook
	}
	if !gjson.ParseBytes(body).IsObject() {
		return WebhookEvent{}, ErrNotAnEvent
	}
	res := gjson.GetManyBytes(body, "invoice_id", "state", "api_ref", "account", "value", "currency", "challenge")
	return WebhookEvent{
		InvoiceID: res[0].String(),
		State:     res[1].String(),
		APIRef:    res[2].String(),
		Account:   res[3].String(),
		Value:     res[4].String(),
		Currency:  res[5].String(),
		Challenge: res[6].String(),
	}, nil
}

// VerifyChallenge compares the event challenge with the configured secret in
// constant time. An empty expected value accepts every event; callers must
// then treat the event as unauthenticated.
func VerifyChallenge(ev WebhookEvent, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(ev.Challenge), []byte(expected)) == 1
}
