package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"wellnest/internal/metrics"
	"wellnest/internal/util"
	"wellnest/pkg/domain"
	"wellnest/pkg/events"
	"wellnest/pkg/payment"
	"wellnest/pkg/store"
)

// CheckoutInput is a checkout initialization request. Amount is kept as sent.
type CheckoutInput struct {
	Email       string
	Amount      json.RawMessage
	RedirectURL string
}

// amountMissing treats absent, null, false, zero and empty-string amounts as
// not provided.
func amountMissing(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	r := gjson.ParseBytes(raw)
	switch r.Type {
	case gjson.Null, gjson.False:
		return true
	case gjson.Number:
		return r.Num == 0
	case gjson.String:
		return r.Str == ""
	}
	return false
}

// InitializeCheckout starts a hosted checkout and returns IntaSend's reply as
// received. A pending payment is recorded when the reply names a checkout id.
func (a *App) InitializeCheckout(ctx context.Context, in CheckoutInput) (payment.Response, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || amountMissing(in.Amount) {
		return payment.Response{}, ErrEmailAndAmountRequired
	}
	if a.payments == nil {
		return payment.Response{}, ErrPaymentsDisabled
	}
	resp, err := a.payments.InitializeCheckout(ctx, payment.CheckoutRequest{
		Email:       email,
		Amount:      in.Amount,
		RedirectURL: in.RedirectURL,
	})
	if err != nil {
		return payment.Response{}, a.paymentTransportError(ctx, err)
	}
	logger := util.LoggerFromContext(ctx)
	if resp.Status >= 300 {
		logger.Warn("checkout initialization rejected", "upstream", "intasend", "status", resp.Status)
		return resp, nil
	}
	if id := payment.CheckoutID(resp.Body); id != "" {
		now := a.now()
		pending := domain.Payment{
			Reference: id,
			Email:     normalizeEmail(email),
			Amount:    gjson.ParseBytes(in.Amount).String(),
			Currency:  a.payments.Currency(),
			Status:    domain.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.SavePendingPayment(ctx, pending); err != nil {
			logger.Warn("record pending payment failed", "reference", id, "err", err)
		}
	}
	return resp, nil
}

// VerifyPayment fetches the checkout status and settles it when IntaSend
// reports it paid. The upstream reply is returned as received.
func (a *App) VerifyPayment(ctx context.Context, reference string) (payment.Response, error) {
	reference = strings.TrimSpace(reference)
	if a.payments == nil {
		return payment.Response{}, ErrPaymentsDisabled
	}
	resp, err := a.payments.CheckoutStatus(ctx, reference)
	if err != nil {
		return payment.Response{}, a.paymentTransportError(ctx, err)
	}
	if resp.Status >= 300 {
		util.LoggerFromContext(ctx).Warn("checkout status rejected", "upstream", "intasend", "status", resp.Status, "reference", reference)
		return resp, nil
	}
	if err := a.settleIfPaid(ctx, reference, resp.Body); err != nil {
		return payment.Response{}, err
	}
	return resp, nil
}

// settleIfPaid settles reference from a checkout status reply. The account
// credited is the one IntaSend reports, never one supplied by the caller.
func (a *App) settleIfPaid(ctx context.Context, reference string, body []byte) error {
	result := payment.ParseCheckoutResult(body)
	if !result.Paid() {
		return nil
	}
	currency := result.Currency
	if currency == "" {
		currency = a.payments.Currency()
	}
	return a.settle(ctx, store.Settlement{
		Reference: reference,
		Email:     result.Email,
		Amount:    result.Amount,
		Currency:  currency,
	})
}

// HandleWebhook records an IntaSend collection event. A complete event
// settles the referenced payment directly only when the webhook challenge is
// configured and matched. Without a challenge the event is unauthenticated,
// so the checkout status is fetched from IntaSend and settled only if paid.
// Valid JSON that is not an object is acknowledged and ignored.
func (a *App) HandleWebhook(ctx context.Context, body []byte) error {
	ev, err := payment.ParseWebhook(body)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNotAnEvent):
			util.LoggerFromContext(ctx).Info("ignoring webhook without event fields")
			return nil
		case errors.Is(err, payment.ErrMalformedWebhook):
			return ErrInvalidJSON
		}
		return fmt.Errorf("parse webhook: %w", err)
	}
	if !payment.VerifyChallenge(ev, a.webhookChallenge) {
		return ErrInvalidWebhook
	}
	record := domain.PaymentEvent{
		ID:         util.NewTimeID("evt"),
		InvoiceID:  ev.InvoiceID,
		State:      ev.State,
		APIRef:     ev.APIRef,
		Payload:    body,
		ReceivedAt: a.now(),
	}
	if err := a.store.SavePaymentEvent(ctx, record); err != nil {
		return fmt.Errorf("save payment event: %w", err)
	}
	if !ev.Complete() || ev.Reference() == "" {
		return nil
	}
	if a.webhookChallenge == "" {
		return a.confirmWebhook(ctx, ev.Reference())
	}
	if ev.Account == "" {
		return nil
	}
	return a.settle(ctx, store.Settlement{
		Reference: ev.Reference(),
		Email:     ev.Account,
		Amount:    ev.Value,
		Currency:  ev.Currency,
	})
}

// confirmWebhook asks IntaSend for the checkout status of an unauthenticated
// complete event.
func (a *App) confirmWebhook(ctx context.Context, reference string) error {
	logger := util.LoggerFromContext(ctx)
	if a.payments == nil {
		logger.Warn("unverified webhook not settled: payments disabled", "reference", reference)
		return nil
	}
	resp, err := a.payments.CheckoutStatus(ctx, reference)
	if err != nil {
		return a.paymentTransportError(ctx, err)
	}
	if resp.Status >= 300 {
		logger.Warn("unverified webhook not confirmed", "upstream", "intasend", "status", resp.Status, "reference", reference)
		return nil
	}
	return a.settleIfPaid(ctx, reference, resp.Body)
}

func (a *App) settle(ctx context.Context, in store.Settlement) error {
	logger := util.LoggerFromContext(ctx)
	res, err := a.store.SettlePayment(ctx, in)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	switch {
	case res.AlreadySettled:
		logger.Info("payment already settled", "reference", in.Reference)
		return nil
	case !res.Credited:
		logger.Warn("paid checkout matches no account", "reference", in.Reference)
	}
	metrics.PaymentSettled()
	if !res.Credited {
		return nil
	}
	ev := events.PaymentSettled{
		Reference: res.Payment.Reference,
		UserID:    res.Payment.UserID,
		Email:     res.Payment.Email,
		Amount:    res.Payment.Amount,
		Currency:  res.Payment.Currency,
		SettledAt: res.Payment.UpdatedAt,
	}
	if err := a.events.PublishPaymentSettled(ctx, ev); err != nil {
		logger.Warn("publish payment settled failed", "reference", in.Reference, "err", err)
	}
	return nil
}

func (a *App) paymentTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("intasend: %w", ctx.Err())
	}
	util.LoggerFromContext(ctx).Error("payment upstream unreachable", "upstream", "intasend", "err", err)
	return &UpstreamError{Service: "intasend", Body: []byte(err.Error())}
}
