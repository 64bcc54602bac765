// Package payments wraps the Stripe operations behind the subscription and
// streamer-payout endpoints: subscription checkout sessions and express
// Connect account onboarding.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

var (
	// ErrNotConfigured is returned when no Stripe secret key is set.
	ErrNotConfigured = errors.New("stripe not configured")
	// ErrBadRequest wraps caller input validation failures.
	ErrBadRequest = errors.New("invalid payment request")
)

// Service executes Stripe calls with an injected API client.
type Service struct {
	API       *client.API
	ReturnURL string // base URL the checkout/onboarding flows redirect back to
}

// NewService builds a Service for the given secret key. Returns a disabled
// service (nil API) when the key is empty; calls then fail with ErrNotConfigured.
func NewService(secretKey, returnURL string) *Service {
	s := &Service{ReturnURL: strings.TrimRight(returnURL, "/")}
	if secretKey != "" {
		api := &client.API{}
		api.Init(secretKey, nil)
		s.API = api
	}
	return s
}

// CheckoutSession is the response of CreateCheckoutSession.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

// CreateCheckoutSession creates a subscription checkout session for a
// streamer's tier. priceID is a Stripe price id; tier and streamerUsername
// travel as metadata for the webhook consumer.
func (s *Service) CreateCheckoutSession(ctx context.Context, tier, priceID, streamerUsername string) (*CheckoutSession, error) {
	if s.API == nil {
		return nil, ErrNotConfigured
	}
	if priceID == "" {
		return nil, fmt.Errorf("%w: priceId required", ErrBadRequest)
	}
	if streamerUsername == "" {
		return nil, fmt.Errorf("%w: streamerUsername required", ErrBadRequest)
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(s.ReturnURL + "/subscribe/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.ReturnURL + "/subscribe/cancel"),
	}
	params.Context = ctx
	params.AddMetadata("tier", tier)
	params.AddMetadata("streamer_username", streamerUsername)
	sess, err := s.API.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// ConnectAccount is the response of CreateConnectAccount.
type ConnectAccount struct {
	AccountID string `json:"accountId"`
	URL       string `json:"url"`
}

// CreateConnectAccount creates an express account for a streamer and returns
// the onboarding link they must complete before receiving payouts.
func (s *Service) CreateConnectAccount(ctx context.Context, streamerID, email, name string) (*ConnectAccount, error) {
	if s.API == nil {
		return nil, ErrNotConfigured
	}
	if streamerID == "" || email == "" {
		return nil, fmt.Errorf("%w: streamerId and streamerEmail required", ErrBadRequest)
	}
	acctParams := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
		BusinessProfile: &stripe.AccountBusinessProfileParams{
			Name: stripe.String(name),
		},
	}
	acctParams.Context = ctx
	acctParams.AddMetadata("streamer_id", streamerID)
	acct, err := s.API.Accounts.New(acctParams)
	if err != nil {
		return nil, fmt.Errorf("create connect account: %w", err)
	}

	linkParams := &stripe.AccountLinkParams{
		Account:    stripe.String(acct.ID),
		RefreshURL: stripe.String(s.ReturnURL + "/payouts/refresh"),
		ReturnURL:  stripe.String(s.ReturnURL + "/payouts/complete"),
		Type:       stripe.String("account_onboarding"),
	}
	linkParams.Context = ctx
	link, err := s.API.AccountLinks.New(linkParams)
	if err != nil {
		return nil, fmt.Errorf("create account link: %w", err)
	}
	return &ConnectAccount{AccountID: acct.ID, URL: link.URL}, nil
}
