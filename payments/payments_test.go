package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// mockService points the Stripe client at a local test server.
func mockService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL: stripe.String(server.URL),
	})
	api := &client.API{}
	api.Init("sk_test_mock", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Service{API: api, ReturnURL: "https://clipt.gg"}
}

func TestService_NotConfigured(t *testing.T) {
	svc := NewService("", "https://clipt.gg")

	_, err := svc.CreateCheckoutSession(context.Background(), "tier1", "price_123", "streamer")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateCheckoutSession() error = %v, want ErrNotConfigured", err)
	}
	_, err = svc.CreateConnectAccount(context.Background(), "u1", "a@b.c", "Streamer")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateConnectAccount() error = %v, want ErrNotConfigured", err)
	}
}

func TestService_CreateCheckoutSessionValidation(t *testing.T) {
	svc := mockService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no Stripe call expected for invalid input")
	})

	if _, err := svc.CreateCheckoutSession(context.Background(), "tier1", "", "streamer"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing priceId: error = %v, want ErrBadRequest", err)
	}
	if _, err := svc.CreateCheckoutSession(context.Background(), "tier1", "price_123", ""); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing streamerUsername: error = %v, want ErrBadRequest", err)
	}
}

func TestService_CreateCheckoutSession(t *testing.T) {
	svc := mockService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s, want /v1/checkout/sessions", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("line_items[0][price]"); got != "price_123" {
			t.Errorf("price = %s, want price_123", got)
		}
		if got := r.PostForm.Get("metadata[streamer_username]"); got != "ninja" {
			t.Errorf("metadata streamer_username = %s, want ninja", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_123","url":"https://checkout.stripe.com/pay/cs_test_123"}`))
	})

	sess, err := svc.CreateCheckoutSession(context.Background(), "gold", "price_123", "ninja")
	if err != nil {
		t.Fatalf("CreateCheckoutSession() error = %v", err)
	}
	if sess.SessionID != "cs_test_123" {
		t.Errorf("SessionID = %s, want cs_test_123", sess.SessionID)
	}
}

func TestService_CreateConnectAccount(t *testing.T) {
	svc := mockService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/accounts":
			w.Write([]byte(`{"id":"acct_test_456"}`))
		case "/v1/account_links":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if got := r.PostForm.Get("account"); got != "acct_test_456" {
				t.Errorf("account = %s, want acct_test_456", got)
			}
			w.Write([]byte(`{"url":"https://connect.stripe.com/setup/s/abc"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	acct, err := svc.CreateConnectAccount(context.Background(), "u1", "streamer@clipt.gg", "Ninja")
	if err != nil {
		t.Fatalf("CreateConnectAccount() error = %v", err)
	}
	if acct.AccountID != "acct_test_456" {
		t.Errorf("AccountID = %s, want acct_test_456", acct.AccountID)
	}
	if acct.URL != "https://connect.stripe.com/setup/s/abc" {
		t.Errorf("URL = %s", acct.URL)
	}
}
