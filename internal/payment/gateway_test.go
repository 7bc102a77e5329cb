package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRazorpayClientCreateAndFetch(t *testing.T) {
	var gotAuthUser string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthUser, _, _ = r.BasicAuth()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":       "order_123",
				"amount":   body["amount"],
				"currency": body["currency"],
				"receipt":  body["receipt"],
				"status":   "created",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/orders/order_123":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":       "order_123",
				"amount":   50000,
				"currency": "INR",
				"receipt":  "appt-1",
				"status":   "paid",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewRazorpayClient(srv.URL, "key_id", "key_secret", 5*time.Second)

	order, err := client.CreateOrder(context.Background(), 50000, "INR", "appt-1")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_123" || order.Status != StatusCreated || order.Receipt != "appt-1" {
		t.Errorf("unexpected order: %+v", order)
	}
	if gotAuthUser != "key_id" {
		t.Errorf("basic auth user = %q, want key_id", gotAuthUser)
	}

	fetched, err := client.FetchOrder(context.Background(), "order_123")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if fetched.Status != StatusPaid {
		t.Errorf("status = %s, want paid", fetched.Status)
	}
}

func TestRazorpayClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewRazorpayClient(srv.URL, "k", "s", 50*time.Millisecond)

	if _, err := client.FetchOrder(context.Background(), "order_slow"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRazorpayClientNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"description":"amount required"}}`))
	}))
	defer srv.Close()

	client := NewRazorpayClient(srv.URL, "k", "s", time.Second)

	if _, err := client.CreateOrder(context.Background(), 0, "INR", "x"); err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestStripeClientCreateCheckoutSession(t *testing.T) {
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotForm = map[string]string{
			"mode":        r.PostForm.Get("mode"),
			"success_url": r.PostForm.Get("success_url"),
			"amount":      r.PostForm.Get("line_items[0][price_data][unit_amount]"),
			"currency":    r.PostForm.Get("line_items[0][price_data][currency]"),
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_1",
			"url": "https://checkout.example/cs_test_1",
		})
	}))
	defer srv.Close()

	client := NewStripeClient(srv.URL, "sk_test", 5*time.Second)

	url, err := client.CreateCheckoutSession(context.Background(), 50000, "INR", "Consultation Fee",
		"https://app.example/verify?success=true", "https://app.example/verify?success=false")
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if !strings.HasPrefix(url, "https://checkout.example/") {
		t.Errorf("session url = %q", url)
	}

	if gotForm["mode"] != "payment" {
		t.Errorf("mode = %q, want payment", gotForm["mode"])
	}
	if gotForm["amount"] != "50000" {
		t.Errorf("unit_amount = %q, want 50000", gotForm["amount"])
	}
	if gotForm["currency"] != "inr" {
		t.Errorf("currency = %q, want lowercased inr", gotForm["currency"])
	}
}
