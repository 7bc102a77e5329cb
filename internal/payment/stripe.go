package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient creates hosted checkout sessions. The success/cancel URLs
// carry the appointment ID back to the verify endpoint; signature checking of
// that inbound confirmation is the transport layer's job, not ours.
type StripeClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewStripeClient(baseURL, secretKey string, timeout time.Duration) *StripeClient {
	return &StripeClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, amountMinor int64, currency, productName, successURL, cancelURL string) (string, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", productName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stripe returned %d: %s", resp.StatusCode, raw)
	}

	var sess stripeSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return "", fmt.Errorf("decode stripe session: %w", err)
	}

	return sess.URL, nil
}
