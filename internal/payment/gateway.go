package payment

import (
	"context"
)

// OrderStatus is the settlement state a pull gateway reports for an order.
// Only StatusPaid ever triggers reconciliation; everything else, including
// states this code has never seen, reads as not-confirmed.
type OrderStatus string

const (
	StatusPaid      OrderStatus = "paid"
	StatusAttempted OrderStatus = "attempted"
	StatusCreated   OrderStatus = "created"
)

// Order is a pull gateway's view of a payment intent. Receipt carries the
// appointment ID back from the gateway so a confirmation can be tied to the
// appointment it settles.
type Order struct {
	ID          string
	Status      OrderStatus
	AmountMinor int64 // minor currency units (paise, cents)
	Currency    string
	Receipt     string
}

// PullGateway is the order-style provider: the client creates an order,
// completes payment out of band, then asks the gateway whether it settled.
type PullGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}

// PushGateway is the hosted-checkout provider: the client is redirected to a
// session URL and the confirmation comes back as an inbound signal carrying
// the appointment ID and a success flag.
type PushGateway interface {
	CreateCheckoutSession(ctx context.Context, amountMinor int64, currency, productName, successURL, cancelURL string) (sessionURL string, err error)
}
