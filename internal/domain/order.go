package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is a signed CLOB order ready for submission.
type Order struct {
	TokenID     string
	Maker       string
	Signer      string
	Side        OrderSide
	Type        OrderType
	Salt        string
	MakerAmount *big.Int // 6-decimal units: USDC for buys, shares for sells
	TakerAmount *big.Int // 6-decimal units: shares for buys, USDC for sells
	SigType     int
	Signature   string
	CreatedAt   time.Time
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success      bool
	OrderID      string
	Status       OrderStatus
	Message      string
	MakingAmount string // decimal string as returned by the CLOB
	TakingAmount string
}

// Fill is what an immediate-or-cancel order actually did. CostCents is the
// USDC paid for a buy or received for a sell.
type Fill struct {
	Filled    int
	CostCents int64
	OrderID   string
}

// AvgPriceCents returns the average fill price, or 0 when nothing filled.
func (f Fill) AvgPriceCents() int64 {
	if f.Filled <= 0 {
		return 0
	}
	return f.CostCents / int64(f.Filled)
}
