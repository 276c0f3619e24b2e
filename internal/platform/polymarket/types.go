package polymarket

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	ConditionID  string   `json:"conditionId"`
	Slug         string   `json:"slug"`
	Active       flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed       flexBool `json:"closed"`
	NegRisk      bool     `json:"negRisk"`
	Outcomes     string   `json:"outcomes"`     // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs string   `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Tokens       []Token  `json:"tokens"`
	EndDate      string   `json:"endDate"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// TokenPair returns the YES and NO outcome tokens. clobTokenIds is
// authoritative; the tokens array is the fallback for older payloads. When
// outcome labels are present, a label of "No" in the first position swaps
// the pair.
func (m *APIMarket) TokenPair() (yes, no string, err error) {
	var ids []string
	if m.ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
			return "", "", fmt.Errorf("decode clobTokenIds: %w", err)
		}
	}
	var labels []string
	if m.Outcomes != "" {
		_ = json.Unmarshal([]byte(m.Outcomes), &labels)
	}
	if len(ids) < 2 {
		ids, labels = ids[:0], labels[:0]
		for _, t := range m.Tokens {
			ids = append(ids, t.TokenID)
			labels = append(labels, t.Outcome)
		}
	}
	if len(ids) != 2 {
		return "", "", fmt.Errorf("expected 2 outcome tokens, got %d", len(ids))
	}
	if ids[0] == "" || ids[1] == "" || ids[0] == ids[1] {
		return "", "", fmt.Errorf("invalid outcome tokens %q", ids)
	}
	if len(labels) == 2 && strings.EqualFold(labels[0], "no") {
		return ids[1], ids[0], nil
	}
	return ids[0], ids[1], nil
}

// Tradable reports whether the market is open for trading.
func (m *APIMarket) Tradable() bool {
	return bool(m.Active) && !bool(m.Closed)
}

// ToMarketPair converts the Gamma market to a discovery pair for league.
func (m *APIMarket) ToMarketPair(league string) (domain.MarketPair, error) {
	yes, no, err := m.TokenPair()
	if err != nil {
		return domain.MarketPair{}, fmt.Errorf("polymarket: market %s: %w", m.Slug, err)
	}
	desc := m.Question
	if desc == "" {
		desc = m.Slug
	}
	return domain.MarketPair{
		PairID:      "poly-" + m.Slug,
		League:      league,
		MarketType:  domain.MarketTypeMoneyline,
		Description: desc,
		Slug:        m.Slug,
		YesToken:    yes,
		NoToken:     no,
		NegRisk:     m.NegRisk,
	}, nil
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// MarketEvent is one event on the market channel. The server sends book
// snapshots and price changes, either bare or batched in a JSON array; both
// shapes decode into this struct and EventType tells them apart.
type MarketEvent struct {
	EventType    string         `json:"event_type"` // "book", "price_change", "last_trade_price", "tick_size_change"
	AssetID      string         `json:"asset_id,omitempty"`
	Market       string         `json:"market,omitempty"`
	Bids         []WSPriceLevel `json:"bids,omitempty"`
	Asks         []WSPriceLevel `json:"asks,omitempty"`
	PriceChanges []PriceChange  `json:"price_changes,omitempty"`
	Timestamp    string         `json:"timestamp,omitempty"`
	Hash         string         `json:"hash,omitempty"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChange is one level update inside a price_change event.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" means level removed
	Side    string `json:"side"` // "BUY" or "SELL"
	Hash    string `json:"hash,omitempty"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// MarketSubscription is the first frame sent on the market channel.
type MarketSubscription struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// PriceEvent is a decoded best-ask update for one outcome token.
type PriceEvent struct {
	AssetID    string
	PriceCents uint16 // orderbook.NoPrice when the ask side emptied
	SizeCents  uint16 // notional at the ask, 0 when unknown
}

// --------------------------------------------------------------------------
// CLOB order DTOs
// --------------------------------------------------------------------------

// signedOrder is the wire form of a signed exchange order.
type signedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"` // "BUY" or "SELL"
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// postOrderRequest is the body of POST /order.
type postOrderRequest struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg,omitempty"`
	OrderID      string   `json:"orderID,omitempty"`
	Status       string   `json:"status,omitempty"`
	MakingAmount string   `json:"makingAmount,omitempty"`
	TakingAmount string   `json:"takingAmount,omitempty"`
	TxHashes     []string `json:"transactionsHashes,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success:      r.Success,
		OrderID:      r.OrderID,
		Message:      r.ErrorMsg,
		MakingAmount: r.MakingAmount,
		TakingAmount: r.TakingAmount,
	}

	switch r.Status {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusMatched
	case "delayed", "unmatched":
		result.Status = domain.OrderStatusPending
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}

	return result
}

// --------------------------------------------------------------------------
// Price and size conversion
// --------------------------------------------------------------------------

var hundred = decimal.NewFromInt(100)

// ParsePrice converts a decimal dollar price such as "0.50" to cents.
// Sub-cent asks round up. It returns 0 for anything unparseable, zero,
// negative, or above $1.00.
func ParsePrice(s string) uint16 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return 0
	}
	c := d.Mul(hundred).Ceil()
	if c.GreaterThan(decimal.NewFromInt(int64(orderbook.MaxPrice))) {
		return 0
	}
	return uint16(c.IntPart())
}

// askEmptied reports whether a best_ask field says the ask side has no
// levels: empty or zero. Malformed values do not count.
func askEmptied(s string) bool {
	if s == "" {
		return true
	}
	d, err := decimal.NewFromString(s)
	return err == nil && d.IsZero()
}

// NotionalCents converts a contract count such as "123.45" at priceCents to
// notional cents, rounding down and saturating at the 16-bit field limit.
func NotionalCents(size string, priceCents uint16) uint16 {
	if priceCents == 0 || priceCents == orderbook.NoPrice {
		return 0
	}
	d, err := decimal.NewFromString(size)
	if err != nil || !d.IsPositive() {
		return 0
	}
	n := d.Mul(decimal.NewFromInt(int64(priceCents))).Floor()
	if n.GreaterThanOrEqual(decimal.NewFromInt(math.MaxUint16)) {
		return math.MaxUint16
	}
	return uint16(n.IntPart())
}
