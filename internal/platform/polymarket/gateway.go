package polymarket

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/orderbook"
)

// Amounts on the exchange carry six decimals: one cent of USDC is 10^4
// units and one share is 10^6 units.
const (
	unitsPerCent  = 10_000
	unitsPerShare = 1_000_000
)

// GatewayConfig configures a ClobGateway.
type GatewayConfig struct {
	// Funder is the address holding the funds. Empty means the signer's
	// own address.
	Funder string
	// SignatureType is 0 for EOA, 1 for a Polymarket proxy and 2 for a
	// Gnosis safe.
	SignatureType int
	// NegRisk seeds the per-token exchange routing, usually from discovery.
	NegRisk map[string]bool
}

// ClobGateway places fill-and-kill orders on the CLOB. It satisfies the
// execution engine's gateway contract.
type ClobGateway struct {
	clob    *ClobClient
	funder  string
	sigType int
	negRisk sync.Map // token id -> bool
	logger  *slog.Logger
}

// NewClobGateway creates a gateway on top of an authenticated client.
func NewClobGateway(clob *ClobClient, cfg GatewayConfig, logger *slog.Logger) *ClobGateway {
	if logger == nil {
		logger = slog.Default()
	}
	funder := cfg.Funder
	if funder == "" {
		funder = clob.Signer().Address().Hex()
	}
	g := &ClobGateway{
		clob:    clob,
		funder:  funder,
		sigType: cfg.SignatureType,
		logger:  logger.With(slog.String("component", "clob_gateway")),
	}
	for token, nr := range cfg.NegRisk {
		g.negRisk.Store(token, nr)
	}
	return g
}

// PlaceIOCBuy buys up to qty contracts of tokenID at limitCents or better.
func (g *ClobGateway) PlaceIOCBuy(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error) {
	return g.place(ctx, tokenID, domain.OrderSideBuy, limitCents, qty)
}

// PlaceIOCSell sells up to qty contracts of tokenID at limitCents or better.
func (g *ClobGateway) PlaceIOCSell(ctx context.Context, tokenID string, limitCents uint16, qty int) (domain.Fill, error) {
	return g.place(ctx, tokenID, domain.OrderSideSell, limitCents, qty)
}

func (g *ClobGateway) place(ctx context.Context, tokenID string, side domain.OrderSide, limitCents uint16, qty int) (domain.Fill, error) {
	negRisk := g.isNegRisk(ctx, tokenID)
	order, err := BuildOrder(tokenID, side, limitCents, qty, g.clob.Signer().Address().Hex(), g.funder, g.sigType)
	if err != nil {
		return domain.Fill{}, err
	}
	sig, err := g.clob.Signer().SignOrder(payloadOf(order), negRisk)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("polymarket/gateway: %w: %v", domain.ErrSigningFailed, err)
	}
	order.Signature = sig

	start := time.Now()
	res, err := g.clob.PostOrder(ctx, order)
	if err != nil {
		return domain.Fill{}, err
	}
	fill, err := FillFromResult(side, res)
	if err != nil {
		return domain.Fill{}, err
	}
	g.logger.Debug("order done",
		slog.String("side", string(side)),
		slog.String("token", tokenID),
		slog.Int("limit", int(limitCents)),
		slog.Int("qty", qty),
		slog.Int("filled", fill.Filled),
		slog.Int64("cost_cents", fill.CostCents),
		slog.Duration("latency", time.Since(start)),
	)
	return fill, nil
}

func (g *ClobGateway) isNegRisk(ctx context.Context, tokenID string) bool {
	if v, ok := g.negRisk.Load(tokenID); ok {
		return v.(bool)
	}
	nr, err := g.clob.NegRisk(ctx, tokenID)
	if err != nil {
		g.logger.Warn("neg-risk lookup failed, using standard exchange",
			slog.String("token", tokenID),
			slog.String("error", err.Error()),
		)
		return false
	}
	g.negRisk.Store(tokenID, nr)
	return nr
}

// BuildOrder prepares an unsigned fill-and-kill order for qty contracts at
// limitCents. A buy gives USDC and takes shares; a sell does the reverse.
func BuildOrder(tokenID string, side domain.OrderSide, limitCents uint16, qty int, signer, maker string, sigType int) (domain.Order, error) {
	if tokenID == "" || qty <= 0 {
		return domain.Order{}, fmt.Errorf("polymarket/gateway: %w: token=%q qty=%d", domain.ErrInvalidOrder, tokenID, qty)
	}
	if limitCents == 0 || limitCents > orderbook.MaxPrice {
		return domain.Order{}, fmt.Errorf("polymarket/gateway: %w: limit %d cents", domain.ErrInvalidOrder, limitCents)
	}

	usdc := new(big.Int).Mul(big.NewInt(int64(limitCents)*unitsPerCent), big.NewInt(int64(qty)))
	shares := new(big.Int).Mul(big.NewInt(unitsPerShare), big.NewInt(int64(qty)))

	o := domain.Order{
		TokenID:   tokenID,
		Maker:     maker,
		Signer:    signer,
		Side:      side,
		Type:      domain.OrderTypeFAK,
		Salt:      newSalt(),
		SigType:   sigType,
		CreatedAt: time.Now(),
	}
	if side == domain.OrderSideSell {
		o.MakerAmount, o.TakerAmount = shares, usdc
	} else {
		o.MakerAmount, o.TakerAmount = usdc, shares
	}
	return o, nil
}

// FillFromResult reads what an order actually did from the CLOB response.
// For a buy makingAmount is USDC paid and takingAmount is shares received;
// a sell swaps the two.
func FillFromResult(side domain.OrderSide, res domain.OrderResult) (domain.Fill, error) {
	fill := domain.Fill{OrderID: res.OrderID}
	if res.MakingAmount == "" && res.TakingAmount == "" {
		return fill, nil
	}
	making, err := parseAmount(res.MakingAmount)
	if err != nil {
		return fill, fmt.Errorf("polymarket/gateway: makingAmount: %w", err)
	}
	taking, err := parseAmount(res.TakingAmount)
	if err != nil {
		return fill, fmt.Errorf("polymarket/gateway: takingAmount: %w", err)
	}
	shares, usdc := taking, making
	if side == domain.OrderSideSell {
		shares, usdc = making, taking
	}
	fill.Filled = int(shares.Floor().IntPart())
	fill.CostCents = usdc.Shift(2).Round(0).IntPart()
	return fill, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", s)
	}
	return d, nil
}

func payloadOf(o domain.Order) crypto.OrderPayload {
	side := crypto.SideBuy
	if o.Side == domain.OrderSideSell {
		side = crypto.SideSell
	}
	return crypto.OrderPayload{
		Salt:          o.Salt,
		Maker:         o.Maker,
		Signer:        o.Signer,
		Taker:         zeroAddress,
		TokenID:       o.TokenID,
		MakerAmount:   o.MakerAmount.String(),
		TakerAmount:   o.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: o.SigType,
	}
}

// newSalt returns a random salt that survives a round trip through a JSON
// number.
func newSalt() string {
	u := uuid.New()
	return strconv.FormatUint(binary.BigEndian.Uint64(u[:8])>>11, 10)
}

// NegRiskTokens collects the neg-risk flag of every token in pairs.
func NegRiskTokens(pairs []domain.MarketPair) map[string]bool {
	out := make(map[string]bool, 2*len(pairs))
	for _, p := range pairs {
		out[strings.TrimSpace(p.YesToken)] = p.NegRisk
		out[strings.TrimSpace(p.NoToken)] = p.NegRisk
	}
	return out
}
