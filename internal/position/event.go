package position

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

// FillStream is the redis stream fills are appended to.
const FillStream = "polyarb:fills"

// EncodeFill serialises rec as a protobuf Struct for the fill stream.
func EncodeFill(rec domain.FillRecord) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"execution_id": rec.ExecutionID,
		"market_id":    int64(rec.MarketID),
		"pair_id":      rec.PairID,
		"description":  rec.Description,
		"side":         rec.Side.String(),
		"action":       string(rec.Action),
		"price_cents":  rec.PriceCents,
		"quantity":     int64(rec.Quantity),
		"cost_cents":   rec.CostCents,
		"order_id":     rec.OrderID,
		"pnl_cents":    rec.PnLCents,
		"ts_unix_ms":   rec.Timestamp.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("position: encode fill: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeFill reverses EncodeFill.
func DecodeFill(data []byte) (domain.FillRecord, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return domain.FillRecord{}, fmt.Errorf("position: decode fill: %w", err)
	}
	f := s.GetFields()
	num := func(k string) int64 { return int64(f[k].GetNumberValue()) }
	str := func(k string) string { return f[k].GetStringValue() }

	return domain.FillRecord{
		ExecutionID: str("execution_id"),
		MarketID:    uint16(num("market_id")),
		PairID:      str("pair_id"),
		Description: str("description"),
		Side:        domain.ParseSide(str("side")),
		Action:      domain.OrderSide(str("action")),
		PriceCents:  num("price_cents"),
		Quantity:    int(num("quantity")),
		CostCents:   num("cost_cents"),
		OrderID:     str("order_id"),
		PnLCents:    num("pnl_cents"),
		Timestamp:   time.UnixMilli(num("ts_unix_ms")).UTC(),
	}, nil
}
