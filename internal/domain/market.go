package domain

// MarketType classifies a discovered binary market.
type MarketType string

const (
	MarketTypeMoneyline MarketType = "moneyline"
	MarketTypeSpread    MarketType = "spread"
	MarketTypeTotal     MarketType = "total"
	MarketTypeBTTS      MarketType = "btts"
)

// MarketPair is the discovery output for one binary market: the two outcome
// tokens that together pay out $1.00 at resolution.
type MarketPair struct {
	PairID      string     `json:"pair_id"`
	League      string     `json:"league"`
	MarketType  MarketType `json:"market_type"`
	Description string     `json:"description"`
	Slug        string     `json:"slug"`
	YesToken    string     `json:"yes_token"`
	NoToken     string     `json:"no_token"`
	NegRisk     bool       `json:"neg_risk"`
}

// Side identifies one outcome leg of a binary market.
type Side uint8

const (
	SideYes Side = iota
	SideNo
)

// String returns "yes" or "no".
func (s Side) String() string {
	if s == SideNo {
		return "no"
	}
	return "yes"
}

// Other returns the opposite leg.
func (s Side) Other() Side {
	if s == SideNo {
		return SideYes
	}
	return SideNo
}

// ParseSide is the inverse of String. Anything but "no" is SideYes.
func ParseSide(s string) Side {
	if s == "no" {
		return SideNo
	}
	return SideYes
}
