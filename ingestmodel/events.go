package ingestmodel

// TradeSide is the normalised trade/liquidation direction.
type TradeSide string

const (
	SideBuy     TradeSide = "Buy"
	SideSell    TradeSide = "Sell"
	SideUnknown TradeSide = ""
)

// NormalizeSide maps a venue side token to a TradeSide: "buy", "b", "Buy",
// "BUY", "B" -> buy; "sell", "s", "Sell", "SELL", "S" -> sell. Any other
// spelling (including other mixed-case forms) returns SideUnknown.
func NormalizeSide(token string) TradeSide {
	switch token {
	case "buy", "b", "Buy", "BUY", "B":
		return SideBuy
	case "sell", "s", "Sell", "SELL", "S":
		return SideSell
	default:
		return SideUnknown
	}
}

// OIUnit is the unit an OpenInterest observation was reported in.
type OIUnit string

const (
	OIUnitContracts OIUnit = "contracts"
	OIUnitBase      OIUnit = "base"
	OIUnitUSD       OIUnit = "usd"
	OIUnitUnknown   OIUnit = "unknown"
)

// Envelope fields are shared by every canonical and raw event. It is
// exported (rather than the more common unexported embed) so RawAdapters
// in other packages can construct a populated event directly.
type Envelope struct {
	Symbol     string     `json:"symbol"`
	MarketType MarketType `json:"marketType"`
	StreamID   StreamID   `json:"streamId"`
	Meta       EventMeta  `json:"meta"`
}

// Trade is a canonical trade print.
type Trade struct {
	Envelope
	TradeID string    `json:"tradeId,omitempty"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	Side    TradeSide `json:"side"`
}

// TradeRaw mirrors Trade but keeps price/size as the exact wire strings to
// avoid early floating-point rounding.
type TradeRaw struct {
	Envelope
	TradeID string    `json:"tradeId,omitempty"`
	Price   string    `json:"price"`
	Size    string    `json:"size"`
	Side    TradeSide `json:"side"`
}

// Kline is a closed candlestick (klines are only emitted on close).
type Kline struct {
	Envelope
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"openTime"`
	CloseTime int64   `json:"closeTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// KlineRaw mirrors Kline with wire-exact decimal strings.
type KlineRaw struct {
	Envelope
	Interval  string `json:"interval"`
	OpenTime  int64  `json:"openTime"`
	CloseTime int64  `json:"closeTime"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

// Ticker carries whichever of last/mark/index price fields the venue
// reported on this tick; fields are nil when absent.
type Ticker struct {
	Envelope
	LastPrice  *float64 `json:"lastPrice,omitempty"`
	MarkPrice  *float64 `json:"markPrice,omitempty"`
	IndexPrice *float64 `json:"indexPrice,omitempty"`
}

// TickerRaw mirrors Ticker with wire-exact decimal strings.
type TickerRaw struct {
	Envelope
	LastPrice  *string `json:"lastPrice,omitempty"`
	MarkPrice  *string `json:"markPrice,omitempty"`
	IndexPrice *string `json:"indexPrice,omitempty"`
}

// OpenInterest is a single venue's open-interest observation.
type OpenInterest struct {
	Envelope
	Value float64 `json:"value"`
	Unit  OIUnit  `json:"unit"`
}

// OpenInterestRaw mirrors OpenInterest with a wire-exact decimal string.
type OpenInterestRaw struct {
	Envelope
	Value string `json:"value"`
	Unit  OIUnit `json:"unit"`
}

// Funding is a single venue's funding-rate observation.
type Funding struct {
	Envelope
	Rate            float64 `json:"rate"`
	NextFundingTime *int64  `json:"nextFundingTime,omitempty"`
}

// FundingRaw mirrors Funding with a wire-exact decimal string.
type FundingRaw struct {
	Envelope
	Rate            string `json:"rate"`
	NextFundingTime *int64 `json:"nextFundingTime,omitempty"`
}

// Liquidation is a single forced-liquidation order report.
type Liquidation struct {
	Envelope
	Side        TradeSide `json:"side"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	NotionalUsd *float64  `json:"notionalUsd,omitempty"`
}

// LiquidationRaw mirrors Liquidation with wire-exact decimal strings.
type LiquidationRaw struct {
	Envelope
	Side        TradeSide `json:"side"`
	Price       string    `json:"price"`
	Size        string    `json:"size"`
	NotionalUsd *string   `json:"notionalUsd,omitempty"`
}

// PriceLevel is one order-book price/size pair. Size == 0 deletes the level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// PriceLevelRaw mirrors PriceLevel with wire-exact decimal strings.
type PriceLevelRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookL2Snapshot is a full depth snapshot anchored at UpdateID.
type OrderbookL2Snapshot struct {
	Envelope
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
	UpdateID uint64       `json:"updateId"`
}

// OrderbookL2SnapshotRaw mirrors OrderbookL2Snapshot with decimal strings.
type OrderbookL2SnapshotRaw struct {
	Envelope
	Bids     []PriceLevelRaw `json:"bids"`
	Asks     []PriceLevelRaw `json:"asks"`
	UpdateID uint64          `json:"updateId"`
}

// OrderbookL2Delta is one incremental depth update. PrevUpdateID is only
// populated on venues that carry a previous-update chain (Binance futures'
// `pu`).
type OrderbookL2Delta struct {
	Envelope
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	FirstUpdateID uint64       `json:"firstUpdateId"`
	LastUpdateID  uint64       `json:"lastUpdateId"`
	PrevUpdateID  *uint64      `json:"prevUpdateId,omitempty"`
}

// OrderbookL2DeltaRaw mirrors OrderbookL2Delta with decimal strings.
type OrderbookL2DeltaRaw struct {
	Envelope
	Bids          []PriceLevelRaw `json:"bids"`
	Asks          []PriceLevelRaw `json:"asks"`
	FirstUpdateID uint64          `json:"firstUpdateId"`
	LastUpdateID  uint64          `json:"lastUpdateId"`
	PrevUpdateID  *uint64         `json:"prevUpdateId,omitempty"`
}

// Cvd is a single venue/stream's closed cumulative-volume-delta bucket.
type Cvd struct {
	Envelope
	CvdDelta     float64 `json:"cvdDelta"`
	CvdTotal     float64 `json:"cvdTotal"`
	BucketStart  int64   `json:"bucketStartTs"`
	BucketEnd    int64   `json:"bucketEndTs"`
	BucketSizeMs int64   `json:"bucketSizeMs"`
	Unit         string  `json:"unit"`
}

// NewEnvelope constructs the shared envelope fields.
func NewEnvelope(symbol string, marketType MarketType, streamID StreamID, meta EventMeta) Envelope {
	return Envelope{Symbol: symbol, MarketType: marketType, StreamID: streamID, Meta: meta}
}

// GetSymbol, GetMarketType, GetStreamID and GetMeta let generic code extract
// the envelope from any canonical event without a type switch on every call
// site; they're defined once on Envelope and promoted to every event type
// that embeds it.

func (e Envelope) GetSymbol() string         { return e.Symbol }
func (e Envelope) GetMarketType() MarketType { return e.MarketType }
func (e Envelope) GetStreamID() StreamID     { return e.StreamID }
func (e Envelope) GetMeta() EventMeta        { return e.Meta }
