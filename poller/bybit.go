package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aspenmd/ingestd/adapters"
	"github.com/aspenmd/ingestd/clock"
	"github.com/aspenmd/ingestd/eventbus"
	"github.com/aspenmd/ingestd/ingestmodel"
)

// BybitRESTPoller polls Bybit v5's public open-interest endpoint, as
// BinanceOIPoller does for Binance — no third-party REST client for Bybit
// was reachable from the pack, so this is a justified stdlib net/http
// client, documented in DESIGN.md.
type BybitRESTPoller struct {
	http     *http.Client
	bus      *eventbus.Bus
	clk      clock.Clock
	streamID ingestmodel.StreamID
}

func NewBybitRESTPoller(bus *eventbus.Bus, clk clock.Clock) *BybitRESTPoller {
	return &BybitRESTPoller{
		http:     &http.Client{Timeout: 10 * time.Second},
		bus:      bus,
		clk:      clk,
		streamID: "bybit.public.linear.v5",
	}
}

type bybitOIResult struct {
	List []adapters.BybitOIWire `json:"list"`
}

type bybitRESTEnvelope struct {
	RetCode int           `json:"retCode"`
	RetMsg  string        `json:"retMsg"`
	Result  bybitOIResult `json:"result"`
}

// PollOI polls GET /v5/market/open-interest?category=linear&symbol=...
// &intervalTime=5min, taking the most recent list entry.
func (p *BybitRESTPoller) PollOI(ctx context.Context, symbol string) error {
	url := fmt.Sprintf("https://api.bybit.com/v5/market/open-interest?category=linear&symbol=%s&intervalTime=5min&limit=1", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var env bybitRESTEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return fmt.Errorf("bybit REST error %d: %s", env.RetCode, env.RetMsg)
	}
	if len(env.Result.List) == 0 {
		return fmt.Errorf("bybit open-interest: empty list for %s", symbol)
	}
	now := p.clk.NowMs()
	envelope := ingestmodel.NewEnvelope(symbol, ingestmodel.MarketFutures, p.streamID, ingestmodel.EventMeta{
		TsEvent:  now,
		TsIngest: now,
		Source:   string(ingestmodel.VenueBybit),
		StreamID: p.streamID,
	})
	p.bus.Publish(eventbus.TopicOIRaw, adapters.BybitOIRaw(env.Result.List[0], envelope))
	return nil
}
