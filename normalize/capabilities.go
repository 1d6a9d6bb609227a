package normalize

import (
	"github.com/aspenmd/ingestd/ingestmodel"
	"github.com/aspenmd/ingestd/registry"
)

// capabilities describes which feeds and aggregate metrics a streamId is
// expected to contribute, mirroring what that venue's VenueClient actually
// wires in venue/*.go. Hyperliquid's narrower integration (no order book,
// no liquidations, no discrete funding feed) is reflected directly here.
type capabilities struct {
	Feeds   []ingestmodel.Feed
	Metrics []ingestmodel.Metric
}

var fullCapabilities = capabilities{
	Feeds: []ingestmodel.Feed{
		ingestmodel.FeedTrades, ingestmodel.FeedOrderbook, ingestmodel.FeedKlines,
		ingestmodel.FeedMarkPrice, ingestmodel.FeedIndexPrice, ingestmodel.FeedFunding, ingestmodel.FeedOI,
	},
	Metrics: []ingestmodel.Metric{
		ingestmodel.MetricPrice, ingestmodel.MetricFlow, ingestmodel.MetricLiquidity, ingestmodel.MetricDerivatives,
	},
}

var capabilitiesByStream = map[ingestmodel.StreamID]capabilities{
	"binance.futures":        fullCapabilities,
	"okx.public.swap":        fullCapabilities,
	"bybit.public.linear.v5": fullCapabilities,
	"hyperliquid.public.perp": {
		Feeds:   []ingestmodel.Feed{ingestmodel.FeedTrades, ingestmodel.FeedKlines},
		Metrics: []ingestmodel.Metric{ingestmodel.MetricPrice, ingestmodel.MetricFlow},
	},
}

// ExpectSubscription seeds the SourceRegistry's expected sets for a
// streamId ("VenueClients call ExpectSource/ExpectFeed
// once per subscription, before any data arrives"). Callers invoke this
// once per (symbol, streamId) pair at startup wiring time, alongside the
// matching SubscribeX call.
func ExpectSubscription(reg *registry.Registry, symbol string, mt ingestmodel.MarketType, streamID ingestmodel.StreamID) {
	caps, ok := capabilitiesByStream[streamID]
	if !ok {
		return
	}
	for _, f := range caps.Feeds {
		reg.ExpectFeed(symbol, mt, f, string(streamID))
	}
	for _, m := range caps.Metrics {
		reg.ExpectSource(symbol, mt, m, string(streamID))
	}
}
