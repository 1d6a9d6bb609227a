package eventbus

// Topic names are contractual. Every canonical topic has a
// parallel "_raw" mirror published alongside it by the venue layer before
// normalisation-sensitive fields (aggregation, CVD) are derived.
const (
	TopicTrade                  Topic = "market:trade"
	TopicTradeRaw                Topic = "market:trade_raw"
	TopicTicker                  Topic = "market:ticker"
	TopicTickerRaw               Topic = "market:ticker_raw"
	TopicKline                   Topic = "market:kline"
	TopicKlineRaw                Topic = "market:kline_raw"
	TopicOI                      Topic = "market:oi"
	TopicOIRaw                   Topic = "market:oi_raw"
	TopicFunding                 Topic = "market:funding"
	TopicFundingRaw              Topic = "market:funding_raw"
	TopicLiquidation             Topic = "market:liquidation"
	TopicLiquidationRaw          Topic = "market:liquidation_raw"
	TopicOrderbookSnapshot       Topic = "market:orderbook_l2_snapshot"
	TopicOrderbookSnapshotRaw    Topic = "market:orderbook_l2_snapshot_raw"
	TopicOrderbookDelta          Topic = "market:orderbook_l2_delta"
	TopicOrderbookDeltaRaw       Topic = "market:orderbook_l2_delta_raw"
	TopicResyncRequested         Topic = "market:resync_requested"
	TopicDisconnected            Topic = "market:disconnected"

	TopicPriceCanonical   Topic = "market:price_canonical"
	TopicPriceIndex       Topic = "market:price_index"
	TopicFundingAgg       Topic = "market:funding_agg"
	TopicOIAgg            Topic = "market:oi_agg"
	TopicLiquidationsAgg  Topic = "market:liquidations_agg"
	TopicLiquidityAgg     Topic = "market:liquidity_agg"
	TopicCvdSpot          Topic = "market:cvd_spot"
	TopicCvdFutures       Topic = "market:cvd_futures"
	TopicCvdSpotAgg       Topic = "market:cvd_spot_agg"
	TopicCvdFuturesAgg    Topic = "market:cvd_futures_agg"

	TopicDataStale            Topic = "data:stale"
	TopicDataMismatch         Topic = "data:mismatch"
	TopicDataConfidence       Topic = "data:confidence"
	TopicDataSourceDegraded   Topic = "data:sourceDegraded"
	TopicDataSourceRecovered  Topic = "data:sourceRecovered"

	TopicReplayStarted  Topic = "replay:started"
	TopicReplayProgress Topic = "replay:progress"
	TopicReplayWarning  Topic = "replay:warning"
	TopicReplayError    Topic = "replay:error"
	TopicReplayFinished Topic = "replay:finished"

	TopicSystemMarketDataStatus Topic = "system:market_data_status"
)
