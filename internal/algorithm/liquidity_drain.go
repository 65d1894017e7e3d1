package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// LiquidityDrainIndex: percentage drop in total displayed liquidity
// (bid_qty*best_bid + ask_qty*best_ask) between a baseline and current
// orderbook window. Positive values indicate liquidity draining.
type LiquidityDrainIndex struct{ base }

func NewLiquidityDrainIndex() *LiquidityDrainIndex { return &LiquidityDrainIndex{} }

func (*LiquidityDrainIndex) IndicatorType() string { return "LIQUIDITY_DRAIN_INDEX" }
func (*LiquidityDrainIndex) Name() string          { return "Liquidity Drain Index" }
func (*LiquidityDrainIndex) Description() string {
	return "Percentage decline of total displayed orderbook liquidity vs a baseline window"
}
func (*LiquidityDrainIndex) Category() string   { return "orderbook" }
func (*LiquidityDrainIndex) IsTimeDriven() bool { return true }

func (*LiquidityDrainIndex) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t3", Type: ParamFloat, Default: 60.0},
		{Name: "d", Type: ParamFloat, Default: 30.0},
	}
}

func (a *LiquidityDrainIndex) WindowSpecs(params Parameters) []window.Spec {
	t1 := params.GetFloat("t1", 10.0)
	t3 := params.GetFloat("t3", 60.0)
	d := params.GetFloat("d", 30.0)
	return []window.Spec{
		{T1: t1, T2: 0},
		{T1: t3, T2: t3 - d},
	}
}

// CalculateFromWindows is unused for this orderbook algorithm; the engine
// dispatches via OrderBookAlgorithm instead.
func (*LiquidityDrainIndex) CalculateFromWindows([]window.Window, Parameters) *float64 { return nil }

func totalLiquidity(snapshots []window.OrderBookPoint) []window.Point {
	out := make([]window.Point, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, window.Point{
			Timestamp: s.Timestamp,
			Value:     s.BidQty*s.BestBid + s.AskQty*s.BestAsk,
		})
	}
	return out
}

func (*LiquidityDrainIndex) CalculateFromOrderBookWindows(windows []window.OrderBookWindow, _ Parameters) *float64 {
	if len(windows) != 2 {
		return nil
	}
	current := window.SimpleAverage(totalLiquidity(windows[0].Data), windows[0].Start, windows[0].End)
	baseline := window.SimpleAverage(totalLiquidity(windows[1].Data), windows[1].Start, windows[1].End)
	if current == nil || baseline == nil || *baseline == 0 {
		return nil
	}
	v := (*baseline - *current) / *baseline * 100.0
	return &v
}
