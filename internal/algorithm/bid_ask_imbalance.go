package algorithm

import "github.com/marketpulse/indicatorengine/internal/window"

// BidAskImbalance: per-snapshot (bid_qty-ask_qty)/(bid_qty+ask_qty)*100,
// aggregated over a single orderbook window by simple or time-weighted
// mean depending on the "smoothing" parameter.
type BidAskImbalance struct{ base }

func NewBidAskImbalance() *BidAskImbalance { return &BidAskImbalance{} }

func (*BidAskImbalance) IndicatorType() string { return "BID_ASK_IMBALANCE" }
func (*BidAskImbalance) Name() string          { return "Bid/Ask Imbalance" }
func (*BidAskImbalance) Description() string {
	return "Orderbook bid/ask quantity imbalance, simple or time-weighted"
}
func (*BidAskImbalance) Category() string   { return "orderbook" }
func (*BidAskImbalance) IsTimeDriven() bool { return true }

func (*BidAskImbalance) Parameters() []VariantParameter {
	return []VariantParameter{
		{Name: "t1", Type: ParamFloat, Default: 10.0},
		{Name: "t2", Type: ParamFloat, Default: 0.0},
		{Name: "smoothing", Type: ParamString, Default: "simple", AllowedValues: []any{"simple", "time_weighted"}},
	}
}

func (a *BidAskImbalance) WindowSpecs(params Parameters) []window.Spec {
	return []window.Spec{{T1: params.GetFloat("t1", 10.0), T2: params.GetFloat("t2", 0.0)}}
}

func (*BidAskImbalance) CalculateFromWindows([]window.Window, Parameters) *float64 { return nil }

func imbalanceSeries(snapshots []window.OrderBookPoint) []window.Point {
	out := make([]window.Point, 0, len(snapshots))
	for _, s := range snapshots {
		denom := s.BidQty + s.AskQty
		if denom == 0 {
			continue
		}
		out = append(out, window.Point{
			Timestamp: s.Timestamp,
			Value:     (s.BidQty - s.AskQty) / denom * 100.0,
		})
	}
	return out
}

func (*BidAskImbalance) CalculateFromOrderBookWindows(windows []window.OrderBookWindow, params Parameters) *float64 {
	if len(windows) != 1 {
		return nil
	}
	w := windows[0]
	series := imbalanceSeries(w.Data)
	if len(series) == 0 {
		return nil
	}
	if params.GetString("smoothing", "simple") == "time_weighted" {
		return window.TimeWeightedAverage(series, w.Start, w.End)
	}
	return window.SimpleAverage(series, w.Start, w.End)
}
