// Package dispatch assembles windows from raw history series and invokes
// the right algorithm calculation path (plain, orderbook, or composite).
// Shared by the streaming (C6) and offline (C7) engines so window
// assembly and algorithm fan-out happen in exactly one place.
package dispatch

import (
	"github.com/marketpulse/indicatorengine/internal/algorithm"
	"github.com/marketpulse/indicatorengine/internal/window"
)

// Evaluate computes one indicator value at evalTS from the given
// history series, dispatching to whichever of Algorithm,
// OrderBookAlgorithm or CompositeAlgorithm alg implements.
func Evaluate(alg algorithm.Algorithm, priceHistory, volumeHistory []window.Point, obHistory []window.OrderBookPoint, params algorithm.Parameters, evalTS float64) *float64 {
	if composite, ok := alg.(algorithm.CompositeAlgorithm); ok {
		priceWindows := assembleAll(priceHistory, composite.PriceSpecs(params), evalTS)
		volumeWindows := assembleAll(volumeHistory, composite.VolumeSpecs(params), evalTS)
		obWindows := assembleOrderBookAll(obHistory, composite.OrderBookSpecs(params), evalTS)
		return composite.CalculateComposite(priceWindows, volumeWindows, obWindows, params)
	}

	if obAlg, ok := alg.(algorithm.OrderBookAlgorithm); ok {
		obWindows := assembleOrderBookAll(obHistory, obAlg.WindowSpecs(params), evalTS)
		return obAlg.CalculateFromOrderBookWindows(obWindows, params)
	}

	history := priceHistory
	if alg.Category() == "volume" {
		history = volumeHistory
	}
	windows := assembleAll(history, alg.WindowSpecs(params), evalTS)
	return alg.CalculateFromWindows(windows, params)
}

func assembleAll(history []window.Point, specs []window.Spec, evalTS float64) []window.Window {
	out := make([]window.Window, len(specs))
	for i, spec := range specs {
		out[i] = window.Assemble(history, spec, evalTS)
	}
	return out
}

func assembleOrderBookAll(history []window.OrderBookPoint, specs []window.Spec, evalTS float64) []window.OrderBookWindow {
	out := make([]window.OrderBookWindow, len(specs))
	for i, spec := range specs {
		out[i] = window.AssembleOrderBook(history, spec, evalTS)
	}
	return out
}

// MaxLookback returns the largest T1 across every window this algorithm
// would request for params, across whichever of the three spec families
// it declares. Engines use this to size history retention per symbol.
func MaxLookback(alg algorithm.Algorithm, params algorithm.Parameters) float64 {
	var max float64

	consider := func(specs []window.Spec) {
		for _, s := range specs {
			if s.T1 > max {
				max = s.T1
			}
		}
	}

	if composite, ok := alg.(algorithm.CompositeAlgorithm); ok {
		consider(composite.PriceSpecs(params))
		consider(composite.VolumeSpecs(params))
		consider(composite.OrderBookSpecs(params))
		return max
	}
	consider(alg.WindowSpecs(params))
	return max
}
