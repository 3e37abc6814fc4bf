package derive

import (
	"market-fusion/internal/history"
)

// Projection is the timeframe-aware view over one instrument that the
// classifiers consume. Has* flags report whether the metric came from real
// window data or fell back to session-based change.
type Projection struct {
	TimeframeMin     int
	PriceChange      float64
	HasPriceData     bool
	OIChange         float64
	HasOIData        bool
	AvgImbalance     float64
	HasOrderbookData bool
	CVDDelta         float64
}

// Inputs gathers the read-only snapshots a projection is built from.
type Inputs struct {
	Price     *history.Series
	OI        *history.Series
	Orderbook *history.Series

	CurrentPrice float64
	CurrentOI    float64

	SessionPriceChange    float64
	HasSessionPriceChange bool
	SessionOIChange       float64
	HasSessionOIChange    bool

	CVDDelta float64
}

const imbalanceFallbackSamples = 10

// Build derives the projection for one timeframe at nowMS.
func Build(in Inputs, tfMinutes int, nowMS int64) Projection {
	windowMS := int64(tfMinutes) * 60_000
	proj := Projection{TimeframeMin: tfMinutes, CVDDelta: in.CVDDelta}

	proj.PriceChange, proj.HasPriceData = windowChange(in.Price, in.CurrentPrice, nowMS, windowMS)
	if !proj.HasPriceData && in.HasSessionPriceChange {
		proj.PriceChange = in.SessionPriceChange
	}
	proj.OIChange, proj.HasOIData = windowChange(in.OI, in.CurrentOI, nowMS, windowMS)
	if !proj.HasOIData && in.HasSessionOIChange {
		proj.OIChange = in.SessionOIChange
	}

	if in.Orderbook != nil {
		if mean, ok := in.Orderbook.MeanWithin(nowMS, windowMS); ok {
			proj.AvgImbalance = mean
			proj.HasOrderbookData = true
		} else if mean, ok := in.Orderbook.MeanLastN(imbalanceFallbackSamples); ok {
			proj.AvgImbalance = mean
		}
	}
	return proj
}

func windowChange(series *history.Series, current float64, nowMS, windowMS int64) (float64, bool) {
	if series == nil || current <= 0 {
		return 0, false
	}
	oldest, ok := series.OldestWithin(nowMS, windowMS)
	if !ok || oldest.V <= 0 {
		return 0, false
	}
	return (current - oldest.V) / oldest.V * 100, true
}
