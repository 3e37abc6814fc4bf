package signal

import "market-fusion/internal/derive"

type FlowType string

const (
	FlowStrongBull FlowType = "STRONG_BULL"
	FlowStrongBear FlowType = "STRONG_BEAR"
	FlowWeakBull   FlowType = "WEAK_BULL"
	FlowWeakBear   FlowType = "WEAK_BEAR"
	FlowDivergence FlowType = "DIVERGENCE"
	FlowBullish    FlowType = "BULLISH"
	FlowBearish    FlowType = "BEARISH"
	FlowNeutral    FlowType = "NEUTRAL"
)

// Flow is the joint directional classification of price, OI and CVD.
type Flow struct {
	Type  FlowType
	Score float64

	PriceDir Direction
	OIDir    Direction
	CVDDir   Direction

	// DivergenceBias is set on rows where the combination itself implies a
	// divergence read (bullish or bearish), with a short note.
	DivergenceBias string
	DivergenceNote string

	HasTimeframeData bool
	Reason           string
}

// Confluence classifies the flow for one projection. Row order matters: the
// specific combinations must win before the broad BULLISH/BEARISH rows.
func Confluence(proj derive.Projection) Flow {
	flow := Flow{
		PriceDir:         PriceDirection(proj.PriceChange),
		OIDir:            OIDirection(proj.OIChange),
		CVDDir:           CVDDirection(proj.CVDDelta),
		HasTimeframeData: proj.HasPriceData && proj.HasOIData,
	}
	p, oi, cvd := flow.PriceDir, flow.OIDir, flow.CVDDir
	switch {
	case p == DirUp && oi == DirUp && cvd == DirUp:
		flow.Type, flow.Score = FlowStrongBull, 9
	case p == DirDown && oi == DirUp && cvd == DirDown:
		flow.Type, flow.Score = FlowStrongBear, -9
	case p == DirUp && oi == DirDown && cvd == DirDown:
		flow.Type, flow.Score = FlowWeakBull, 3
		flow.DivergenceBias, flow.DivergenceNote = "bearish", "flow weakening"
	case p == DirDown && oi == DirDown && cvd == DirUp:
		flow.Type, flow.Score = FlowWeakBear, -3
		flow.DivergenceBias, flow.DivergenceNote = "bullish", "absorption"
	case p == DirUp && oi == DirUp && cvd == DirDown:
		flow.Type, flow.Score = FlowDivergence, 2
		flow.DivergenceBias, flow.DivergenceNote = "bearish", "distribution"
	case p == DirDown && oi == DirUp && cvd == DirUp:
		flow.Type, flow.Score = FlowDivergence, -2
		flow.DivergenceBias, flow.DivergenceNote = "bullish", "accumulation"
	case p == DirUp && cvd == DirUp:
		flow.Type, flow.Score = FlowBullish, 5
	case p == DirDown && cvd == DirDown:
		flow.Type, flow.Score = FlowBearish, -5
	default:
		flow.Type, flow.Score = FlowNeutral, 0
	}
	if !flow.HasTimeframeData {
		flow.Reason = "insufficient timeframe data, session-based changes"
	}
	return flow
}

// MaxFlowScore is the largest magnitude the confluence table produces; the
// composite normalizes against it.
const MaxFlowScore = 9.0
