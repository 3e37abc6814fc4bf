package signal

import "math"

// Divergence is an opposing price/CVD read over a window.
type Divergence struct {
	Type     string // bullish or bearish
	Strength float64
	Bucket   string // strong, moderate, weak
	IsStrong bool
}

// DetectDivergence returns the divergence when price and CVD point in
// opposite non-flat directions.
func DetectDivergence(priceChangePct, cvdDeltaUSD float64) (Divergence, bool) {
	p := PriceDirection(priceChangePct)
	c := CVDDirection(cvdDeltaUSD)
	if p == DirFlat || c == DirFlat || p == c {
		return Divergence{}, false
	}
	div := Divergence{
		Strength: math.Min(100, math.Abs(priceChangePct)*20+math.Abs(cvdDeltaUSD)/100000),
	}
	if p == DirUp {
		div.Type = "bearish"
	} else {
		div.Type = "bullish"
	}
	switch {
	case div.Strength > 60:
		div.Bucket = "strong"
		div.IsStrong = true
	case div.Strength >= 30:
		div.Bucket = "moderate"
	default:
		div.Bucket = "weak"
	}
	return div, true
}

const (
	absorptionMinDeltaUSD    = 50000.0
	absorptionStrongDeltaUSD = 100000.0
)

// Absorption is large net CVD without commensurate price movement.
type Absorption struct {
	Type     string // bullish: net selling absorbed; bearish: net buying absorbed
	CVDDelta float64
	IsStrong bool
}

func DetectAbsorption(priceChangePct, cvdDeltaUSD float64) (Absorption, bool) {
	if math.Abs(priceChangePct) >= priceThresholdPct {
		return Absorption{}, false
	}
	if math.Abs(cvdDeltaUSD) <= absorptionMinDeltaUSD {
		return Absorption{}, false
	}
	abs := Absorption{
		CVDDelta: cvdDeltaUSD,
		IsStrong: math.Abs(cvdDeltaUSD) > absorptionStrongDeltaUSD,
	}
	if cvdDeltaUSD < 0 {
		abs.Type = "bullish"
	} else {
		abs.Type = "bearish"
	}
	return abs, true
}

type OIPattern string

const (
	PatternCoilForming    OIPattern = "COIL_FORMING"
	PatternShortCovering  OIPattern = "SHORT_COVERING"
	PatternLongsExiting   OIPattern = "LONGS_EXITING"
	PatternStrongFlowBull OIPattern = "STRONG_FLOW_BULL"
	PatternStrongFlowBear OIPattern = "STRONG_FLOW_BEAR"
)

// DetectOIPattern maps the OI/price direction matrix to a named pattern.
func DetectOIPattern(priceChangePct, oiChangePct float64) (OIPattern, bool) {
	p := PriceDirection(priceChangePct)
	oi := OIDirection(oiChangePct)
	switch {
	case oi == DirUp && p == DirFlat:
		return PatternCoilForming, true
	case p == DirUp && oi == DirDown:
		return PatternShortCovering, true
	case p == DirDown && oi == DirDown:
		return PatternLongsExiting, true
	case p == DirUp && oi == DirUp:
		return PatternStrongFlowBull, true
	case p == DirDown && oi == DirUp:
		return PatternStrongFlowBear, true
	default:
		return "", false
	}
}

func (p OIPattern) isStrong() bool {
	return p == PatternStrongFlowBull || p == PatternStrongFlowBear
}

const (
	KindDivergence = "divergence"
	KindAbsorption = "absorption"
	KindOIPattern  = "oi_pattern"
)

// Priority picks the headline signal: first strong variant in the order
// divergence, absorption, oi_pattern; otherwise the first weak one in the
// same order.
func Priority(div *Divergence, abs *Absorption, pattern OIPattern) (string, bool) {
	if div != nil && div.IsStrong {
		return KindDivergence, true
	}
	if abs != nil && abs.IsStrong {
		return KindAbsorption, true
	}
	if pattern.isStrong() {
		return KindOIPattern, true
	}
	if div != nil {
		return KindDivergence, true
	}
	if abs != nil {
		return KindAbsorption, true
	}
	if pattern != "" {
		return KindOIPattern, true
	}
	return "", false
}
