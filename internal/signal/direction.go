package signal

// Direction is the coarse classification of a windowed change.
type Direction int

const (
	DirDown Direction = -1
	DirFlat Direction = 0
	DirUp   Direction = 1
)

// Classification thresholds. Exactly-at-threshold values are flat.
const (
	priceThresholdPct = 0.3
	oiThresholdPct    = 1.0
	cvdThresholdUSD   = 1000.0
)

func PriceDirection(changePct float64) Direction {
	return direction(changePct, priceThresholdPct)
}

func OIDirection(changePct float64) Direction {
	return direction(changePct, oiThresholdPct)
}

func CVDDirection(deltaUSD float64) Direction {
	return direction(deltaUSD, cvdThresholdUSD)
}

func direction(v, threshold float64) Direction {
	switch {
	case v > threshold:
		return DirUp
	case v < -threshold:
		return DirDown
	default:
		return DirFlat
	}
}
