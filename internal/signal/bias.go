package signal

import (
	"fmt"
	"math"

	"market-fusion/internal/market"
)

// FundingBias scores the funding regime on a [-5, 5] scale. Extreme
// positive funding is read contrarian bearish (crowded longs paying),
// extreme negative contrarian bullish.
func FundingBias(rate, prevRate float64) (float64, string) {
	var score float64
	var note string
	switch {
	case rate > 5e-4:
		score, note = -4, "extreme positive funding, crowded longs"
	case rate > 2e-4:
		score, note = 2, "elevated positive funding"
	case rate < -5e-4:
		score, note = 4, "extreme negative funding, crowded shorts"
	case rate < -2e-4:
		score, note = -2, "elevated negative funding"
	default:
		note = "funding neutral"
	}
	if d := rate - prevRate; math.Abs(d) > 1e-4 {
		if d > 0 {
			score++
			note += ", rising"
		} else {
			score--
			note += ", falling"
		}
	}
	if score > 5 {
		score = 5
	} else if score < -5 {
		score = -5
	}
	return score, note
}

// OrderbookBias scores the windowed average imbalance on a [-7, 7] scale,
// with a one point kicker when the instantaneous book has swung hard away
// from the average.
func OrderbookBias(avgImbalance, instantImbalance float64, hasData bool) (float64, string) {
	if !hasData {
		return 0, "no orderbook history"
	}
	var score float64
	switch {
	case avgImbalance > 20:
		score = 6
	case avgImbalance > 10:
		score = 3
	case avgImbalance < -20:
		score = -6
	case avgImbalance < -10:
		score = -3
	}
	note := fmt.Sprintf("avg imbalance %.1f%%", avgImbalance)
	if d := instantImbalance - avgImbalance; math.Abs(d) >= 10 {
		if d > 0 {
			score++
			note += ", bid pressure building"
		} else {
			score--
			note += ", ask pressure building"
		}
	}
	return score, note
}

// WhaleBias scores large-position consensus on a [-10, 10] scale.
// Requires at least two tracked positions to say anything.
func WhaleBias(c market.WhaleConsensus) (float64, string) {
	total := len(c.Longs) + len(c.Shorts)
	if total < 2 {
		return 0, "Insufficient data"
	}
	longPct := float64(len(c.Longs)) / float64(total)
	var score float64
	var note string
	switch {
	case longPct >= 0.8:
		score, note = 8, "heavy long consensus"
	case longPct >= 0.6:
		score, note = 4, "long leaning"
	case longPct <= 0.2:
		score, note = -8, "heavy short consensus"
	case longPct <= 0.4:
		score, note = -4, "short leaning"
	default:
		note = "whales split"
	}
	longWinners, shortWinners := 0, 0
	for _, p := range c.Longs {
		if p.ConsistentWinner {
			longWinners++
		}
	}
	for _, p := range c.Shorts {
		if p.ConsistentWinner {
			shortWinners++
		}
	}
	if longWinners != shortWinners {
		if longWinners > shortWinners {
			score += 2
			note += ", winners long"
		} else {
			score -= 2
			note += ", winners short"
		}
	}
	return score, fmt.Sprintf("%s (%d long / %d short)", note, len(c.Longs), len(c.Shorts))
}
