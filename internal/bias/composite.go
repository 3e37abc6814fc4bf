// Package bias folds the per-component scores into one weighted composite
// per instrument and attaches the human-facing grade and label.
package bias

import (
	"market-fusion/internal/config"
	"market-fusion/internal/signal"
)

// Component is one scored input to the composite.
type Component struct {
	Score   float64
	Note    string
	Present bool
}

// Inputs carries the classifier outputs for one instrument at one sample.
type Inputs struct {
	Flow      signal.Flow
	Whale     Component
	Orderbook Component
	Funding   Component
}

// Composite is the fused directional read.
type Composite struct {
	Weighted   float64 // Σ(w·s)/Σw over present components
	Normalized float64 // Weighted / max flow score, clamped to [-1, 1]
	Grade      string
	Label      string
	Signal     string // bullish, bearish or neutral at ±0.1
	Inputs     Inputs
}

type Compositor struct {
	weights config.WeightsConfig
}

func NewCompositor(weights config.WeightsConfig) *Compositor {
	return &Compositor{weights: weights}
}

// Compose fuses the component scores. An absent component drops out of both
// the numerator and the weight sum, so a missing whale read never dilutes
// the flow signal toward zero.
func (c *Compositor) Compose(in Inputs) Composite {
	sum := in.Flow.Score * c.weights.Flow
	wsum := c.weights.Flow
	if in.Whale.Present {
		sum += in.Whale.Score * c.weights.Whale
		wsum += c.weights.Whale
	}
	if in.Orderbook.Present {
		sum += in.Orderbook.Score * c.weights.Orderbook
		wsum += c.weights.Orderbook
	}
	if in.Funding.Present {
		sum += in.Funding.Score * c.weights.Funding
		wsum += c.weights.Funding
	}

	out := Composite{Inputs: in}
	out.Weighted = sum / wsum
	out.Normalized = out.Weighted / signal.MaxFlowScore
	if out.Normalized > 1 {
		out.Normalized = 1
	} else if out.Normalized < -1 {
		out.Normalized = -1
	}
	out.Grade = grade(out.Normalized)
	out.Label = label(out.Normalized)
	out.Signal = direction(out.Normalized)
	return out
}

func grade(n float64) string {
	switch {
	case n >= 0.6:
		return "A+"
	case n >= 0.4:
		return "A"
	case n >= 0.2:
		return "B"
	case n >= -0.2:
		return "C"
	case n >= -0.4:
		return "D"
	default:
		return "F"
	}
}

func label(n float64) string {
	switch {
	case n >= 0.6:
		return "STRONG BULL"
	case n >= 0.3:
		return "BULLISH"
	case n >= 0.1:
		return "LEAN BULL"
	case n > -0.1:
		return "NEUTRAL"
	case n > -0.3:
		return "LEAN BEAR"
	case n > -0.6:
		return "BEARISH"
	default:
		return "STRONG BEAR"
	}
}

func direction(n float64) string {
	switch {
	case n >= 0.1:
		return "bullish"
	case n <= -0.1:
		return "bearish"
	default:
		return "neutral"
	}
}
