// Package engagement scores how involved an entity is with the assistant.
// The level derived from the score gates how many drip questions are asked.
package engagement

import (
	"math"

	"github.com/frepi/frepi-core/internal/model"
)

// Signal weights. They sum to 1 so the score stays in [0, 1].
const (
	weightDepth      = 0.15
	weightDripRate   = 0.30
	weightCorrection = 0.25
	weightSessions   = 0.15
	weightReasoning  = 0.15

	correctionSaturation = 5
	sessionSaturation    = 10
)

// Level thresholds, inclusive lower bounds evaluated top-down.
const (
	HighThreshold   = 0.65
	MediumThreshold = 0.35
	LowThreshold    = 0.10
)

// Signals are the clamped inputs of the weighted sum.
type Signals struct {
	Depth            float64 `json:"depth"`
	DripRate         float64 `json:"drip_rate"`
	Correction       float64 `json:"correction"`
	SessionFrequency float64 `json:"session_frequency"`
	Reasoning        float64 `json:"reasoning"`
}

// Result is a scored set of counters.
type Result struct {
	Score          float64               `json:"score"`
	Level          model.EngagementLevel `json:"level"`
	DripPerSession int                   `json:"drip_per_session"`
	Signals        Signals               `json:"signals"`
}

// Score computes the engagement result for c. It is pure: the same counters
// and config always give the same result.
func Score(c model.EngagementCounters, cfg Config) Result {
	target := cfg.TargetDepth
	if target <= 0 {
		target = DefaultTargetDepth
	}
	s := Signals{
		Depth:            clamp(float64(c.ConfiguredProducts) / float64(target)),
		DripRate:         clamp(float64(c.DripAnswered) / float64(max(1, c.DripAnswered+c.DripSkipped))),
		Correction:       clamp(float64(c.TotalCorrections) / correctionSaturation),
		SessionFrequency: clamp(float64(c.SessionsLast30d) / sessionSaturation),
		Reasoning:        clamp(float64(c.CorrectionsWithReason) / float64(max(1, c.TotalCorrections))),
	}
	score := weightDepth*s.Depth +
		weightDripRate*s.DripRate +
		weightCorrection*s.Correction +
		weightSessions*s.SessionFrequency +
		weightReasoning*s.Reasoning
	score = clamp(math.Round(score*100) / 100)

	level, drip := LevelFor(score)
	return Result{Score: score, Level: level, DripPerSession: drip, Signals: s}
}

// LevelFor maps a score onto a level and its drip budget.
func LevelFor(score float64) (model.EngagementLevel, int) {
	switch {
	case score >= HighThreshold:
		return model.LevelHigh, 2
	case score >= MediumThreshold:
		return model.LevelMedium, 1
	case score >= LowThreshold:
		return model.LevelLow, 0
	default:
		return model.LevelDormant, 0
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}
