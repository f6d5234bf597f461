package model

import "time"

// EngagementLevel buckets the continuous engagement score.
type EngagementLevel string

// Engagement levels.
const (
	LevelDormant EngagementLevel = "dormant"
	LevelLow     EngagementLevel = "low"
	LevelMedium  EngagementLevel = "medium"
	LevelHigh    EngagementLevel = "high"
)

// EligibleTiers returns the queue tiers that may be dripped at level l.
func (l EngagementLevel) EligibleTiers() []Tier {
	switch l {
	case LevelHigh:
		return []Tier{TierHead, TierMidTail}
	case LevelMedium:
		return []Tier{TierHead}
	default:
		return nil
	}
}

// EngagementCounters are the raw interaction counts behind the score.
type EngagementCounters struct {
	SessionsLast30d       int `json:"sessions_last_30d"`
	TotalCorrections      int `json:"total_corrections"`
	CorrectionsWithReason int `json:"corrections_with_reason"`
	DripAnswered          int `json:"drip_answered"`
	DripSkipped           int `json:"drip_skipped"`
	ConfiguredProducts    int `json:"configured_products"`
}

// EngagementProfile is the per-entity engagement state.
type EngagementProfile struct {
	EntityID int64 `json:"entity_id"`
	EngagementCounters
	Score          float64         `json:"score"`
	Level          EngagementLevel `json:"level"`
	DripPerSession int             `json:"drip_per_session"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
