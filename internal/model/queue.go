package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a queue item's importance derived from spend rank.
type Tier string

// Tiers, most important first.
const (
	TierHead     Tier = "head"
	TierMidTail  Tier = "mid_tail"
	TierLongTail Tier = "long_tail"
)

// Rank orders tiers for selection; lower is asked first.
func (t Tier) Rank() int {
	switch t {
	case TierHead:
		return 0
	case TierMidTail:
		return 1
	default:
		return 2
	}
}

// QueueStatus is the collection state of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueuePending   QueueStatus = "pending"
	QueueAskedDrip QueueStatus = "asked_drip"
	QueueAnswered  QueueStatus = "answered"
	QueueSkipped   QueueStatus = "skipped"
)

// Askable reports whether an item in this status can still be asked.
func (s QueueStatus) Askable() bool {
	return s == QueuePending || s == QueueAskedDrip
}

// QueueItem is a pending preference-collection question for one product.
type QueueItem struct {
	ID          int64           `json:"id"`
	EntityID    int64           `json:"entity_id"`
	ProductID   int64           `json:"product_id"`
	Tier        Tier            `json:"tier"`
	Status      QueueStatus     `json:"status"`
	Position    int             `json:"position"`
	TotalSpend  decimal.Decimal `json:"total_spend"`
	AskedCount  int             `json:"asked_count"`
	SkipCount   int             `json:"skip_count"`
	LastAskedAt *time.Time      `json:"last_asked_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Question is a queue item paired with the dimension to ask about.
type Question struct {
	Item        QueueItem `json:"item"`
	ProductName string    `json:"product_name"`
	Dimension   Dimension `json:"dimension"`
}

// ProductSpend is a committed product's cumulative onboarding spend.
type ProductSpend struct {
	ProductID int64
	Spend     decimal.Decimal
	// Order breaks spend ties: lower values were staged first.
	Order int64
}
