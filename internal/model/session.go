package model

import "time"

// SessionStatus is the lifecycle state of an onboarding session.
type SessionStatus string

// Session statuses.
const (
	SessionOpen      SessionStatus = "open"
	SessionReady     SessionStatus = "ready"
	SessionCommitted SessionStatus = "committed"
	SessionAbandoned SessionStatus = "abandoned"
)

// sessionTransitions lists the allowed status moves. Committing is reserved
// for the commit orchestrator and is the only way into SessionCommitted.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionOpen:  {SessionReady, SessionAbandoned},
	SessionReady: {SessionOpen, SessionAbandoned, SessionCommitted},
}

// CanTransition reports whether a session may move from s to next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, n := range sessionTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCommitted || s == SessionAbandoned
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionOpen, SessionReady, SessionCommitted, SessionAbandoned:
		return true
	}
	return false
}

// Session is one onboarding attempt. Staged facts hang off it until commit.
type Session struct {
	ID             string        `json:"id"`
	ChatID         int64         `json:"chat_id"`
	EntityID       *int64        `json:"entity_id,omitempty"`
	ContactID      *int64        `json:"contact_id,omitempty"`
	Status         SessionStatus `json:"status"`
	RestaurantName string        `json:"restaurant_name,omitempty"`
	City           string        `json:"city,omitempty"`
	RestaurantType string        `json:"restaurant_type,omitempty"`
	ContactName    string        `json:"contact_name,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CommittedAt    *time.Time    `json:"committed_at,omitempty"`
}

// BasicInfo is the restaurant and contact data collected before invoices.
type BasicInfo struct {
	RestaurantName string `json:"restaurant_name" yaml:"restaurant_name" validate:"required,max=200"`
	City           string `json:"city" yaml:"city" validate:"max=120"`
	RestaurantType string `json:"restaurant_type" yaml:"restaurant_type" validate:"max=80"`
	ContactName    string `json:"contact_name" yaml:"contact_name" validate:"required,max=200"`
}
