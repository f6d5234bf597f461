package model

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_Transitions(t *testing.T) {
	t.Parallel()

	assert.True(t, SessionOpen.CanTransition(SessionReady))
	assert.True(t, SessionOpen.CanTransition(SessionAbandoned))
	assert.False(t, SessionOpen.CanTransition(SessionCommitted))
	assert.True(t, SessionReady.CanTransition(SessionCommitted))
	assert.True(t, SessionReady.CanTransition(SessionOpen))
	assert.False(t, SessionCommitted.CanTransition(SessionOpen))
	assert.False(t, SessionAbandoned.CanTransition(SessionReady))

	assert.True(t, SessionCommitted.Terminal())
	assert.True(t, SessionAbandoned.Terminal())
	assert.False(t, SessionReady.Terminal())
}

func TestLevel_EligibleTiers(t *testing.T) {
	t.Parallel()

	assert.Empty(t, LevelDormant.EligibleTiers())
	assert.Empty(t, LevelLow.EligibleTiers())
	assert.Equal(t, []Tier{TierHead}, LevelMedium.EligibleTiers())
	assert.Equal(t, []Tier{TierHead, TierMidTail}, LevelHigh.EligibleTiers())
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	conflict := NewConflictError("session s1", "already committed")
	wrapped := &StepError{Step: "finalize_session", Err: fmt.Errorf("outer: %w", conflict)}

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.True(t, Recoverable(wrapped))

	step, ok := FailedStep(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "finalize_session", step)

	dep := NewDependencyError("embedding", eris.New("timeout"))
	assert.True(t, IsDependency(eris.Wrap(dep, "catalog: embed")))

	cv := NewConsistencyViolation(7, "single_open_price", "2 open records")
	assert.True(t, IsConsistency(cv))
	assert.False(t, Recoverable(cv))
	assert.Contains(t, cv.Error(), "entity 7")
}
