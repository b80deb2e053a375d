package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckQuorum_Met(t *testing.T) {
	result := CheckQuorum(7, 10, 0.7)

	assert.True(t, result.Met)
	assert.InDelta(t, 0.7, result.ParticipationRate, 1e-9)
	assert.False(t, result.RetryRecommended)
}

func TestCheckQuorum_NotMet(t *testing.T) {
	result := CheckQuorum(3, 10, 0.8)

	assert.False(t, result.Met)
	assert.InDelta(t, 0.3, result.ParticipationRate, 1e-9)
	assert.True(t, result.RetryRecommended)
}

func TestCheckQuorum_FullParticipation(t *testing.T) {
	result := CheckQuorum(4, 4, 1.0)

	assert.True(t, result.Met)
	assert.InDelta(t, 1.0, result.ParticipationRate, 1e-9)
}

func TestCheckQuorum_NoEligible(t *testing.T) {
	result := CheckQuorum(0, 0, 0.5)

	assert.False(t, result.Met)
	assert.True(t, result.RetryRecommended)
	assert.Zero(t, result.ParticipationRate)
}
