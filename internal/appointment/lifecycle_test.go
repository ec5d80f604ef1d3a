package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusScheduled, StatusConfirmed},
		{StatusScheduled, StatusCompleted},
		{StatusScheduled, StatusCancelled},
		{StatusScheduled, StatusRescheduled},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusRescheduled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be allowed", tr.from, tr.to)
	}

	denied := []struct{ from, to Status }{
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusScheduled},
		{StatusCancelled, StatusScheduled},
		{StatusCancelled, StatusCompleted},
		{StatusRescheduled, StatusConfirmed},
		{StatusConfirmed, StatusScheduled},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s should be denied", tr.from, tr.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.True(t, IsTerminal(StatusRescheduled))
	assert.False(t, IsTerminal(StatusScheduled))
	assert.False(t, IsTerminal(StatusConfirmed))
}

func TestActiveStates(t *testing.T) {
	assert.True(t, IsActive(StatusScheduled))
	assert.True(t, IsActive(StatusConfirmed))
	assert.False(t, IsActive(StatusCancelled))
	assert.False(t, IsActive(StatusRescheduled))
	assert.False(t, IsActive(StatusCompleted))
}

func TestCheckTransitionReturnsTypedError(t *testing.T) {
	err := checkTransition(StatusCompleted, StatusCancelled)
	var trErr *InvalidTransitionError
	assert.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCompleted, trErr.From)
	assert.Equal(t, StatusCancelled, trErr.To)
}
