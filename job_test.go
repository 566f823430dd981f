package cabbage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.True(t, s.valid(), "status %q should be valid", s)
	}
	assert.False(t, Status("bogus").valid())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "todo", StatusTodo.String())
	assert.Equal(t, "doing", StatusDoing.String())
}

func TestAllStatusesMatchesConstants(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusTodo, StatusDoing, StatusSucceeded, StatusFailed}, AllStatuses())
}

func TestStrPtr(t *testing.T) {
	assert.Nil(t, strPtr(""))
	if got := strPtr("x"); assert.NotNil(t, got) {
		assert.Equal(t, "x", *got)
	}
}

func TestTaskKwargsReturnsDefensiveCopy(t *testing.T) {
	j := &Job{args: []byte(`{"a":1}`)}

	kwargs := j.TaskKwargs()
	assert.Equal(t, `{"a":1}`, string(kwargs))

	kwargs[2] = 'X'
	assert.Equal(t, `{"a":1}`, string(j.args), "mutating the returned copy must not affect the Job")
}

func TestTaskKwargsNil(t *testing.T) {
	j := &Job{}
	assert.Nil(t, j.TaskKwargs())
}
