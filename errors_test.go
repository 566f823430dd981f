package cabbage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabbagequeue/cabbage/adapter"
)

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, mapError(nil))
}

func TestMapErrorQueueingLockBecomesAlreadyEnqueued(t *testing.T) {
	pgErr := &adapter.PGError{
		SQLState:       sqlStateUniqueViolation,
		ConstraintName: queueingLockConstraint,
	}

	err := mapError(pgErr)

	var already *AlreadyEnqueued
	require.True(t, errors.As(err, &already))
	assert.Equal(t, queueingLockConstraint, already.ConstraintName)
	assert.ErrorIs(t, err, pgErr)
}

func TestMapErrorOtherUniqueViolation(t *testing.T) {
	pgErr := &adapter.PGError{
		SQLState:       sqlStateUniqueViolation,
		ConstraintName: "some_other_idx",
	}

	err := mapError(pgErr)

	var uv *UniqueViolation
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "some_other_idx", uv.ConstraintName)
}

func TestMapErrorFallsBackToConnectorException(t *testing.T) {
	err := mapError(errors.New("boom"))

	var ce *ConnectorException
	require.True(t, errors.As(err, &ce))
	assert.EqualError(t, ce.Cause, "boom")
}

func TestMapErrorNonUniqueViolationPGErrorIsConnectorException(t *testing.T) {
	pgErr := &adapter.PGError{SQLState: "P0001", Message: `Job with id 4 was not found or not in "doing" status`}

	err := mapError(pgErr)

	var ce *ConnectorException
	require.True(t, errors.As(err, &ce))
	assert.ErrorIs(t, err, pgErr)
}
