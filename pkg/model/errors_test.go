package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusid/eventstore/pkg/model"
)

func TestKindOfExtractsKindFromATaggedError(t *testing.T) {
	err := model.NewConcurrencyConflict(1, 2)
	assert.Equal(t, model.KindConcurrency, model.KindOf(err))
}

func TestKindOfDefaultsToInternalForUnclassifiedErrors(t *testing.T) {
	assert.Equal(t, model.KindInternal, model.KindOf(errors.New("boom")))
}

func TestErrorsIsMatchesOnKindAlone(t *testing.T) {
	err := model.NewConcurrencyConflict(1, 2)
	assert.True(t, errors.Is(err, model.ErrConcurrency))
	assert.False(t, errors.Is(err, model.ErrUniqueConstraintViolation))
}

func TestAsConcurrencyExtractsExpectedAndActualVersions(t *testing.T) {
	err := model.NewConcurrencyConflict(5, 7)
	expected, actual, ok := model.AsConcurrency(err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), expected)
	assert.Equal(t, int64(7), actual)

	_, _, ok = model.AsConcurrency(errors.New("not a concurrency error"))
	assert.False(t, ok)
}

func TestAsUniqueConstraintViolationExtractsTheColliderClaim(t *testing.T) {
	err := model.NewUniqueConstraintViolation("email", "a@example.com")
	uniqueType, uniqueField, ok := model.AsUniqueConstraintViolation(err)
	assert.True(t, ok)
	assert.Equal(t, "email", uniqueType)
	assert.Equal(t, "a@example.com", uniqueField)
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("root cause")
	err := model.NewTransient(cause)
	assert.Contains(t, err.Error(), "root cause")
	assert.ErrorIs(t, err, cause)
}

func TestUnwrapExposesTheUnderlyingCause(t *testing.T) {
	cause := errors.New("root cause")
	err := model.NewInternal(cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}
