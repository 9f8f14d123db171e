package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependency(t *testing.T) {
	assert.NoError(t, Dependency(nil))

	cause := errors.New("dial tcp: connection refused")
	err := Dependency(cause)
	assert.ErrorIs(t, err, ErrDependencyFailure)
	assert.ErrorIs(t, err, cause)

	for _, kind := range []error{ErrNotFound, ErrConcurrentModification, ErrActiveRequest, ErrConflict, ErrForbidden} {
		wrapped := fmt.Errorf("%w: thing", kind)
		got := Dependency(wrapped)
		assert.Same(t, wrapped, got)
		assert.NotErrorIs(t, got, ErrDependencyFailure)
	}
}

func TestPoint_Validate(t *testing.T) {
	assert.NoError(t, Point{Lng: 180, Lat: -90}.Validate())
	assert.ErrorIs(t, Point{Lng: 180.1}.Validate(), ErrInvalidCoordinate)
	assert.ErrorIs(t, Point{Lat: -90.5}.Validate(), ErrInvalidCoordinate)
}
