package errs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassification(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input %q", "x")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindConflict, KindOf(Conflict("already handled")))
	assert.Equal(t, KindSecurityViolation, KindOf(SecurityViolation("ip mismatch")))
	assert.Equal(t, KindDependency, KindOf(Dependency(errors.New("boom"), "store down")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrappedErrorsKeepKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", Conflict("alert %s is already handled", "a-1"))
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestDependencyUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Dependency(cause, "failed to persist alert")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to persist alert: connection refused", err.Error())
}

func TestMessageFormatting(t *testing.T) {
	err := Validation("risk score must be within 0-100, got %d", 120)
	assert.Equal(t, "risk score must be within 0-100, got 120", err.Error())
}
