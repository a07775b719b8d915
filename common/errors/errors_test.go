package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNilErrorHasNoCode(t *testing.T) {
	assert.Nil(t, NewError(nil, ConfigFaultExitCode))
	var e *ExitCodeError
	assert.Equal(t, ExitCode(0), e.GetExitCode())
}

func TestExitCodeOfWrapped(t *testing.T) {
	base := NewError(fmt.Errorf("no hosts"), ConfigFaultExitCode)
	wrapped := pkgerrors.Wrap(base, "building pool")

	assert.Equal(t, ConfigFaultExitCode, ExitCodeOf(wrapped))
	assert.Equal(t, "building pool: no hosts", wrapped.Error())
	assert.Equal(t, SuccessExitCode, ExitCodeOf(nil))
	assert.Equal(t, GenericFailureExitCode, ExitCodeOf(fmt.Errorf("plain")))
}

func TestNewErrorf(t *testing.T) {
	err := NewErrorf(InvariantFaultExitCode, "slot %d busy", 3)
	assert.Equal(t, "slot 3 busy", err.Error())
	assert.Equal(t, InvariantFaultExitCode, err.GetExitCode())
}
