package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrMissingField,
		ErrMalformedValue,
		ErrLookupNotFound,
		ErrRemoteFailure,
		ErrTimeout,
		ErrProtoBadRequest,
		ErrInternal,
	}
	for _, c := range cases {
		assert.True(t, IsKnownCode(c), "expected known code: %q", c)
	}
	assert.False(t, IsKnownCode("E_NOT_DEFINED"))
}

func TestCodeOf_Wrapped(t *testing.T) {
	base := Errorf(ErrMissingField, "x", "axis absent")
	err := fmt.Errorf("resolve position: %w", base)

	assert.Equal(t, ErrMissingField, CodeOf(err))
	assert.True(t, IsCode(err, ErrMissingField))
	assert.False(t, IsCode(err, ErrMalformedValue))
	assert.False(t, IsCode(nil, ErrMissingField))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestWireCode(t *testing.T) {
	assert.Equal(t, ErrTimeout, WireCode(fmt.Errorf("wait: %w", Errorf(ErrTimeout, "", "deadline"))))
	assert.Equal(t, ErrInternal, WireCode(errors.New("plain")))
	assert.Equal(t, ErrInternal, WireCode(Errorf("E_NOT_DEFINED", "", "odd")))
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrRemoteFailure, "", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "E_REMOTE_FAILURE: connection refused", err.Error())
	assert.Equal(t, "E_MALFORMED_VALUE y: bad", Errorf(ErrMalformedValue, "y", "bad").Error())
}
