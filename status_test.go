package h2t

import (
	"testing"

	"github.com/lthibault/h2t/codec"
	"github.com/stretchr/testify/assert"
)

func TestStatusFromErrorCode(t *testing.T) {
	t.Run("NoError", func(t *testing.T) {
		assert.Equal(t, CodeOK, StatusFromErrorCode(codec.NoError).Code)
	})

	t.Run("Cancel", func(t *testing.T) {
		assert.Equal(t, CodeCancelled, StatusFromErrorCode(codec.Cancel).Code)
	})

	t.Run("InvalidCredentials", func(t *testing.T) {
		assert.Equal(t, CodePermissionDenied, StatusFromErrorCode(codec.InvalidCredentials).Code)
	})

	t.Run("KnownOther", func(t *testing.T) {
		assert.Equal(t, CodeInternal, StatusFromErrorCode(codec.ProtocolError).Code)
	})

	t.Run("Unknown", func(t *testing.T) {
		s := StatusFromErrorCode(codec.ErrorCode(0xff))
		assert.Equal(t, CodeInternal, s.Code)
	})
}

func TestFromCause(t *testing.T) {
	t.Run("NilCause", func(t *testing.T) {
		assert.Equal(t, CodeInternal, FromCause(nil).Code)
	})

	t.Run("AlreadyStatus", func(t *testing.T) {
		want := Cancelled("already a status")
		assert.Same(t, want, FromCause(want))
	})

	t.Run("PlainError", func(t *testing.T) {
		s := FromCause(assertErr("boom"))
		assert.Equal(t, CodeInternal, s.Code)
		assert.Error(t, s)
	})
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
