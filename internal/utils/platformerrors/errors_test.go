package platformerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlatformError_IsMatchesByType(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(LayerGateway, ErrorTypeStoreUnavailable, "list conversations", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConnectionUnavailable)

	wrapped := fmt.Errorf("open conversation: %w", err)
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.Equal(t, ErrorTypeStoreUnavailable, TypeOf(wrapped))
}

func TestPlatformError_Error(t *testing.T) {
	err := NewError(LayerUploader, ErrorTypeFileTooLarge, "photo.png is 11 MB", nil)
	assert.Equal(t, "[uploader][FILE_TOO_LARGE] photo.png is 11 MB", err.Error())

	err = NewError(LayerChannel, ErrorTypeConnectionUnavailable, "send", errors.New("closed"))
	assert.Equal(t, "[channel][CONNECTION_UNAVAILABLE] send: closed", err.Error())
}

func TestTypeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("boom")))
}

func TestWithContext(t *testing.T) {
	err := NewError(LayerDomain, ErrorTypeValidation, "empty message", nil).
		WithContext("conversation", "conversation:1:2")
	assert.Equal(t, "conversation:1:2", err.Context["conversation"])
}
