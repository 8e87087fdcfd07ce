package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrForbidden, "director may only prevalidate invoices of their campus")
	assert.True(t, stderrors.Is(err, ErrForbidden))
	assert.False(t, stderrors.Is(err, ErrConflict))
	assert.Equal(t, http.StatusForbidden, err.Status)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)

	wrapped := fmt.Errorf("outer: %w", Clone(ErrValidation, "bad row"))
	assert.Equal(t, "bad row", FromError(wrapped).Message)
	assert.Nil(t, FromError(nil))
}
