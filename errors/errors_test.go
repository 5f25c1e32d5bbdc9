package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIError_NotFoundIsLookupFailure(t *testing.T) {
	req := require.New(t)

	// Given a 404 wrapped by a caller
	err := fmt.Errorf("get user: %w", &APIError{Status: http.StatusNotFound, Detail: "User not found"})

	// Then it is recognised as a lookup failure
	req.True(stderrors.Is(err, ErrLookupFailure))
	req.Contains(err.Error(), "User not found")

	var apiErr *APIError
	req.True(stderrors.As(err, &apiErr))
	req.Equal(http.StatusNotFound, apiErr.Status)
}

func TestAPIError_ServerErrorIsNotLookupFailure(t *testing.T) {
	req := require.New(t)
	err := &APIError{Status: http.StatusInternalServerError}
	req.False(stderrors.Is(err, ErrLookupFailure))
	req.Equal("chat api: 500 Internal Server Error", err.Error())
}

func TestNotConnected_IsTransport(t *testing.T) {
	req := require.New(t)
	req.True(stderrors.Is(ErrNotConnected, ErrTransport))
	req.True(stderrors.Is(Violation("id %s owned by %s", "m1", "c2"), ErrInvariantViolation))
}
