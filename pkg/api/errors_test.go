package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/bridgy/pkg/services"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantMessage string
	}{
		{
			name:        "validation error",
			err:         services.NewValidationError("user_id", "must not be empty"),
			wantCode:    http.StatusBadRequest,
			wantMessage: "validation error on field 'user_id': must not be empty",
		},
		{
			name:        "wrapped validation error",
			err:         fmt.Errorf("asking: %w", services.NewValidationError("message", "must not be empty")),
			wantCode:    http.StatusBadRequest,
			wantMessage: "validation error on field 'message': must not be empty",
		},
		{
			name:        "not found",
			err:         fmt.Errorf("%w: audit record rec-9", services.ErrNotFound),
			wantCode:    http.StatusNotFound,
			wantMessage: "resource not found",
		},
		{
			name:        "unexpected error",
			err:         errors.New("pool exhausted"),
			wantCode:    http.StatusInternalServerError,
			wantMessage: "internal server error",
		},
		{
			name:        "unexpected error detail is not exposed",
			err:         errors.New("pq: password authentication failed for user bridgy"),
			wantCode:    http.StatusInternalServerError,
			wantMessage: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := toHTTPError(tt.err)
			assert.Equal(t, tt.wantCode, httpErr.Code)
			assert.Equal(t, tt.wantMessage, httpErr.Message)
		})
	}
}
