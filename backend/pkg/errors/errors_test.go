package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFound("thread", "7"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("commit: %w", NewNotFound("thread", "7")), http.StatusNotFound},
		{"auth", ErrAuthRequired, http.StatusUnauthorized},
		{"invalid token", NewAuthInvalidToken(io.EOF), http.StatusUnauthorized},
		{"validation", NewValidation("message", "is required"), http.StatusBadRequest},
		{"model", NewModelRequestFailed("m", io.EOF), http.StatusBadGateway},
		{"graph tx", NewGraphTxFailed("commit", io.EOF), http.StatusInternalServerError},
		{"plain", io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsErrorType_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewGraphTxFailed("create node", io.ErrUnexpectedEOF))

	assert.True(t, IsErrorType(err, ErrorTypeGraph))
	assert.False(t, IsErrorType(err, ErrorTypeModel))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBaseError_Message(t *testing.T) {
	err := NewModelStreamFailed("gpt", "web_search", 3, io.EOF)
	assert.Equal(t, "[model] web_search completion stream failed: EOF", err.Error())
	assert.Equal(t, 3, err.TokensSent)
}
