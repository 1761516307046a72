package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	assert.Equal(t, "user not found", NotFound("user not found").Error())

	cause := errors.New("boom")
	err := &AppError{Code: ErrCodeInternal, Message: "could not save", Cause: cause}
	assert.Equal(t, "could not save: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestConstructorsSetCode(t *testing.T) {
	tests := []struct {
		name  string
		err   *AppError
		code  ErrorCode
		field string
		is    func(error) bool
	}{
		{name: "not found", err: NotFound("x"), code: ErrCodeNotFound, is: IsNotFound},
		{name: "conflict", err: Conflict("x"), code: ErrCodeConflict, is: IsConflict},
		{name: "validation field", err: ValidationField("email", "x"), code: ErrCodeValidation, field: "email", is: IsValidation},
		{name: "unauthorized", err: Unauthorized("x"), code: ErrCodeUnauthorized, is: IsUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.field, tt.err.Field)
			assert.True(t, tt.is(tt.err))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("create user: %w", ValidationField("username", "too short"))

	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, ErrCodeValidation, GetCode(wrapped))
	assert.Equal(t, "username", GetField(wrapped))

	var appErr *AppError
	require.ErrorAs(t, wrapped, &appErr)
	assert.Equal(t, "too short", appErr.Message)
}

func TestPredicatesOnPlainErrors(t *testing.T) {
	plain := errors.New("plain")
	for _, is := range []func(error) bool{
		IsNotFound, IsConflict, IsValidation, IsForeignKey,
		IsInternal, IsTimeout, IsCanceled, IsUnauthorized,
	} {
		assert.False(t, is(plain))
		assert.False(t, is(nil))
	}
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetField(nil))
}
