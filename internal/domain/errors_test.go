package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesOwnCodeOnly(t *testing.T) {
	wrapped := ErrMessageNotFound.Wrap(errors.New("sql: no rows in result set"))

	assert.ErrorIs(t, wrapped, ErrMessageNotFound)
	assert.NotErrorIs(t, wrapped, ErrUserNotFound)
	assert.NotErrorIs(t, ErrUserNotFound.WithMessage("no such user"), ErrMessageNotFound)
	assert.Equal(t, 404, ErrUserNotFound.Status)
	assert.Equal(t, 404, ErrMessageNotFound.Status)
}
