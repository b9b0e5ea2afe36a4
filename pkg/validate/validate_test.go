package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
)

type signup struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func TestStructReportsJSONFieldName(t *testing.T) {
	err := Struct(signup{Email: "not-an-email", Password: "longenough"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "email must be a valid email address", apperr.PublicMessage(err))
}

func TestStructMinLength(t *testing.T) {
	err := Struct(signup{Email: "a@example.com", Password: "short"})
	require.Error(t, err)
	assert.Equal(t, "password must be at least 8 characters", apperr.PublicMessage(err))
}

func TestStructOK(t *testing.T) {
	assert.NoError(t, Struct(signup{Email: "a@example.com", Password: "longenough"}))
}

func TestEmail(t *testing.T) {
	assert.True(t, Email("alice@example.com"))
	assert.False(t, Email("alice@"))
	assert.False(t, Email(""))
}
