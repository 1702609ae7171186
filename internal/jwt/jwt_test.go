package jwt

import (
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-api/internal/model"
)

func testUser() *model.User {
	return &model.User{ID: uuid.New(), Username: "alice", Email: "alice@hkust-gz.edu.cn", Role: model.RoleUser}
}

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("secret", 15*time.Minute, 720*time.Hour)
	u := testUser()

	access, refresh, err := m.GenerateTokens(u)
	require.NoError(t, err)

	claims, err := m.ValidateTyped(access, TypeAccess)
	require.NoError(t, err)
	sub, err := Subject(claims)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sub)
	assert.Equal(t, "alice", claims["name"])
	assert.Equal(t, model.RoleUser, claims["role"])
	assert.NotEmpty(t, ID(claims))

	_, err = m.ValidateTyped(refresh, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	rc, err := m.ValidateTyped(refresh, TypeRefresh)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(720*time.Hour), ExpiresAt(rc), time.Minute)
}

func TestValidate_Expired(t *testing.T) {
	m := NewManager("secret", time.Minute, time.Hour)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	access, err := m.GenerateAccessToken(testUser())
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(access)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwtv5.ErrTokenExpired))
}

func TestValidate_WrongSecretAndMethod(t *testing.T) {
	m := NewManager("secret", time.Minute, time.Hour)
	other := NewManager("other", time.Minute, time.Hour)

	access, err := other.GenerateAccessToken(testUser())
	require.NoError(t, err)
	_, err = m.ValidateToken(access)
	require.Error(t, err)

	none, err := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, jwtv5.MapClaims{"sub": "x"}).SignedString(jwtv5.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(none)
	require.Error(t, err)
}
