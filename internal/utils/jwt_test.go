package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", Identity{UserID: 7, Name: "Dr. Wang", Role: "advisor", Kind: "admin"}, 5)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), tok.Exp, 5*time.Second)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, "advisor", claims.Role)
	assert.Equal(t, "admin", claims.Kind)
	assert.Equal(t, "Dr. Wang", claims.Name)
}

func TestParseAccessToken_Rejects(t *testing.T) {
	good, err := NewAccessToken("s3cret", Identity{UserID: 7, Kind: "user"}, 5)
	require.NoError(t, err)
	expired, err := NewAccessToken("s3cret", Identity{UserID: 7, Kind: "user"}, -1)
	require.NoError(t, err)
	noSubject, err := NewAccessToken("s3cret", Identity{Kind: "user"}, 5)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "7", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct{ secret, raw string }{
		"wrong secret": {"other", good.Token},
		"expired":      {"s3cret", expired.Token},
		"zero subject": {"s3cret", noSubject.Token},
		"unsigned":     {"s3cret", none},
		"garbage":      {"s3cret", "not-a-jwt"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAccessToken(tt.secret, tt.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
