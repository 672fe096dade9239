package services

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService(t *testing.T) {
	db := setupTestDB(t)
	tokens := NewTokenService(db)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tokens.nowFunc = func() time.Time { return now }

	t.Run("Consumed exactly once", func(t *testing.T) {
		issued, value, err := tokens.Issue(t.Context(), models.TokenPurposeRewardClaim, "3", "Free cappuccino", time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, value)
		assert.Equal(t, now.Add(time.Hour), issued.ExpiresAt)

		consumed, err := tokens.Consume(t.Context(), models.TokenPurposeRewardClaim, value)
		require.NoError(t, err)
		assert.Equal(t, "3", consumed.SubjectID)
		assert.Equal(t, "Free cappuccino", consumed.Payload)
		require.NotNil(t, consumed.ConsumedAt)
		assert.False(t, consumed.IsValid(now))

		_, err = tokens.Consume(t.Context(), models.TokenPurposeRewardClaim, value)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Wrong purpose", func(t *testing.T) {
		_, value, err := tokens.Issue(t.Context(), models.TokenPurposePasswordReset, "3", "", time.Hour)
		require.NoError(t, err)

		_, err = tokens.Consume(t.Context(), models.TokenPurposeRewardClaim, value)
		assert.ErrorIs(t, err, ErrTokenInvalid)

		_, err = tokens.Consume(t.Context(), models.TokenPurposePasswordReset, value)
		assert.NoError(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		_, value, err := tokens.Issue(t.Context(), models.TokenPurposeEmailVerification, "3", "", time.Minute)
		require.NoError(t, err)

		later := NewTokenService(db)
		later.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
		_, err = later.Consume(t.Context(), models.TokenPurposeEmailVerification, value)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Unknown or empty", func(t *testing.T) {
		_, err := tokens.Consume(t.Context(), models.TokenPurposeRewardClaim, "")
		assert.ErrorIs(t, err, ErrTokenInvalid)
		_, err = tokens.Consume(t.Context(), models.TokenPurposeRewardClaim, "nope")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestGuestTokens(t *testing.T) {
	guests := NewGuestTokens("secret")
	now := time.Now()
	guests.nowFunc = func() time.Time { return now }

	token, expires, err := guests.Issue("order-1")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(GuestTokenTTL), expires, time.Second)

	orderID, err := guests.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)

	t.Run("Other secret", func(t *testing.T) {
		_, err := NewGuestTokens("other").Verify(token)
		assert.Error(t, err)
	})

	t.Run("Tampered", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"order_id":"order-2","sub":"guest:order-2"}`))
		_, err := guests.Verify(strings.Join(parts, "."))
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		late := NewGuestTokens("secret")
		late.nowFunc = func() time.Time { return now.Add(GuestTokenTTL + time.Minute) }
		_, err := late.Verify(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := guests.Verify("not-a-token")
		assert.Error(t, err)
	})
}
