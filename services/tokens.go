package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
)

// ErrTokenInvalid is returned for an unknown, expired or already consumed token.
var ErrTokenInvalid = errors.New("token is invalid or has expired")

// TokenService issues and consumes timed single-use tokens.
type TokenService struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func NewTokenService(db *gorm.DB) *TokenService {
	return &TokenService{db: db, nowFunc: time.Now}
}

// Issue creates a token for subject that expires after ttl.
func (s *TokenService) Issue(ctx context.Context, purpose, subjectID, payload string, ttl time.Duration) (*models.TimedToken, string, error) {
	value, err := randomToken()
	if err != nil {
		return nil, "", err
	}
	now := s.nowFunc()
	token := &models.TimedToken{
		Purpose:   purpose,
		Token:     &value,
		SubjectID: subjectID,
		Payload:   payload,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, value, nil
}

// Consume redeems value exactly once. The update is conditional on the token
// being unconsumed and unexpired and nulls the value, so a second call with
// the same value matches nothing.
func (s *TokenService) Consume(ctx context.Context, purpose, value string) (*models.TimedToken, error) {
	if value == "" {
		return nil, ErrTokenInvalid
	}
	db := s.db.WithContext(ctx)

	var token models.TimedToken
	err := db.Where("token = ? AND purpose = ?", value, purpose).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	now := s.nowFunc()
	result := db.Model(&models.TimedToken{}).
		Where("id = ? AND token = ? AND consumed_at IS NULL AND expires_at > ?", token.ID, value, now).
		Updates(map[string]interface{}{"consumed_at": now, "token": nil})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to consume token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrTokenInvalid
	}

	token.ConsumedAt = &now
	token.Token = nil
	return &token, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GuestTokenTTL is how long a guest can follow and act on their order.
const GuestTokenTTL = 48 * time.Hour

// GuestClaims are carried by a guest order token.
type GuestClaims struct {
	OrderID string `json:"order_id"`
	jwt.RegisteredClaims
}

// GuestTokens signs and verifies guest order tokens (HS256).
type GuestTokens struct {
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewGuestTokens(secret string) *GuestTokens {
	return &GuestTokens{secret: []byte(secret), ttl: GuestTokenTTL, nowFunc: time.Now}
}

// Issue signs a token granting access to orderID.
func (g *GuestTokens) Issue(orderID string) (string, time.Time, error) {
	now := g.nowFunc()
	expires := now.Add(g.ttl)
	claims := GuestClaims{
		OrderID: orderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guest:" + orderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign guest token: %w", err)
	}
	return signed, expires, nil
}

// Verify returns the order id a valid token grants access to.
func (g *GuestTokens) Verify(tokenString string) (string, error) {
	claims := &GuestClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.nowFunc),
	)
	if err != nil {
		return "", fmt.Errorf("invalid guest token: %w", err)
	}
	if !token.Valid || claims.OrderID == "" {
		return "", errors.New("invalid guest token")
	}
	return claims.OrderID, nil
}
