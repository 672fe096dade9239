package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/kendall-kelly/cafe-orders-api/middleware"
	"github.com/kendall-kelly/cafe-orders-api/models"
	"gorm.io/gorm"
)

const testIssuer = "https://test.auth0.com/"

// MockValidatedClaims creates a mock ValidatedClaims for testing
func MockValidatedClaims(subject, issuer string, scopes []string) *validator.ValidatedClaims {
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{
			Issuer:  issuer,
			Subject: subject,
		},
		CustomClaims: &middleware.CustomClaims{
			Scope: strings.Join(scopes, " "),
		},
	}
}

// StubValidator accepts a fixed set of bearer tokens, each mapped to an
// Auth0 subject, in place of the JWKS-backed validator.
type StubValidator struct {
	mu       sync.RWMutex
	subjects map[string]string
}

func NewStubValidator() *StubValidator {
	return &StubValidator{subjects: make(map[string]string)}
}

// Allow makes token validate as subject.
func (v *StubValidator) Allow(token, subject string) {
	v.mu.Lock()
	v.subjects[token] = subject
	v.mu.Unlock()
}

func (v *StubValidator) ValidateToken(ctx context.Context, token string) (interface{}, error) {
	v.mu.RLock()
	subject, ok := v.subjects[token]
	v.mu.RUnlock()
	if !ok {
		return nil, errors.New("token signature is invalid")
	}
	return MockValidatedClaims(subject, testIssuer, nil), nil
}

// SeedUser stores an account for subject.
func SeedUser(t *testing.T, db *gorm.DB, subject, name, email, role string) models.User {
	t.Helper()
	user := models.User{Auth0ID: subject, Name: name, Email: email, Role: role}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to seed user %s: %v", subject, err)
	}
	return user
}
