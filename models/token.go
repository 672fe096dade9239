package models

import "time"

// Purposes for timed single-use tokens
const (
	TokenPurposeRewardClaim       = "reward_claim"
	TokenPurposePasswordReset     = "password_reset"
	TokenPurposeEmailVerification = "email_verification"
)

// TimedToken is an expiring credential that can be consumed exactly once.
// Token is nulled on consumption so the value cannot be replayed.
type TimedToken struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Purpose    string     `gorm:"type:varchar(32);not null;index" json:"purpose"`
	Token      *string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	SubjectID  string     `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	Payload    string     `gorm:"type:text" json:"payload,omitempty"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName specifies the table name for the TimedToken model
func (TimedToken) TableName() string {
	return "timed_tokens"
}

// IsValid reports whether the token can still be consumed at now.
func (t TimedToken) IsValid(now time.Time) bool {
	return t.ConsumedAt == nil && t.Token != nil && now.Before(t.ExpiresAt)
}
