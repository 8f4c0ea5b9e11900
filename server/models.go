package main

import "time"

// Account is one player account known to the anti-cheat backend.
type Account struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"uniqueIndex"`
	HWID      string `gorm:"index"`
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentSession is the persisted record of one connect/disconnect cycle.
// EndedAt is nil while the session is open.
type AgentSession struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex"`
	AccountID string `gorm:"index"`
	StartedAt time.Time
	EndedAt   *time.Time
	DurationS int64
	CreatedAt time.Time
}

// WhitelistEntry marks a finding identifier as known-safe for a
// detection type. Identifier and Secondary are stored lowercased.
// Removal deactivates rather than deletes, so the audit trail survives
// and re-adding the same key reactivates the row in place.
type WhitelistEntry struct {
	ID          uint   `gorm:"primaryKey"`
	Type        string `gorm:"uniqueIndex:whitelist_key;index"`
	Identifier  string `gorm:"uniqueIndex:whitelist_key"`
	Secondary   string `gorm:"uniqueIndex:whitelist_key"`
	DisplayName string
	Note        string
	AddedBy     string
	IsActive    bool `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Restriction is a shadow ban. Active restrictions have LiftedAt nil
// and ExpiresAt nil or in the future; a nil ExpiresAt is a permanent
// ban that only an operator lifts.
type Restriction struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Reason    string
	AppliedAt time.Time
	ExpiresAt *time.Time `gorm:"index"`
	LiftedAt  *time.Time
	LiftedBy  string
	CreatedAt time.Time
}

// EnrollmentToken stores hashed, single-use agent registration tokens.
type EnrollmentToken struct {
	ID         uint `gorm:"primaryKey"`
	Label      string
	TokenHash  string `gorm:"uniqueIndex"`
	ExpiresAt  time.Time
	UsedAt     *time.Time
	RedeemedBy string
	CreatedAt  time.Time
}
