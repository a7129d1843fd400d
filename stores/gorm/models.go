//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/secrets"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID           string            `gorm:"primaryKey;size:64"`
	Username     *string           `gorm:"size:255;uniqueIndex"` // nil for oauth-only users so the unique index ignores them
	PasswordHash string            `gorm:"size:100"`
	ExternalIDs  []ExternalIDModel `gorm:"foreignKey:UserID;references:ID"`
	CreatedAt    time.Time         `gorm:"autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

// ExternalIDModel maps a provider profile id to its user.  The primary key
// makes each id unique within its provider, the second index allows one id
// per provider per user.
type ExternalIDModel struct {
	Provider   string    `gorm:"primaryKey;size:32;uniqueIndex:idx_external_ids_user_provider,priority:2"`
	ExternalID string    `gorm:"primaryKey;size:191"`
	UserID     string    `gorm:"size:64;not null;uniqueIndex:idx_external_ids_user_provider,priority:1"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ExternalIDModel) TableName() string {
	return "external_ids"
}

func (m *UserModel) ToUser() *secrets.User {
	user := &secrets.User{
		ID:           m.ID,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Username != nil {
		user.Username = *m.Username
	}
	if len(m.ExternalIDs) > 0 {
		user.ExternalIDs = make(map[string]string, len(m.ExternalIDs))
		for _, ext := range m.ExternalIDs {
			user.ExternalIDs[ext.Provider] = ext.ExternalID
		}
	}
	return user
}

// UserToModel converts a user, leaving ExternalIDs to be inserted separately
func UserToModel(u *secrets.User) *UserModel {
	m := &UserModel{
		ID:           u.ID,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.Username != "" {
		username := u.Username
		m.Username = &username
	}
	return m
}
