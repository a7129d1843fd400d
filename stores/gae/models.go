//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/panyam/secrets"
)

// UserEntity is the Datastore entity for users.  Key name is the user ID.
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	ExternalIDs  []byte         `datastore:"external_ids,noindex"` // JSON encoded provider -> id
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

// UsernameEntity reserves a username.  Key name is the username.
type UsernameEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at"`
}

// ExternalIDEntity maps a provider profile id to a user.
// Key format: Provider + ":" + ExternalID
type ExternalIDEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Provider   string         `datastore:"provider"`
	ExternalID string         `datastore:"external_id"`
	UserID     string         `datastore:"user_id"`
	CreatedAt  time.Time      `datastore:"created_at"`
}

func (e *UserEntity) ToUser() (*secrets.User, error) {
	user := &secrets.User{
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if e.Key != nil {
		user.ID = e.Key.Name
	}
	if len(e.ExternalIDs) > 0 {
		if err := json.Unmarshal(e.ExternalIDs, &user.ExternalIDs); err != nil {
			return nil, fmt.Errorf("decoding external ids of %q: %w", user.ID, err)
		}
	}
	return user, nil
}

func UserToEntity(u *secrets.User, key *datastore.Key) (*UserEntity, error) {
	entity := &UserEntity{
		Key:          key,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if len(u.ExternalIDs) > 0 {
		data, err := json.Marshal(u.ExternalIDs)
		if err != nil {
			return nil, fmt.Errorf("encoding external ids of %q: %w", u.ID, err)
		}
		entity.ExternalIDs = data
	}
	return entity, nil
}
