//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/secrets"
)

// Kind constants for Datastore entities
const (
	KindUser       = "User"
	KindUsername   = "Username"
	KindExternalID = "ExternalID"
)

// Contended reservations are retried this many times before giving up
const txAttempts = 10

// UserStore implements secrets.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) externalIDKey(provider, externalID string) *datastore.Key {
	return s.namespacedKey(KindExternalID, provider+":"+externalID)
}

func (s *UserStore) CreateUser(ctx context.Context, user *secrets.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if user.Username != "" {
			var existing UsernameEntity
			err := tx.Get(s.namespacedKey(KindUsername, user.Username), &existing)
			if err == nil {
				return secrets.ErrDuplicateIdentifier
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}
		for provider, extId := range user.ExternalIDs {
			var existing ExternalIDEntity
			err := tx.Get(s.externalIDKey(provider, extId), &existing)
			if err == nil {
				return secrets.ErrExternalIDTaken
			}
			if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		record := user.Clone()
		record.CreatedAt, record.UpdatedAt = now, now
		return s.putNewUser(tx, record)
	}, datastore.MaxAttempts(txAttempts))
	if err != nil {
		return mapError("create user", err)
	}
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

// putNewUser writes the user with all its reservation entities
func (s *UserStore) putNewUser(tx *datastore.Transaction, user *secrets.User) error {
	key := s.namespacedKey(KindUser, user.ID)
	entity, err := UserToEntity(user, key)
	if err != nil {
		return err
	}
	if _, err := tx.Put(key, entity); err != nil {
		return err
	}
	if user.Username != "" {
		unKey := s.namespacedKey(KindUsername, user.Username)
		if _, err := tx.Put(unKey, &UsernameEntity{Key: unKey, UserID: user.ID, CreatedAt: user.CreatedAt}); err != nil {
			return err
		}
	}
	for provider, extId := range user.ExternalIDs {
		if err := s.putExternalID(tx, provider, extId, user.ID, user.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *UserStore) putExternalID(tx *datastore.Transaction, provider, externalID, userId string, now time.Time) error {
	key := s.externalIDKey(provider, externalID)
	_, err := tx.Put(key, &ExternalIDEntity{
		Key:        key,
		Provider:   provider,
		ExternalID: externalID,
		UserID:     userId,
		CreatedAt:  now,
	})
	return err
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*secrets.User, error) {
	if userId == "" {
		return nil, secrets.ErrUserNotFound
	}
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, userId), &entity); err != nil {
		return nil, mapError("get user", err)
	}
	user, err := entity.ToUser()
	if err != nil {
		return nil, mapError("get user", err)
	}
	return user, nil
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*secrets.User, error) {
	if username == "" {
		return nil, secrets.ErrUserNotFound
	}
	var reservation UsernameEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUsername, username), &reservation); err != nil {
		return nil, mapError("get username", err)
	}
	return s.GetUserById(ctx, reservation.UserID)
}

// getOwnerInTx loads the owner of an external id, or ErrNoSuchEntity
func (s *UserStore) getOwnerInTx(tx *datastore.Transaction, provider, externalID string) (*secrets.User, error) {
	var ext ExternalIDEntity
	if err := tx.Get(s.externalIDKey(provider, externalID), &ext); err != nil {
		return nil, err
	}
	var entity UserEntity
	if err := tx.Get(s.namespacedKey(KindUser, ext.UserID), &entity); err != nil {
		return nil, err
	}
	return entity.ToUser()
}

func (s *UserStore) FindOrCreateByExternalID(ctx context.Context, provider, externalID string) (*secrets.User, bool, error) {
	if provider == "" || externalID == "" {
		return nil, false, fmt.Errorf("%w: provider and external id required", secrets.ErrInvalidInput)
	}
	var user *secrets.User
	var created bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		// The function is retried on contention so start clean every time
		user, created = nil, false

		owner, err := s.getOwnerInTx(tx, provider, externalID)
		if err == nil {
			user = owner
			return nil
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		now := time.Now().UTC()
		fresh := &secrets.User{
			ID:          secrets.NewUserID(),
			ExternalIDs: map[string]string{provider: externalID},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.putNewUser(tx, fresh); err != nil {
			return err
		}
		user, created = fresh, true
		return nil
	}, datastore.MaxAttempts(txAttempts))
	if err != nil {
		return nil, false, mapError("find or create", err)
	}
	return user, created, nil
}

func (s *UserStore) LinkExternalID(ctx context.Context, userId, provider, externalID string) (*secrets.User, error) {
	if provider == "" || externalID == "" {
		return nil, fmt.Errorf("%w: provider and external id required", secrets.ErrInvalidInput)
	}
	var user *secrets.User
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		user = nil
		owner, err := s.getOwnerInTx(tx, provider, externalID)
		switch {
		case err == nil && owner.ID == userId:
			user = owner
			return nil
		case err == nil:
			return secrets.ErrExternalIDTaken
		case !errors.Is(err, datastore.ErrNoSuchEntity):
			return err
		}

		key := s.namespacedKey(KindUser, userId)
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return err
		}
		current, err := entity.ToUser()
		if err != nil {
			return err
		}
		if current.ExternalID(provider) != "" {
			return fmt.Errorf("%w: user already linked to another %s account", secrets.ErrInvalidInput, provider)
		}
		if current.ExternalIDs == nil {
			current.ExternalIDs = map[string]string{}
		}
		current.ExternalIDs[provider] = externalID
		current.UpdatedAt = time.Now().UTC()

		updated, err := UserToEntity(current, key)
		if err != nil {
			return err
		}
		if _, err := tx.Put(key, updated); err != nil {
			return err
		}
		if err := s.putExternalID(tx, provider, externalID, userId, current.UpdatedAt); err != nil {
			return err
		}
		user = current
		return nil
	}, datastore.MaxAttempts(txAttempts))
	if err != nil {
		return nil, mapError("link external id", err)
	}
	return user, nil
}

// mapError turns Datastore errors into the secrets taxonomy.  Domain errors pass through.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return secrets.ErrUserNotFound
	case errors.Is(err, secrets.ErrDuplicateIdentifier),
		errors.Is(err, secrets.ErrExternalIDTaken),
		errors.Is(err, secrets.ErrUserNotFound),
		errors.Is(err, secrets.ErrInvalidInput),
		errors.Is(err, secrets.ErrInvalidUser):
		return err
	default:
		return secrets.StoreError(op, err)
	}
}
