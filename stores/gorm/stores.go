//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/secrets"
)

// AutoMigrate runs database migrations for all secrets tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ExternalIDModel{},
	)
}

// errLostRace rolls back a find-or-create whose insert lost to a concurrent one
var errLostRace = errors.New("external id created concurrently")

// UserStore implements secrets.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *secrets.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	model := UserToModel(user)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return secrets.ErrDuplicateIdentifier
		}
		for provider, extId := range user.ExternalIDs {
			ext := &ExternalIDModel{Provider: provider, ExternalID: extId, UserID: model.ID}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ext)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return secrets.ErrExternalIDTaken
			}
		}
		return nil
	})
	if err != nil {
		return mapError("create user", err)
	}
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *UserStore) GetUserById(ctx context.Context, userId string) (*secrets.User, error) {
	return s.getUser(s.db.WithContext(ctx), "id = ?", userId)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*secrets.User, error) {
	if username == "" {
		return nil, secrets.ErrUserNotFound
	}
	return s.getUser(s.db.WithContext(ctx), "username = ?", username)
}

func (s *UserStore) getUser(db *gorm.DB, query string, args ...any) (*secrets.User, error) {
	var model UserModel
	if err := db.Preload("ExternalIDs").First(&model, append([]any{query}, args...)...).Error; err != nil {
		return nil, mapError("get user", err)
	}
	return model.ToUser(), nil
}

// findByExternalID returns the user owning the id, or ErrUserNotFound
func (s *UserStore) findByExternalID(db *gorm.DB, provider, externalID string) (*secrets.User, error) {
	var ext ExternalIDModel
	if err := db.First(&ext, "provider = ? AND external_id = ?", provider, externalID).Error; err != nil {
		return nil, mapError("get external id", err)
	}
	return s.getUser(db, "id = ?", ext.UserID)
}

func (s *UserStore) FindOrCreateByExternalID(ctx context.Context, provider, externalID string) (*secrets.User, bool, error) {
	if provider == "" || externalID == "" {
		return nil, false, fmt.Errorf("%w: provider and external id required", secrets.ErrInvalidInput)
	}
	db := s.db.WithContext(ctx)

	var user *secrets.User
	created := false
	err := db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByExternalID(tx, provider, externalID)
		if err == nil {
			user = existing
			return nil
		}
		if !errors.Is(err, secrets.ErrUserNotFound) {
			return err
		}

		model := &UserModel{ID: secrets.NewUserID()}
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return err
		}
		ext := &ExternalIDModel{Provider: provider, ExternalID: externalID, UserID: model.ID}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ext)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errLostRace
		}
		model.ExternalIDs = []ExternalIDModel{*ext}
		user = model.ToUser()
		created = true
		return nil
	})

	if errors.Is(err, errLostRace) {
		// The winner's row is committed, our orphan user was rolled back
		user, err = s.findByExternalID(db, provider, externalID)
		return user, false, err
	}
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
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := s.findByExternalID(tx, provider, externalID)
		switch {
		case err == nil && owner.ID == userId:
			user = owner
			return nil
		case err == nil:
			return secrets.ErrExternalIDTaken
		case !errors.Is(err, secrets.ErrUserNotFound):
			return err
		}

		current, err := s.getUser(tx, "id = ?", userId)
		if err != nil {
			return err
		}
		if current.ExternalID(provider) != "" {
			return fmt.Errorf("%w: user already linked to another %s account", secrets.ErrInvalidInput, provider)
		}

		ext := &ExternalIDModel{Provider: provider, ExternalID: externalID, UserID: userId}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ext)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return secrets.ErrExternalIDTaken
		}
		if err := tx.Model(&UserModel{}).Where("id = ?", userId).Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		user, err = s.getUser(tx, "id = ?", userId)
		return err
	})
	if err != nil {
		return nil, mapError("link external id", err)
	}
	return user, nil
}

// mapError turns gorm errors into the secrets taxonomy.  Domain errors pass through.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return secrets.ErrUserNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return secrets.ErrDuplicateIdentifier
	case errors.Is(err, secrets.ErrDuplicateIdentifier),
		errors.Is(err, secrets.ErrExternalIDTaken),
		errors.Is(err, secrets.ErrUserNotFound),
		errors.Is(err, secrets.ErrInvalidInput),
		errors.Is(err, secrets.ErrInvalidUser),
		errors.Is(err, secrets.ErrStoreUnavailable):
		return err
	default:
		return secrets.StoreError(op, err)
	}
}
