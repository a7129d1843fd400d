package fs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/panyam/secrets"
)

// fsIndex maps a unique key (username or provider id) to its owning user.
// Key holds the unhashed key the file name was derived from.
type fsIndex struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// indexRef names one index entry and the file holding it
type indexRef struct {
	path string
	key  string
}

// errIndexCollision means an index file holds a different key than the one
// hashed to its name
var errIndexCollision = errors.New("index file holds another key")

// readIndex loads the entry for ref.  found is false when there is none.
func readIndex(ref indexRef) (idx fsIndex, found bool, err error) {
	found, err = readJSON(ref.path, &idx)
	if err != nil || !found {
		return idx, false, err
	}
	if idx.Key != ref.key {
		return idx, false, fmt.Errorf("%w: %s", errIndexCollision, filepath.Base(ref.path))
	}
	return idx, true, nil
}

func writeIndex(ref indexRef, userId string, now time.Time) error {
	return writeJSON(ref.path, fsIndex{Key: ref.key, UserID: userId, CreatedAt: now})
}

// FSUserStore implements secrets.UserStore using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── {sha256(userId)}.json     # the secrets.User record
//	├── usernames/
//	│   └── {sha256(username)}.json   # {"key": username, "user_id": ...}
//	└── externalids/
//	    └── {sha256(provider\0id)}.json
//
// File names are hex SHA-256 digests so any key fits the file system's name
// limit.  Index records keep the original key and are checked on read.
//
// # Concurrency Model
//
// A store wide mutex serializes every mutation so the check-then-write for
// unique usernames and external ids is atomic within the process.  Files are
// written with temp file + rename.  Running two processes on the same
// directory is not supported.
type FSUserStore struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSUserStore creates a store rooted at storagePath, creating it if needed
func NewFSUserStore(storagePath string) (*FSUserStore, error) {
	for _, dir := range []string{"users", "usernames", "externalids"} {
		if err := ensureDir(filepath.Join(storagePath, dir)); err != nil {
			return nil, secrets.StoreError("init", err)
		}
	}
	return &FSUserStore{StoragePath: storagePath}, nil
}

func (s *FSUserStore) getUserPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", fileKey(userId))
}

func (s *FSUserStore) usernameIndex(username string) indexRef {
	return indexRef{path: filepath.Join(s.StoragePath, "usernames", fileKey(username)), key: username}
}

func (s *FSUserStore) externalIDIndex(provider, externalID string) indexRef {
	return indexRef{
		path: filepath.Join(s.StoragePath, "externalids", fileKey(provider, externalID)),
		key:  joinKey(provider, externalID),
	}
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *secrets.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username != "" {
		_, found, err := readIndex(s.usernameIndex(user.Username))
		if err != nil {
			return secrets.StoreError("read username", err)
		}
		if found {
			return secrets.ErrDuplicateIdentifier
		}
	}
	for provider, extId := range user.ExternalIDs {
		_, found, err := readIndex(s.externalIDIndex(provider, extId))
		if err != nil {
			return secrets.StoreError("read external id", err)
		}
		if found {
			return secrets.ErrExternalIDTaken
		}
	}
	return s.insertLocked(user)
}

// insertLocked writes the user record first and the indexes after, so an
// index never points at a missing user.
func (s *FSUserStore) insertLocked(user *secrets.User) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if err := writeJSON(s.getUserPath(user.ID), user); err != nil {
		return secrets.StoreError("write user", err)
	}
	if user.Username != "" {
		if err := writeIndex(s.usernameIndex(user.Username), user.ID, now); err != nil {
			return secrets.StoreError("write username", err)
		}
	}
	for provider, extId := range user.ExternalIDs {
		if err := writeIndex(s.externalIDIndex(provider, extId), user.ID, now); err != nil {
			return secrets.StoreError("write external id", err)
		}
	}
	return nil
}

func (s *FSUserStore) GetUserById(ctx context.Context, userId string) (*secrets.User, error) {
	if userId == "" {
		return nil, secrets.ErrUserNotFound
	}
	var user secrets.User
	found, err := readJSON(s.getUserPath(userId), &user)
	if err != nil {
		return nil, secrets.StoreError("read user", err)
	}
	if !found {
		return nil, secrets.ErrUserNotFound
	}
	return &user, nil
}

func (s *FSUserStore) GetUserByUsername(ctx context.Context, username string) (*secrets.User, error) {
	if username == "" {
		return nil, secrets.ErrUserNotFound
	}
	return s.lookup(ctx, s.usernameIndex(username))
}

func (s *FSUserStore) lookup(ctx context.Context, ref indexRef) (*secrets.User, error) {
	idx, found, err := readIndex(ref)
	if err != nil {
		return nil, secrets.StoreError("read index", err)
	}
	if !found {
		return nil, secrets.ErrUserNotFound
	}
	return s.GetUserById(ctx, idx.UserID)
}

func (s *FSUserStore) FindOrCreateByExternalID(ctx context.Context, provider, externalID string) (*secrets.User, bool, error) {
	if provider == "" || externalID == "" {
		return nil, false, fmt.Errorf("%w: provider and external id required", secrets.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.lookup(ctx, s.externalIDIndex(provider, externalID))
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, secrets.ErrUserNotFound) {
		return nil, false, err
	}

	user = &secrets.User{
		ID:          secrets.NewUserID(),
		ExternalIDs: map[string]string{provider: externalID},
	}
	if err := s.insertLocked(user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *FSUserStore) LinkExternalID(ctx context.Context, userId, provider, externalID string) (*secrets.User, error) {
	if provider == "" || externalID == "" {
		return nil, fmt.Errorf("%w: provider and external id required", secrets.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.lookup(ctx, s.externalIDIndex(provider, externalID))
	switch {
	case err == nil && owner.ID == userId:
		return owner, nil
	case err == nil:
		return nil, secrets.ErrExternalIDTaken
	case !errors.Is(err, secrets.ErrUserNotFound):
		return nil, err
	}

	user, err := s.GetUserById(ctx, userId)
	if err != nil {
		return nil, err
	}
	if existing := user.ExternalID(provider); existing != "" {
		return nil, fmt.Errorf("%w: user already linked to another %s account", secrets.ErrInvalidInput, provider)
	}
	if user.ExternalIDs == nil {
		user.ExternalIDs = map[string]string{}
	}
	user.ExternalIDs[provider] = externalID
	user.UpdatedAt = time.Now().UTC()

	if err := writeJSON(s.getUserPath(user.ID), user); err != nil {
		return nil, secrets.StoreError("write user", err)
	}
	if err := writeIndex(s.externalIDIndex(provider, externalID), user.ID, user.UpdatedAt); err != nil {
		return nil, secrets.StoreError("write external id", err)
	}
	return user, nil
}
