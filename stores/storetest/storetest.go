// Package storetest holds the behaviour every secrets.UserStore must have.
// Backends call RunUserStoreTests from their own tests.
package storetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/panyam/secrets"
)

// NewStoreFunc returns an empty store for one test
type NewStoreFunc func(t *testing.T) secrets.UserStore

// RunUserStoreTests runs the shared UserStore cases against newStore
func RunUserStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateUsername", func(t *testing.T) { testDuplicateUsername(t, newStore(t)) })
	t.Run("LongKeys", func(t *testing.T) { testLongKeys(t, newStore(t)) })
	t.Run("RejectsInvalidUser", func(t *testing.T) { testRejectsInvalidUser(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("FindOrCreate", func(t *testing.T) { testFindOrCreate(t, newStore(t)) })
	t.Run("FindOrCreateConcurrent", func(t *testing.T) { testFindOrCreateConcurrent(t, newStore(t)) })
	t.Run("CreateUserConcurrent", func(t *testing.T) { testCreateUserConcurrent(t, newStore(t)) })
	t.Run("LinkExternalID", func(t *testing.T) { testLinkExternalID(t, newStore(t)) })
}

func localUser(username string) *secrets.User {
	hash, _ := secrets.HashPassword("p", 4)
	return &secrets.User{ID: secrets.NewUserID(), Username: username, PasswordHash: hash}
}

func testCreateAndGet(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	user := localUser("a@x.com")
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	byId, err := store.GetUserById(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if byId.Username != "a@x.com" || byId.PasswordHash != user.PasswordHash {
		t.Errorf("Unexpected user: %+v", byId)
	}
	if byId.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}

	byName, err := store.GetUserByUsername(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("Expected id %s, got %s", user.ID, byName.ID)
	}
}

func testDuplicateUsername(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	first := localUser("a@x.com")
	if err := store.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	err := store.CreateUser(ctx, localUser("a@x.com"))
	if !errors.Is(err, secrets.ErrDuplicateIdentifier) {
		t.Fatalf("Expected ErrDuplicateIdentifier, got %v", err)
	}

	// The original is untouched
	got, err := store.GetUserByUsername(ctx, "a@x.com")
	if err != nil || got.ID != first.ID {
		t.Errorf("Expected original user to remain, got %+v, %v", got, err)
	}
}

// MaxUsernameLength of the default signup policy
const maxUsernameLength = 254

func testLongKeys(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	username := strings.Repeat("a", maxUsernameLength-len("@x.com")) + "@x.com"
	user := localUser(username)
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser with a %d char username failed: %v", len(username), err)
	}
	got, err := store.GetUserByUsername(ctx, username)
	if err != nil || got.ID != user.ID {
		t.Errorf("GetUserByUsername = %+v, %v", got, err)
	}
	if err := store.CreateUser(ctx, localUser(username)); !errors.Is(err, secrets.ErrDuplicateIdentifier) {
		t.Errorf("Expected ErrDuplicateIdentifier, got %v", err)
	}

	// A near miss is a different user, not a lookup failure
	if _, err := store.GetUserByUsername(ctx, username[1:]); !errors.Is(err, secrets.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	extId := strings.Repeat("9", 150)
	owner, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderFacebook, extId)
	if err != nil || !created {
		t.Fatalf("FindOrCreate with a long id = %v, %v", created, err)
	}
	again, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderFacebook, extId)
	if err != nil || created || again.ID != owner.ID {
		t.Errorf("Expected existing user %s, got %+v created=%v err=%v", owner.ID, again, created, err)
	}
}

func testRejectsInvalidUser(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	err := store.CreateUser(ctx, &secrets.User{ID: secrets.NewUserID(), Username: "nopass"})
	if !errors.Is(err, secrets.ErrInvalidUser) {
		t.Errorf("Expected ErrInvalidUser, got %v", err)
	}
}

func testNotFound(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	if _, err := store.GetUserById(ctx, "missing"); !errors.Is(err, secrets.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound by id, got %v", err)
	}
	if _, err := store.GetUserByUsername(ctx, "missing@x.com"); !errors.Is(err, secrets.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound by username, got %v", err)
	}
}

func testFindOrCreate(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	user, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "g-1")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if !created {
		t.Error("Expected first call to create")
	}
	if user.ExternalID(secrets.ProviderGoogle) != "g-1" {
		t.Errorf("Expected google id g-1, got %v", user.ExternalIDs)
	}
	if user.Username != "" || user.HasPassword() {
		t.Errorf("OAuth user should have no local credentials: %+v", user)
	}

	again, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "g-1")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if created || again.ID != user.ID {
		t.Errorf("Expected same user without creation, got %s created=%v", again.ID, created)
	}

	// Same id under another provider is a different account
	other, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderFacebook, "g-1")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if !created || other.ID == user.ID {
		t.Error("Expected a separate user for another provider")
	}

	if _, err := store.GetUserById(ctx, user.ID); err != nil {
		t.Errorf("Created user should be readable: %v", err)
	}
}

func testFindOrCreateConcurrent(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	const workers = 8
	ids := make([]string, workers)
	creates := make([]bool, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderFacebook, "fb-race")
			errs[i] = err
			creates[i] = created
			if user != nil {
				ids[i] = user.ID
			}
		}(i)
	}
	wg.Wait()

	numCreated := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got user %s, want %s", i, ids[i], ids[0])
		}
		if creates[i] {
			numCreated++
		}
	}
	if numCreated != 1 {
		t.Errorf("Expected exactly one creation, got %d", numCreated)
	}
}

func testCreateUserConcurrent(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreateUser(ctx, localUser("race@x.com"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, secrets.ErrDuplicateIdentifier):
		default:
			t.Errorf("worker %d: unexpected error %v", i, err)
		}
	}
	if ok != 1 {
		t.Errorf("Expected exactly one registration to win, got %d", ok)
	}
}

func testLinkExternalID(t *testing.T, store secrets.UserStore) {
	ctx := context.Background()
	local := localUser("a@x.com")
	if err := store.CreateUser(ctx, local); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	linked, err := store.LinkExternalID(ctx, local.ID, secrets.ProviderGoogle, "g-link")
	if err != nil {
		t.Fatalf("LinkExternalID failed: %v", err)
	}
	if linked.ID != local.ID || linked.ExternalID(secrets.ProviderGoogle) != "g-link" {
		t.Errorf("Unexpected linked user: %+v", linked)
	}

	// The provider id now finds the local user
	found, created, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "g-link")
	if err != nil || created || found.ID != local.ID {
		t.Errorf("Expected linked user from FindOrCreate, got %+v created=%v err=%v", found, created, err)
	}
	if found.Username != "a@x.com" || !found.HasPassword() {
		t.Error("Linking must keep local credentials")
	}

	// Linking again to the same user is a no-op
	if _, err := store.LinkExternalID(ctx, local.ID, secrets.ProviderGoogle, "g-link"); err != nil {
		t.Errorf("Relinking same id failed: %v", err)
	}

	// Another user cannot take it
	other := localUser("b@x.com")
	if err := store.CreateUser(ctx, other); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := store.LinkExternalID(ctx, other.ID, secrets.ProviderGoogle, "g-link"); !errors.Is(err, secrets.ErrExternalIDTaken) {
		t.Errorf("Expected ErrExternalIDTaken, got %v", err)
	}

	if _, err := store.LinkExternalID(ctx, "missing", secrets.ProviderFacebook, "fb-x"); !errors.Is(err, secrets.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound for missing user, got %v", err)
	}
}
