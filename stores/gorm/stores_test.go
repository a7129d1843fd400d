//go:build !wasm
// +build !wasm

package gorm_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panyam/secrets"
	gormstore "github.com/panyam/secrets/stores/gorm"
	"github.com/panyam/secrets/stores/storetest"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := filepath.Join(t.TempDir(), "secrets.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := gormstore.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func TestGORMUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) secrets.UserStore {
		return gormstore.NewUserStore(openTestDB(t))
	})
}

func TestGORMNullUsernames(t *testing.T) {
	db := openTestDB(t)
	store := gormstore.NewUserStore(db)
	ctx := context.Background()

	// Several oauth-only users must not collide on the unique username index
	for _, id := range []string{"g-1", "g-2", "g-3"} {
		if _, _, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, id); err != nil {
			t.Fatalf("FindOrCreate(%s) failed: %v", id, err)
		}
	}

	var count int64
	if err := db.Model(&gormstore.UserModel{}).Where("username IS NULL").Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 users without username, got %d", count)
	}
}

func TestGORMOnePerProvider(t *testing.T) {
	store := gormstore.NewUserStore(openTestDB(t))
	ctx := context.Background()

	user, _, err := store.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "g-first")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	_, err = store.LinkExternalID(ctx, user.ID, secrets.ProviderGoogle, "g-second")
	if err == nil {
		t.Fatal("Expected linking a second google id to fail")
	}

	got, err := store.GetUserById(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if got.ExternalID(secrets.ProviderGoogle) != "g-first" {
		t.Errorf("Expected original google id to remain, got %v", got.ExternalIDs)
	}
}
