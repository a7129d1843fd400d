//go:build !wasm
// +build !wasm

package gae_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"

	"github.com/panyam/secrets"
	"github.com/panyam/secrets/stores/gae"
	"github.com/panyam/secrets/stores/storetest"
)

// Runs against the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	export DATASTORE_EMULATOR_HOST=localhost:8081
func newEmulatorClient(t *testing.T) *datastore.Client {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "secrets-test")
	if err != nil {
		t.Fatalf("Failed to create datastore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGAEUserStore(t *testing.T) {
	client := newEmulatorClient(t)
	storetest.RunUserStoreTests(t, func(t *testing.T) secrets.UserStore {
		// A namespace per case keeps them isolated on a shared emulator
		return gae.NewUserStore(client, "t-"+secrets.NewUserID())
	})
}

func TestGAENamespacesAreIsolated(t *testing.T) {
	client := newEmulatorClient(t)
	ctx := context.Background()
	tenantA := gae.NewUserStore(client, "a-"+secrets.NewUserID())
	tenantB := gae.NewUserStore(client, "b-"+secrets.NewUserID())

	userA, _, err := tenantA.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "shared")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	userB, created, err := tenantB.FindOrCreateByExternalID(ctx, secrets.ProviderGoogle, "shared")
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if !created || userA.ID == userB.ID {
		t.Error("Expected each namespace to have its own user")
	}
}
