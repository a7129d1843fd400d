//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore secrets.UserStore.
// It is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: user accounts, keyed by user ID
//   - Username: username reservations, keyed by username
//   - ExternalID: provider profile ids, keyed by "provider:id"
//
// Every mutation runs in a transaction so the reservation entities and the
// user they point at are written together.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	userStore := gae.NewUserStore(client, "")  // default namespace
package gae
