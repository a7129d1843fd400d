//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based secrets.UserStore.
// It supports any database that GORM supports (SQLite, PostgreSQL, MySQL, etc.);
// the secrets binary ships with the pure Go SQLite driver.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: one row per account, unique nullable username
//   - external_ids: (provider, external_id) primary key pointing at users.id
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("secrets.db"), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	userStore := gormstore.NewUserStore(db)
package gorm
