// Package repository provides the data access layer for hostbot.
// This file contains the types returned when a backend is opened.
package repository

import "context"

// Repositories holds all repository instances.
type Repositories struct {
	User      UserRepository
	Account   AccountRepository
	ActionLog ActionLogRepository
}

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.DatabaseChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies the embedded schema migrations of a backend.
type Migrator interface {
	Migrate(ctx context.Context) error
	Version(ctx context.Context) (int, error)
}

// Database is an opened backend connection.
type Database interface {
	DatabaseHealth
	Migrator
}

// Store bundles the repositories with the connection that serves them.
type Store struct {
	Repos    *Repositories
	Database Database
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.Database.Close()
}
