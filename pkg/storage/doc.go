// Package storage provides storage implementations for optimization
// job persistence.
//
// This package includes:
//   - GormStorage: a GORM-based implementation supporting various databases
//
// The Storage interface is defined in pkg/core and must be implemented
// by any custom storage backend.
//
// Most users should import the root package github.com/mkrausse/routeopt
// which provides NewGormStorage() to create storage instances.
package storage
