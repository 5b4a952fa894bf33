// Package store provides persistence implementations for the engine.
// The Store interface is defined in the parent flowrun package
// (../store_interface.go) to avoid import cycles between the engine
// and store packages.
//
// This package contains concrete implementations:
//   - DynamoDBStore: production AWS DynamoDB backend (single-table)
//   - MemoryStore: in-memory backend for testing and local development
package store

import "errors"

// ErrNotFound is wrapped by all lookups that miss
var ErrNotFound = errors.New("record not found")
