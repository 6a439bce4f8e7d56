// Package storage provides key/value persistence backends for the serialized
// ledger: an in-memory value, a JSON file and a SQLite table.
package storage

import "errors"

// DefaultKey is the key the ledger is saved under.
const DefaultKey = "transactions"

// ErrNotFound is returned by Load when nothing was saved under the key.
var ErrNotFound = errors.New("storage: key not found")
