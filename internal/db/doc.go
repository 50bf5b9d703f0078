// Package db defines the persistence contract consumed by the registry core
// and its SQLite implementation. The database is the sole arbiter of
// version-uniqueness (UNIQUE on crate_id+version) and owner-set truth; the
// handlers never bypass the Provider interface, so tests can substitute a
// throwaway SQLite file without touching production wiring.
package db
