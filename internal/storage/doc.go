// Package storage implements the on-disk artifact store shared by the local
// registry and the crates.io proxy cache. Paths are derived from
// (name, version) only, never from content; writes go through a temp file +
// rename so that a reader observes either no file or a complete one. The
// SHA-256 checksum is computed over the bytes at write time and returned to
// the caller, which persists it alongside the version row.
package storage
