// Package proxy serves crates.io artifacts through a local write-once cache.
// The first download of a (name, version) fills the cache from the upstream
// registry; every later download is answered from disk without touching the
// network. Upstream failures of any kind surface to the client as a plain 404
// so that cargo falls back the same way it would for a missing crate.
package proxy
