// Package server wires the HTTP surface: route registration, token
// authentication and per-request IDs. It depends on the handler packages only
// through small interfaces so the app can be assembled with fakes in tests.
package server
