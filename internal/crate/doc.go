// Package crate defines the domain types shared by the registry and proxy
// surfaces: validated original names, the normalized lookup key derived from
// them, strictly parsed semantic versions, and the publish metadata block.
// All validation happens here so that handlers can reject malformed input
// before any side effect occurs.
package crate
