// Package registry implements the crate registry web API consumed by cargo:
// publish, download, search, yank and owner management. Handlers translate
// protocol payloads into persistence and storage calls; failures on cargo
// surfaces are reported as an errors array in the body rather than an HTTP
// status, because that is what the client actually reads.
package registry
