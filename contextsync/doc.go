// Package contextsync contains concrete ContextStore implementations. The
// store interface and entry/snapshot types reside in the core package. Import
// github.com/meshgate/meshgate/core and depend on core.ContextStore in your
// code; select an implementation (like the in-memory store below) at wiring
// time.
//
// Rationale: keeps domain contracts centralized while allowing pluggable
// backends (durable stores, replicated caches, etc.) to be added without
// introducing dependency cycles.
package contextsync
