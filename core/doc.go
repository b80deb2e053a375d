// Package core provides the foundational domain types and interfaces used by
// MeshGate. It defines the core abstractions for:
//
//   - Conversations (stateful coordination containers with message history)
//   - Messages (immutable communication records with typed payloads)
//   - Conflicts, votes and positions (inputs to resolution strategies)
//   - Shared context entries, snapshots and checksums
//   - Pluggable stores for conversation and context state, plus a bounded
//     participant connection pool
//
// The package intentionally keeps implementation concerns (persistence,
// routing, resolution algorithms) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
