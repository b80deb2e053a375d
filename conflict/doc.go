// Package conflict implements the resolution engine for multi-agent
// disagreements: voting strategies (majority, weighted, expert authority,
// evidence based), an iterative consensus builder, automated compromise for
// numeric positions, and escalation to a higher authority tier.
//
// The Engine gates voting strategies behind a quorum check, refuses to
// auto-resolve critical or data-corruption conflicts, and bounds every
// resolution by an optional wall-clock budget with a deterministic fallback
// decision when the budget expires.
package conflict
