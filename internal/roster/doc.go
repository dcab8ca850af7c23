// Package roster owns per-user member rosters: the in-memory Member Store, the
// identity resolver that decides whether a message is proxied, the roster
// mutations, and the snapshot format persisted by Persister implementations.
//
// All access goes through Store, which serializes reads, mutations, and the
// snapshot write that follows each mutation.
package roster
