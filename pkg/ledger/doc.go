// Package ledger provides type-safe Go definitions and Redis schema patterns
// for the Quill system-of-record. The ledger is the shared state store where
// all Quill components (pipeline engine, daemon, CLI) track content items
// through their lifecycle: every item, publish outcome, and article version
// is recorded here and never deleted, forming the permanent audit trail.
//
// All Redis keys and channels are namespaced by instance name so multiple
// Quill instances can safely coexist on a single Redis server.
package ledger
