// Package store is the local mirror: an embedded SQLite database holding the
// latest full source snapshot, the cloud ids already bound to it, and the
// deletion staging tables.
//
// The store has no business logic. Every write runs in a transaction; a
// failing statement rolls the whole write back and the error is returned to
// the caller, so a partial snapshot is never committed.
//
// # Tables
//
//   - users, user_depts: the source roster and its memberships
//   - depts: source departments with their cloud ids once known
//   - orgs: the flat organisation variant some registries export
//   - tobe_deleted: users held in the grace period
//   - deleted: permanent log of users removed from the cloud
//
// users and depts carry ctime/mtime; triggers touch mtime on every update.
package store
