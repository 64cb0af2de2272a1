// Package catalog provides the persistent identity catalog: modules,
// permissions, roles, users, and per-user module restrictions.
//
// Create-if-absent operations (EnsureModule, EnsurePermission, EnsureRole,
// EnsureUser) never overwrite existing rows, so replayed registration
// messages are harmless. Permission parents form a tree; re-parenting is
// validated so the tree stays acyclic, and a permission with children cannot
// be deleted.
package catalog
