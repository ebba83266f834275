// Package git provides the version-control gateway for session workspaces.
//
// The package is organized into focused modules:
//   - service.go: Gateway struct, constructor, timeout handling
//   - remote.go: clone, fetch, pull, push, remote queries
//   - branch.go: branch creation, checkout, ancestry, identity
//   - merge.go: merge with structured conflict reporting
//   - status.go: working-tree status, diff stat, log
//   - stash.go: stash and stash restoration
//
// The gateway covers only the fixed set of git operations the session
// workflow needs; it is not a general version-control client. Failures
// carry git's own message unchanged so callers can decide cleanup or retry.
package git
