// Package checkpoint persists recoverable snapshots of the working
// tree and supports rolling back to any prior one.
package checkpoint

import (
	"errors"
)

// ErrNoChanges is returned by a Backend when a commit is requested
// against an unchanged tree. The store treats it as a no-op success.
var ErrNoChanges = errors.New("no changes to commit")

// Backend is the version-control substrate under the store. Refs are
// opaque handles; callers never interpret them.
type Backend interface {
	// Commit snapshots the current tree and returns its ref.
	Commit(message string) (string, error)

	// Checkout restores the working tree to ref. Must be idempotent.
	Checkout(ref string) error

	// CurrentRef returns the ref the tree currently points at.
	CurrentRef() (string, error)

	// CurrentBranch names the active line of history.
	CurrentBranch() (string, error)

	// IsClean reports whether the tree has no modifications relative
	// to the last commit.
	IsClean() (bool, error)
}
