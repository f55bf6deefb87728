package checkpoint

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitBackend implements Backend over a git repository via go-git.
type GitBackend struct {
	path string
	repo *git.Repository
}

// OpenGit opens the git repository at path, initializing one if none
// exists.
func OpenGit(path string) (*GitBackend, error) {
	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening git repository: %w", err)
	}

	return &GitBackend{
		path: path,
		repo: repo,
	}, nil
}

func (b *GitBackend) Commit(message string) (string, error) {
	worktree, err := b.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("getting status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNoChanges
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "chisel",
			Email: "chisel@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}

	return hash.String(), nil
}

func (b *GitBackend) Checkout(ref string) error {
	worktree, err := b.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	err = worktree.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(ref),
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("checking out %s: %w", ref, err)
	}
	return nil
}

func (b *GitBackend) CurrentRef() (string, error) {
	head, err := b.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", nil // empty repository, nothing committed yet
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func (b *GitBackend) CurrentBranch() (string, error) {
	head, err := b.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", nil
		}
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached")
	}
	return head.Name().Short(), nil
}

func (b *GitBackend) IsClean() (bool, error) {
	worktree, err := b.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("getting status: %w", err)
	}
	return status.IsClean(), nil
}
