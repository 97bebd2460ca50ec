package port

import "context"

// Cloner fetches a remote repository into a local directory.
type Cloner interface {
	// Clone clones a repository from url into dest. dest must not exist.
	Clone(ctx context.Context, url string, dest string) error

	// ListFiles returns the tracked file paths of a checkout, relative to its root.
	ListFiles(ctx context.Context, repoPath string) ([]string, error)
}
