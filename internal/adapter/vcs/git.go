package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCloner implements port.Cloner using the git CLI.
type GitCloner struct {
	// Depth limits the clone history. Zero clones everything.
	Depth int
}

// NewGitCloner creates a cloner that makes shallow clones.
func NewGitCloner() *GitCloner {
	return &GitCloner{Depth: 1}
}

// Clone clones a repository into dest.
func (g *GitCloner) Clone(ctx context.Context, url string, dest string) error {
	args := []string{"clone", "--quiet"}
	if g.Depth > 0 {
		args = append(args, fmt.Sprintf("--depth=%d", g.Depth))
	}
	args = append(args, url, dest)

	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git clone %s: %w: %s", url, err, msg)
		}
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// ListFiles returns all tracked file paths of the working tree.
func (g *GitCloner) ListFiles(ctx context.Context, repoPath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "ls-files", "-z")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var result []string
	for _, f := range strings.Split(string(output), "\x00") {
		if f != "" {
			result = append(result, f)
		}
	}
	return result, nil
}
