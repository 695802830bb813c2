// Package framework fetches the reference device framework whose device
// sources the contracts are extracted from.
package framework

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultURL is the upstream framework repository.
const DefaultURL = "https://github.com/SoftengPoliTo/ascot-firmware"

// ErrGit wraps every failure of the git executable.
var ErrGit = errors.New("framework: git failed")

// DevicesDir returns the devices directory inside a framework checkout.
func DevicesDir(repo string) string {
	return filepath.Join(repo, "ascot-axum", "src", "devices")
}

// CacheDir returns a stable checkout location under the system temp dir,
// derived from the repository URL.
func CacheDir(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(os.TempDir(), "ccertifier-framework-"+hex.EncodeToString(sum[:8]))
}

// Fetch makes dest a shallow checkout of url's default branch: a fresh clone
// when dest holds no repository, otherwise a shallow fetch that dest is
// reset to. The checkout is a cache, so local changes are discarded.
func Fetch(ctx context.Context, url, dest string) error {
	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		if err := git(ctx, "-C", dest, "fetch", "--depth", "1", "origin"); err != nil {
			return err
		}
		return git(ctx, "-C", dest, "reset", "--hard", "-q", "FETCH_HEAD")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("framework: create %s: %w", filepath.Dir(dest), err)
	}
	return git(ctx, "clone", "--depth", "1", url, dest)
}

// Revision returns the commit checked out in dir.
func Revision(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("%w: rev-parse: %w", ErrGit, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s: %w\n%s", ErrGit, args[0], err, out)
	}
	return nil
}
