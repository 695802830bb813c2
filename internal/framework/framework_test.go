package framework

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// upstream creates a repository laid out like the framework.
func upstream(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-q")
	devices := DevicesDir(dir)
	if err := os.MkdirAll(devices, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(devices, "light.rs"), []byte("enum Actions { TurnOn }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", ".")
	run(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func TestDevicesDir(t *testing.T) {
	got := DevicesDir("/tmp/fw")
	want := filepath.Join("/tmp/fw", "ascot-axum", "src", "devices")
	if got != want {
		t.Errorf("DevicesDir = %q, want %q", got, want)
	}
}

func TestCacheDirIsStable(t *testing.T) {
	a, b := CacheDir(DefaultURL), CacheDir(DefaultURL)
	if a != b {
		t.Errorf("CacheDir not stable: %q vs %q", a, b)
	}
	if CacheDir("https://example.com/other") == a {
		t.Error("different URLs should map to different directories")
	}
	if !strings.HasPrefix(a, os.TempDir()) {
		t.Errorf("CacheDir %q not under temp dir", a)
	}
}

func TestFetchClonesThenUpdates(t *testing.T) {
	requireGit(t)
	src := upstream(t)
	dest := filepath.Join(t.TempDir(), "checkout")
	ctx := context.Background()

	if err := Fetch(ctx, "file://"+src, dest); err != nil {
		t.Fatalf("Fetch (clone): %v", err)
	}
	if _, err := os.Stat(filepath.Join(DevicesDir(dest), "light.rs")); err != nil {
		t.Fatalf("cloned devices missing: %v", err)
	}
	first, err := Revision(ctx, dest)
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}

	if err := os.WriteFile(filepath.Join(DevicesDir(src), "fridge.rs"), []byte("enum Actions { Cool }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, src, "add", ".")
	run(t, src, "commit", "-q", "-m", "fridge")

	if err := Fetch(ctx, "file://"+src, dest); err != nil {
		t.Fatalf("Fetch (update): %v", err)
	}
	if _, err := os.Stat(filepath.Join(DevicesDir(dest), "fridge.rs")); err != nil {
		t.Fatalf("updated device missing: %v", err)
	}
	second, err := Revision(ctx, dest)
	if err != nil {
		t.Fatalf("Revision: %v", err)
	}
	if first == second {
		t.Error("revision did not advance after update")
	}
}

func TestFetchBadURL(t *testing.T) {
	requireGit(t)
	dest := filepath.Join(t.TempDir(), "checkout")
	err := Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "nope"), dest)
	if !errors.Is(err, ErrGit) {
		t.Fatalf("Fetch = %v, want ErrGit", err)
	}
}
