package driver

import (
	"path/filepath"
	"testing"
)

func TestLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolloutd.lock")
	l := NewLock(path)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestLock_ContentionFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolloutd.lock")

	first := NewLock(path)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	second := NewLock(path)
	if err := second.Acquire(); err == nil {
		t.Fatal("second Acquire on a held lock should fail")
	}
}

func TestLock_ReleaseWithoutAcquireIsSafe(t *testing.T) {
	l := NewLock(filepath.Join(t.TempDir(), "unused.lock"))
	if err := l.Release(); err != nil {
		t.Fatalf("Release without Acquire: %v", err)
	}
}
