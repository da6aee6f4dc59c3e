package project

import (
	"os"
	"testing"
)

func fakeStat(rootMarkers map[string]bool) func(string) (os.FileInfo, error) {
	return func(path string) (os.FileInfo, error) {
		if rootMarkers[path] {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}
}

func TestResolveFindsVCSRoot(t *testing.T) {
	r := NewRegistry()
	r.statFunc = fakeStat(map[string]bool{"/home/user/project/.git": true})

	p, ok := r.Resolve("/home/user/project/src/pkg")
	if !ok {
		t.Fatal("expected to resolve a VCS root")
	}
	if p.Root != "/home/user/project" {
		t.Fatalf("root = %q, want /home/user/project", p.Root)
	}
}

func TestResolveDedupesByRoot(t *testing.T) {
	r := NewRegistry()
	r.statFunc = fakeStat(map[string]bool{"/home/user/project/.git": true})

	a, _ := r.Resolve("/home/user/project/src/a")
	b, _ := r.Resolve("/home/user/project/src/b")
	if a.ID != b.ID {
		t.Fatalf("two working dirs under the same root produced different projects: %q vs %q", a.ID, b.ID)
	}
}

func TestResolveNoVCSRoot(t *testing.T) {
	r := NewRegistry()
	r.statFunc = fakeStat(map[string]bool{})

	_, ok := r.Resolve("/tmp/scratch")
	if ok {
		t.Fatal("expected no VCS root to be found")
	}
}

func TestResolveEmptyWorkingDir(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("")
	if ok {
		t.Fatal("empty working dir should never resolve")
	}
}
