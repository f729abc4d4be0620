package cluster

import "testing"

func TestUnionFind_BasicUnion(t *testing.T) {
	uf := newUnionFind(5)
	uf.union(0, 1)
	uf.union(1, 2)

	if uf.find(0) != uf.find(2) {
		t.Fatalf("expected 0 and 2 to be in the same set")
	}
	if uf.find(3) == uf.find(0) {
		t.Fatalf("expected 3 to remain its own set")
	}
}

func TestUnionFind_PathCompression(t *testing.T) {
	uf := newUnionFind(10)
	for i := 1; i < 10; i++ {
		uf.union(0, i)
	}
	root := uf.find(0)
	for i := 0; i < 10; i++ {
		if uf.find(i) != root {
			t.Fatalf("expected all nodes to share root %d, got %d for %d", root, uf.find(i), i)
		}
	}
}
