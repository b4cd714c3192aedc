package model

import (
	"reflect"
	"testing"
)

func TestPath_ChildAndDepth(t *testing.T) {
	tests := []struct {
		path  Path
		want  string
		depth int
	}{
		{RootPath, "root", 0},
		{RootPath.Child("a"), "root.a", 1},
		{RootPath.Child("a").Index(2), "root.a.2", 2},
		{RootPath.Child("a.b"), `root.a\.b`, 1},
		{RootPath.Child(`c\d`).Child("e"), `root.c\\d.e`, 2},
	}
	for _, tt := range tests {
		if string(tt.path) != tt.want {
			t.Errorf("path = %q, want %q", tt.path, tt.want)
		}
		if got := tt.path.Depth(); got != tt.depth {
			t.Errorf("%q.Depth() = %d, want %d", tt.path, got, tt.depth)
		}
	}
}

func TestPath_Segments(t *testing.T) {
	p := RootPath.Child("x.y").Child(`z\`).Index(0)
	want := []string{"root", "x.y", `z\`, "0"}
	if got := p.Segments(); !reflect.DeepEqual(got, want) {
		t.Errorf("Segments() = %q, want %q", got, want)
	}
	if Path("").Segments() != nil {
		t.Error("empty path should have no segments")
	}
}

func TestPath_Parent(t *testing.T) {
	child := RootPath.Child("a.b").Child("c")
	parent, ok := child.Parent()
	if !ok || parent != RootPath.Child("a.b") {
		t.Fatalf("Parent() = %q, %v", parent, ok)
	}
	grand, ok := parent.Parent()
	if !ok || grand != RootPath {
		t.Fatalf("Parent() of escaped segment = %q, %v", grand, ok)
	}
	if _, ok := RootPath.Parent(); ok {
		t.Error("root should have no parent")
	}
	trailing := RootPath.Child(`k\`).Child("v")
	if p, _ := trailing.Parent(); p != RootPath.Child(`k\`) {
		t.Errorf("Parent() with escaped backslash = %q", p)
	}
}

func TestPath_DistinctKeysStayDistinct(t *testing.T) {
	a := RootPath.Child("a.b")
	b := RootPath.Child("a").Child("b")
	if a == b {
		t.Fatalf("dotted key collides with nested path: %q", a)
	}
	if a.Last() != "a.b" || b.Last() != "b" {
		t.Errorf("Last() = %q / %q", a.Last(), b.Last())
	}
}
