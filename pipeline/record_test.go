package pipeline

import "testing"

func TestRecordInsertionOrder(t *testing.T) {
	r := NewRecord()
	r.Set("url", "http://example.com")
	r.Set("filename", "data.csv")
	r.Set("url", "http://example.com/2") // update must not reorder

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "url" || keys[1] != "filename" {
		t.Fatalf("unexpected key order: %v", keys)
	}
	if got := r.String("url"); got != "http://example.com/2" {
		t.Fatalf("update lost: %q", got)
	}
}

func TestRecordCloneIsPrivate(t *testing.T) {
	orig := NewRecord()
	orig.Set("url", "http://example.com")

	clone := orig.Clone()
	clone.Set("url", "mutated")
	clone.Set("extra", 1)
	clone.Delete("url")

	if got := orig.String("url"); got != "http://example.com" {
		t.Fatalf("mutating the clone changed the original: %q", got)
	}
	if orig.Has("extra") {
		t.Fatal("clone field leaked into original")
	}
}

func TestRecordDelete(t *testing.T) {
	r := NewRecord()
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("c", 3)
	r.Delete("b")

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("unexpected keys after delete: %v", keys)
	}
	if r.Has("b") {
		t.Fatal("deleted field still present")
	}
}

func TestRecordStringCoercion(t *testing.T) {
	r := NewRecord()
	r.Set("n", 42)
	if got := r.String("n"); got != "42" {
		t.Fatalf("expected coerced string, got %q", got)
	}
	if got := r.String("missing"); got != "" {
		t.Fatalf("missing field should stringify empty, got %q", got)
	}
}
