package registry

import (
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := New(Options{BaseDir: dir, NodeID: 1, BufferPoolCapacity: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestValidateKeyAccepts(t *testing.T) {
	for _, key := range []string{"tenant-a", "tenant_1", "ABC123", "a"} {
		if err := ValidateKey(key); err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", key, err)
		}
	}
}

func TestValidateKeyRejects(t *testing.T) {
	cases := []string{
		"",
		"../escape",
		"tenant/../../etc",
		"has space",
		"has.dot",
		string(make([]byte, MaxKeyLength+1)),
	}
	for _, key := range cases {
		if err := ValidateKey(key); err == nil {
			t.Errorf("ValidateKey(%q) = nil, want error", key)
		}
	}
}

func TestGetCreatesOnFirstAccess(t *testing.T) {
	r := newTestRegistry(t)

	d, err := r.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d == nil {
		t.Fatal("Get returned nil database")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestGetReturnsSameHandleForSameKey(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := r.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("Get returned distinct handles for the same key")
	}
}

func TestGetRejectsInvalidKeyBeforeFilesystemAccess(t *testing.T) {
	dir := t.TempDir()
	r, err := New(Options{BaseDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if _, err := r.Get("../escape"); err == nil {
		t.Fatal("expected validation error")
	}
	if _, statErr := filepath.Glob(filepath.Join(dir, "*.db")); statErr != nil {
		t.Fatalf("glob: %v", statErr)
	}
	entries, _ := filepath.Glob(filepath.Join(dir, "..", "*.db"))
	if len(entries) != 0 {
		t.Error("invalid key reached the filesystem")
	}
}

func TestMultipleKeysShareOnePool(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Get("tenant-a")
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	b, err := r.Get("tenant-b")
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if a.Pool() != b.Pool() {
		t.Error("databases opened from the same registry do not share a buffer pool")
	}
	if a.Pool() != r.Pool() {
		t.Error("database pool does not match registry pool")
	}
}

func TestKeysReflectsOpenDatabases(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Get("tenant-a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get("tenant-b"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	keys := r.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}

func TestCloseClearsRegistry(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Get("tenant-a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", r.Len())
	}
}

func TestGetReopensExistingFileOnNewRegistry(t *testing.T) {
	dir := t.TempDir()

	r1, err := New(Options{BaseDir: dir, BufferPoolCapacity: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r1.Get("tenant-a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r2, err := New(Options{BaseDir: dir, BufferPoolCapacity: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r2.Close()

	if _, err := r2.Get("tenant-a"); err != nil {
		t.Fatalf("Get (reopen): %v", err)
	}
}
