package storage

import (
	"path/filepath"
	"testing"
)

func exercise(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := db.Put([]byte("b-2"), []byte("two")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.WriteBatch(map[string][]byte{"b-1": []byte("one"), "a-0": []byte("zero"), "b-3": []byte("three")}); err != nil {
		t.Fatalf("batch: %v", err)
	}
	value, err := db.Get([]byte("a-0"))
	if err != nil || string(value) != "zero" {
		t.Fatalf("expected zero, got %q (%v)", value, err)
	}

	var keys []string
	if err := db.Iterate([]byte("b-"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 3 || keys[0] != "b-1" || keys[2] != "b-3" {
		t.Fatalf("expected ordered b- keys, got %v", keys)
	}

	count := 0
	_ = db.Iterate(nil, func(_, _ []byte) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("expected iteration to stop after 2, got %d", count)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exercise(t, db)

	value := []byte("v")
	_ = db.Put([]byte("k"), value)
	value[0] = 'x'
	got, _ := db.Get([]byte("k"))
	if string(got) != "v" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}

func TestLevelDB(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "status")
	db, err := NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exercise(t, db)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ro, err := OpenLevelDBReadOnly(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ro.Close()
	value, err := ro.Get([]byte("b-3"))
	if err != nil || string(value) != "three" {
		t.Fatalf("expected persisted value, got %q (%v)", value, err)
	}
	if _, err := OpenLevelDBReadOnly(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error opening missing database")
	}
}
