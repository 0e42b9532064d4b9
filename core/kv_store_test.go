package core

import "testing"

func TestInMemoryStoreSetGetDelete(t *testing.T) {
	s := NewInMemoryStore()

	ok, err := s.Exists([]byte("k"))
	if err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := s.Get([]byte("k"))
	if err != nil || string(v) != "v1" {
		t.Fatalf("expected v1, got %q err=%v", v, err)
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, err = s.Exists([]byte("k"))
	if err != nil || ok {
		t.Fatalf("expected deleted key to be absent")
	}
}

func TestInMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.Set([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _ := s.Get([]byte("k"))
	v[0] = 'X'
	v2, _ := s.Get([]byte("k"))
	if string(v2) != "v1" {
		t.Fatalf("mutation of returned slice leaked into store: %q", v2)
	}
}

func TestInMemoryStoreIteratorPrefixOrder(t *testing.T) {
	s := NewInMemoryStore()
	s.Set([]byte("A/2"), []byte("two"))
	s.Set([]byte("A/1"), []byte("one"))
	s.Set([]byte("B/1"), []byte("other"))

	it := s.Iterator([]byte("A/"))
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "A/1" || keys[1] != "A/2" {
		t.Fatalf("expected ascending [A/1 A/2], got %v", keys)
	}
}

func TestInMemoryStoreBatchAtomicity(t *testing.T) {
	s := NewInMemoryStore()
	s.Set([]byte("k1"), []byte("old"))

	b := s.Batch()
	b.Set([]byte("k1"), []byte("new"))
	b.Set([]byte("k2"), []byte("added"))

	v, _ := s.Get([]byte("k1"))
	if string(v) != "old" {
		t.Fatalf("batch write visible before Commit")
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	v, _ = s.Get([]byte("k1"))
	if string(v) != "new" {
		t.Fatalf("expected new after commit, got %q", v)
	}
	v, _ = s.Get([]byte("k2"))
	if string(v) != "added" {
		t.Fatalf("expected added key after commit, got %q", v)
	}
}

func TestCurrentStoreSetStore(t *testing.T) {
	s := NewInMemoryStore()
	SetStore(s)
	if CurrentStore() != s {
		t.Fatalf("CurrentStore did not return the store set by SetStore")
	}
}
