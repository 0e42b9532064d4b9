package core

import "testing"

func TestHIsDeterministicAndOrderSensitive(t *testing.T) {
	a := H([]byte("alice"), []byte("bob"))
	b := H([]byte("alice"), []byte("bob"))
	if a != b {
		t.Fatalf("expected H to be deterministic for identical inputs")
	}
	c := H([]byte("bob"), []byte("alice"))
	if a == c {
		t.Fatalf("expected H to be sensitive to argument order")
	}
}

func TestHConcatenatesAcrossPartBoundaries(t *testing.T) {
	// H writes each part directly into the hasher with no delimiter, so
	// ("ab", "c") and ("a", "bc") must hash identically.
	if H([]byte("ab"), []byte("c")) != H([]byte("a"), []byte("bc")) {
		t.Fatalf("expected H to hash the plain concatenation of its parts")
	}
}

func TestU64BytesAndU32BytesBigEndian(t *testing.T) {
	b8 := u64Bytes(1)
	want8 := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	if len(b8) != 8 || string(b8) != string(want8) {
		t.Fatalf("expected u64Bytes(1) = %v, got %v", want8, b8)
	}
	b4 := u32Bytes(1)
	want4 := []byte{0, 0, 0, 1}
	if len(b4) != 4 || string(b4) != string(want4) {
		t.Fatalf("expected u32Bytes(1) = %v, got %v", want4, b4)
	}
}

// TestConsensusHashIsFieldSensitive grounds spec §4.9's state-hash formula:
// changing any one of the four counters must change the resulting hash.
func TestConsensusHashIsFieldSensitive(t *testing.T) {
	base := consensusHash(1, 2, 3, 4)
	if consensusHash(2, 2, 3, 4) == base {
		t.Fatalf("expected total_edges to affect the consensus hash")
	}
	if consensusHash(1, 3, 3, 4) == base {
		t.Fatalf("expected total_votes to affect the consensus hash")
	}
	if consensusHash(1, 2, 4, 4) == base {
		t.Fatalf("expected total_disputes to affect the consensus hash")
	}
	if consensusHash(1, 2, 3, 5) == base {
		t.Fatalf("expected slashed_votes to affect the consensus hash")
	}
	if consensusHash(1, 2, 3, 4) != base {
		t.Fatalf("expected consensusHash to be deterministic")
	}
}
