package core

import "testing"

func TestAddressFromBytesTruncatesKeepingLowOrderBytes(t *testing.T) {
	in := make([]byte, 32)
	for i := range in {
		in[i] = byte(i)
	}
	addr := AddressFromBytes(in)
	want := in[12:] // the low-order (rightmost) 20 bytes
	if string(addr.Bytes()) != string(want) {
		t.Fatalf("expected truncate_160 to keep the low-order bytes, got %x want %x", addr.Bytes(), want)
	}
}

func TestAddressFromBytesLeftPadsShortInput(t *testing.T) {
	addr := AddressFromBytes([]byte{0xAA, 0xBB})
	want := Address{}
	want[18] = 0xAA
	want[19] = 0xBB
	if addr != want {
		t.Fatalf("expected short input to be left-padded, got %x want %x", addr.Bytes(), want.Bytes())
	}
}

func TestHashFromBytesTruncatesAndPads(t *testing.T) {
	in := make([]byte, 40)
	for i := range in {
		in[i] = byte(i)
	}
	h := HashFromBytes(in)
	if string(h.Bytes()) != string(in[:32]) {
		t.Fatalf("expected HashFromBytes to keep the first 32 bytes of an oversized input")
	}

	short := HashFromBytes([]byte{0x01, 0x02})
	want := Hash{}
	want[0], want[1] = 0x01, 0x02
	if short != want {
		t.Fatalf("expected a short input to be zero-padded on the right, got %x", short.Bytes())
	}
}

func TestAddressZeroAndEquality(t *testing.T) {
	if !ZeroAddress.IsZero() {
		t.Fatalf("expected ZeroAddress.IsZero() to be true")
	}
	if AddressFromBytes([]byte{1}).IsZero() {
		t.Fatalf("expected a nonzero address not to report IsZero")
	}
}

func TestAddressLessGivesTotalOrder(t *testing.T) {
	a := AddressFromBytes([]byte{0x01})
	b := AddressFromBytes([]byte{0x02})
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("expected a strict total order between distinct addresses")
	}
	if a.Less(a) {
		t.Fatalf("expected an address never to be less than itself")
	}
}

func TestSortAddressesReturnsCanonicalOrderWithoutMutatingInput(t *testing.T) {
	a := AddressFromBytes([]byte{0x03})
	b := AddressFromBytes([]byte{0x01})
	c := AddressFromBytes([]byte{0x02})
	in := []Address{a, b, c}

	sorted := SortAddresses(in)
	if sorted[0] != b || sorted[1] != c || sorted[2] != a {
		t.Fatalf("expected SortAddresses to produce canonical order, got %v", sorted)
	}
	if in[0] != a || in[1] != b || in[2] != c {
		t.Fatalf("expected SortAddresses not to mutate its input slice")
	}
}

func TestClampU32(t *testing.T) {
	if got := clampU32(5, 10, 20); got != 10 {
		t.Fatalf("expected clamp below range to return the floor, got %d", got)
	}
	if got := clampU32(25, 10, 20); got != 20 {
		t.Fatalf("expected clamp above range to return the ceiling, got %d", got)
	}
	if got := clampU32(15, 10, 20); got != 15 {
		t.Fatalf("expected a value inside the range to pass through unchanged, got %d", got)
	}
}

func TestMustPanicsOnFalseCondition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected must(false, ...) to panic")
		}
	}()
	must(false, "boom %d", 42)
}
