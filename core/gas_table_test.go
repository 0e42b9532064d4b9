package core

import "testing"

func TestGasCostKnownOpcode(t *testing.T) {
	if got := GasCost(OpSSTORE); got != 5_000 {
		t.Fatalf("expected OpSSTORE to cost 5000, got %d", got)
	}
	if got := GasCost(OpSTOP); got != 0 {
		t.Fatalf("expected OpSTOP to cost 0, got %d", got)
	}
}

func TestGasCostUnpricedOpcodeFallsBackToDefault(t *testing.T) {
	if got := GasCost(Opcode(0xFE)); got != DefaultGasCost {
		t.Fatalf("expected an unpriced opcode to fall back to %d, got %d", DefaultGasCost, got)
	}
}

func TestSetGasCostOverridesTable(t *testing.T) {
	original := GasCost(OpADD)
	t.Cleanup(func() { SetGasCost(OpADD, original) })

	SetGasCost(OpADD, 42)
	if got := GasCost(OpADD); got != 42 {
		t.Fatalf("expected the overridden cost 42, got %d", got)
	}
}
