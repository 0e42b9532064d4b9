package core

import "testing"

// encodePush emits a PUSH opcode for a small unsigned value using the
// fewest significant bytes (minimum 1), matching the native bytecode
// format of spec §4.6.
func encodePush(n uint64) []byte {
	b := WordFromUint64(n).Bytes() // 32 bytes, big-endian
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	trimmed := b[i:]
	return append([]byte{byte(OpPUSH), byte(len(trimmed))}, trimmed...)
}

func newTestVMContext(store KVStore, contract Address) *VMContext {
	return &VMContext{
		Contract: contract,
		Caller:   addrN(9),
		GasLimit: 1_000_000,
		Storage:  NewKVStorageBackend(store),
	}
}

// TestNativeVMScenarioS1 exercises spec §8's S1: PUSH1 2, PUSH1 3, ADD,
// PUSH1 0, SSTORE, STOP stores 5 at Storage[contract][0] and halts STOPPED.
func TestNativeVMScenarioS1(t *testing.T) {
	store := NewInMemoryStore()
	contract := addrN(1)

	code := append([]byte{}, encodePush(2)...)
	code = append(code, encodePush(3)...)
	code = append(code, byte(OpADD))
	code = append(code, encodePush(0)...)
	code = append(code, byte(OpSSTORE), byte(OpSTOP))

	vm := NewNativeVM()
	ctx := newTestVMContext(store, contract)
	receipt := vm.Execute(code, ctx)

	if receipt.Status != StatusStopped {
		t.Fatalf("expected StatusStopped, got %v", receipt.Status)
	}

	backend := NewKVStorageBackend(store)
	got := backend.SLoad(contract, ZeroWord)
	if got.Uint64() != 5 {
		t.Fatalf("expected Storage[contract][0] == 5, got %s", got.String())
	}

	wantGas := GasCost(OpPUSH) + GasCost(OpPUSH) + GasCost(OpADD) + GasCost(OpPUSH) + GasCost(OpSSTORE) + GasCost(OpSTOP)
	if receipt.GasUsed != wantGas {
		t.Fatalf("expected gas_used %d, got %d", wantGas, receipt.GasUsed)
	}
}

func TestNativeVMDivModByZeroYieldZero(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()

	for _, op := range []Opcode{OpDIV, OpMOD} {
		code := append([]byte{}, encodePush(7)...)
		code = append(code, encodePush(0)...)
		code = append(code, byte(op))
		code = append(code, encodePush(0)...)
		code = append(code, byte(OpSSTORE), byte(OpSTOP))

		ctx := newTestVMContext(store, addrN(2))
		receipt := vm.Execute(code, ctx)
		if receipt.Status != StatusStopped {
			t.Fatalf("op %v: expected StatusStopped, got %v", op, receipt.Status)
		}
		got := NewKVStorageBackend(store).SLoad(addrN(2), ZeroWord)
		if !got.IsZero() {
			t.Fatalf("op %v: expected zero result for division/modulo by zero, got %s", op, got.String())
		}
	}
}

func TestNativeVMStackUnderflow(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	code := []byte{byte(OpADD)}
	receipt := vm.Execute(code, newTestVMContext(store, addrN(3)))
	if receipt.Status != StatusStackUnderflow {
		t.Fatalf("expected StatusStackUnderflow, got %v", receipt.Status)
	}
}

func TestNativeVMOutOfGas(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	code := append(encodePush(1), byte(OpSTOP))
	ctx := newTestVMContext(store, addrN(4))
	ctx.GasLimit = 1 // not enough for even the PUSH opcode
	receipt := vm.Execute(code, ctx)
	if receipt.Status != StatusOutOfGas {
		t.Fatalf("expected StatusOutOfGas, got %v", receipt.Status)
	}
}

func TestNativeVMInvalidOpcodeHalts(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	code := []byte{0xFF}
	receipt := vm.Execute(code, newTestVMContext(store, addrN(5)))
	if receipt.Status != StatusInvalidOpcode {
		t.Fatalf("expected StatusInvalidOpcode, got %v", receipt.Status)
	}
}

func TestNativeVMJumpMustLandOnJumpdest(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	// PUSH 5 (bytes 0-2), JUMP (3), STOP (4), JUMPDEST (5), STOP (6) --
	// offset 5 is a JUMPDEST so execution should resume there and STOP
	// cleanly.
	code := append(encodePush(5), byte(OpJUMP), byte(OpSTOP))
	code = append(code, byte(OpJUMPDEST), byte(OpSTOP))
	receipt := vm.Execute(code, newTestVMContext(store, addrN(6)))
	if receipt.Status != StatusStopped {
		t.Fatalf("expected jump to valid JUMPDEST to succeed, got %v", receipt.Status)
	}
}

func TestNativeVMJumpToNonJumpdestFails(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	code := append(encodePush(0), byte(OpJUMP))
	receipt := vm.Execute(code, newTestVMContext(store, addrN(7)))
	if receipt.Status != StatusInvalidJump {
		t.Fatalf("expected StatusInvalidJump, got %v", receipt.Status)
	}
}

func TestNativeVMRevertPreservesReturnData(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	code := append(encodePush(42), byte(OpREVERT))
	receipt := vm.Execute(code, newTestVMContext(store, addrN(8)))
	if receipt.Status != StatusReverted {
		t.Fatalf("expected StatusReverted, got %v", receipt.Status)
	}
	if WordFromBytes(receipt.ReturnData).Uint64() != 42 {
		t.Fatalf("expected REVERT to preserve return data, got %x", receipt.ReturnData)
	}
}

func TestVerifySigQuantumFailsClosed(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	ctx := newTestVMContext(store, addrN(10))
	// Input buffer irrelevant -- VERIFY_SIG_QUANTUM never assumes validity
	// in a build with no quantum verifier compiled in (spec §9).
	ctx.Input = make([]byte, 200)
	code := append([]byte{}, encodePush(0)...)
	code = append(code, byte(OpVERIFY_SIG_QUANTUM), byte(OpRETURN))
	receipt := vm.Execute(code, ctx)
	if receipt.Status != StatusReturned {
		t.Fatalf("expected StatusReturned, got %v", receipt.Status)
	}
	if !WordFromBytes(receipt.ReturnData).IsZero() {
		t.Fatalf("expected VERIFY_SIG_QUANTUM to fail closed (push 0), got %x", receipt.ReturnData)
	}
}

func TestVerifySigECDSARejectsOversizedSignature(t *testing.T) {
	store := NewInMemoryStore()
	vm := NewNativeVM()
	ctx := newTestVMContext(store, addrN(11))
	// sigLen header = 100 (> 72), rest of the buffer can be arbitrary.
	input := make([]byte, 2+32+100+65)
	input[0] = 0
	input[1] = 100
	ctx.Input = input
	code := append([]byte{}, encodePush(0)...)
	code = append(code, byte(OpVERIFY_SIG_ECDSA), byte(OpRETURN))
	receipt := vm.Execute(code, ctx)
	if receipt.Status != StatusReturned {
		t.Fatalf("expected StatusReturned, got %v", receipt.Status)
	}
	if !WordFromBytes(receipt.ReturnData).IsZero() {
		t.Fatalf("expected oversized ECDSA signature to fail verification, got %x", receipt.ReturnData)
	}
}

func TestNativeVMVerifyBytecodeRejectsOversizedPush(t *testing.T) {
	vm := NewNativeVM()
	code := []byte{byte(OpPUSH), 33} // length byte out of [1,32]
	if err := vm.VerifyBytecode(code); err != ErrInvalidBytecode {
		t.Fatalf("expected ErrInvalidBytecode, got %v", err)
	}
}
