package core

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/crypto"
)

// VMStatus is the terminal or in-flight state of a native VM execution
// (spec §4.6).
type VMStatus int

const (
	StatusRunning VMStatus = iota
	StatusStopped
	StatusReturned
	StatusReverted
	StatusOutOfGas
	StatusInvalidOpcode
	StatusInvalidJump
	StatusStackUnderflow
	StatusStackOverflow
	StatusVMError
)

const maxStackDepth = 1024
const maxBytecodeSize = 24 * 1024 // 24 KiB ceiling, spec §4.6

// VMLog is one LOG-opcode emission.
type VMLog struct {
	Address Address
	Topics  []Word
	Data    []byte
}

// VMContext carries the per-call environment the native VM reads from
// (spec §4.6): contract address, caller, call value, block height/hash/
// timestamp, storage, and the gas limit. Grounded on the teacher's
// VMContext in virtual_machine.go, trimmed to what a single native frame
// needs and without the teacher's EVM-bridge fields (those live on
// EVMHostAdapter, see evm_host_adapter.go).
type VMContext struct {
	Contract     Address
	Caller       Address
	CallValue    Word
	Input        []byte
	BlockHeight  uint64
	BlockHash    Hash
	Timestamp    uint64
	GasLimit     uint64

	Storage  StorageBackend
	CallDepth int
}

// StorageBackend is the minimal contract-storage surface the native VM
// needs: SLOAD/SSTORE over (address, Word) -> Word, and balance lookups
// for the BALANCE opcode (spec §4.6, §6 STORAGE/ key family).
type StorageBackend interface {
	SLoad(addr Address, key Word) Word
	SStore(addr Address, key Word, value Word) error
	BalanceOf(addr Address) uint64
}

// kvStorageBackend is the default StorageBackend, backed directly by a
// KVStore using the STORAGE/{addr}/{key} and BALANCE/{addr} key families
// from spec §6.
type kvStorageBackend struct {
	store KVStore
}

func NewKVStorageBackend(store KVStore) StorageBackend {
	return &kvStorageBackend{store: store}
}

func (b *kvStorageBackend) SLoad(addr Address, key Word) Word {
	raw, err := b.store.Get(storageKey(addr, key))
	if err != nil || raw == nil {
		return ZeroWord
	}
	return WordFromBytes(raw)
}

func (b *kvStorageBackend) SStore(addr Address, key Word, value Word) error {
	if err := b.store.Set(storageKey(addr, key), value.Bytes()); err != nil {
		return ErrStorageWriteFail
	}
	return nil
}

func (b *kvStorageBackend) BalanceOf(addr Address) uint64 {
	raw, err := b.store.Get(balanceKey(addr))
	if err != nil || raw == nil {
		return 0
	}
	return WordFromBytes(raw).Uint64()
}

// Receipt is the outcome of one native VM execution.
type Receipt struct {
	Status     VMStatus
	GasUsed    uint64
	ReturnData []byte
	Logs       []VMLog
}

// gasMeter tracks remaining gas, grounded on the teacher's GasMeter in
// virtual_machine.go (Remaining/Consume).
type gasMeter struct {
	remaining uint64
}

func (m *gasMeter) Remaining() uint64 { return m.remaining }

func (m *gasMeter) Consume(cost uint64) bool {
	if cost > m.remaining {
		m.remaining = 0
		return false
	}
	m.remaining -= cost
	return true
}

// NativeVM is the stack-machine interpreter of C6: operand stack (max
// depth 1024, 256-bit words), program counter, gas accounting, and the
// opcode dispatch loop. Grounded on the teacher's LightVM (push/pop
// closures, meter.Consume(op), fail() pattern) in virtual_machine.go,
// generalized to the full opcode catalogue and 256-bit Word type of spec
// §4.6.
type NativeVM struct{}

func NewNativeVM() *NativeVM { return &NativeVM{} }

// VerifyBytecode runs the pre-execution check of spec §4.6: every opcode
// known, every push immediate well-formed, total size within the ceiling.
func (vm *NativeVM) VerifyBytecode(code []byte) error {
	if len(code) > maxBytecodeSize {
		return ErrInvalidBytecode
	}
	ok, _ := validateFormat(code, FormatNative)
	if !ok {
		return ErrInvalidBytecode
	}
	return nil
}

// Execute runs code against ctx until it halts, returning a Receipt. It
// never panics on malformed input: stack/gas/jump failures map to the
// corresponding VMStatus and halt execution (spec §4.6).
func (vm *NativeVM) Execute(code []byte, ctx *VMContext) *Receipt {
	if err := vm.VerifyBytecode(code); err != nil {
		return &Receipt{Status: StatusInvalidOpcode}
	}

	jumpDests := computeJumpDests(code)
	meter := &gasMeter{remaining: ctx.GasLimit}
	stack := make([]Word, 0, 64)

	push := func(w Word) VMStatus {
		if len(stack) >= maxStackDepth {
			return StatusStackOverflow
		}
		stack = append(stack, w)
		return StatusRunning
	}
	pop := func() (Word, VMStatus) {
		if len(stack) == 0 {
			return ZeroWord, StatusStackUnderflow
		}
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return w, StatusRunning
	}

	var logs []VMLog
	var returnData []byte
	status := StatusRunning
	pc := 0

	for status == StatusRunning && pc < len(code) {
		op := Opcode(code[pc])
		if !IsKnownOpcode(op) {
			status = StatusInvalidOpcode
			break
		}
		if !meter.Consume(GasCost(op)) {
			status = StatusOutOfGas
			break
		}

		advance := 1
		switch op {
		case OpSTOP:
			status = StatusStopped

		case OpPUSH:
			if pc+1 >= len(code) {
				status = StatusInvalidOpcode
				break
			}
			n := int(code[pc+1])
			if n < 1 || n > 32 || pc+2+n > len(code) {
				status = StatusInvalidOpcode
				break
			}
			if s := push(WordFromBytes(code[pc+2 : pc+2+n])); s != StatusRunning {
				status = s
				break
			}
			advance = 2 + n

		case OpPOP:
			if _, s := pop(); s != StatusRunning {
				status = s
			}

		case OpDUP:
			if pc+1 >= len(code) {
				status = StatusInvalidOpcode
				break
			}
			idx := int(code[pc+1])
			if idx < 0 || idx >= len(stack) {
				status = StatusStackUnderflow
				break
			}
			if s := push(stack[len(stack)-1-idx]); s != StatusRunning {
				status = s
			}
			advance = 2

		case OpSWAP:
			if pc+1 >= len(code) {
				status = StatusInvalidOpcode
				break
			}
			idx := int(code[pc+1])
			if idx < 1 || idx >= len(stack) {
				status = StatusStackUnderflow
				break
			}
			top := len(stack) - 1
			stack[top], stack[top-idx] = stack[top-idx], stack[top]
			advance = 2

		case OpADD, OpSUB, OpMUL, OpDIV, OpMOD, OpAND, OpOR, OpXOR,
			OpEQ, OpNE, OpLT, OpGT, OpLE, OpGE:
			b, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			a, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			status = vm.binaryOp(op, a, b, push)

		case OpNOT:
			a, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			if s := push(a.Not()); s != StatusRunning {
				status = s
			}

		case OpJUMP:
			target, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			dest := int(target.Uint64())
			if !jumpDests[dest] {
				status = StatusInvalidJump
				break
			}
			pc = dest
			advance = 0

		case OpJUMPI:
			target, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			cond, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			if !cond.IsZero() {
				dest := int(target.Uint64())
				if !jumpDests[dest] {
					status = StatusInvalidJump
					break
				}
				pc = dest
				advance = 0
			}

		case OpJUMPDEST:
			// no-op landing pad

		case OpRETURN:
			if len(stack) >= 1 {
				returnData = stack[len(stack)-1].Bytes()
			}
			status = StatusReturned

		case OpREVERT:
			if len(stack) >= 1 {
				returnData = stack[len(stack)-1].Bytes()
			}
			status = StatusReverted

		case OpSLOAD:
			key, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			if s := push(ctx.Storage.SLoad(ctx.Contract, key)); s != StatusRunning {
				status = s
			}

		case OpSSTORE:
			key, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			value, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			if err := ctx.Storage.SStore(ctx.Contract, key, value); err != nil {
				status = StatusVMError
			}

		case OpSHA256:
			a, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			sum := sha256.Sum256(a.Bytes())
			if s := push(WordFromBytes(sum[:])); s != StatusRunning {
				status = s
			}

		case OpVERIFY_SIG, OpVERIFY_SIG_ECDSA, OpVERIFY_SIG_QUANTUM:
			offset, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			status = vm.handleCrypto(op, ctx, int(offset.Uint64()), push)

		case OpADDRESS:
			status = push(WordFromBytes(ctx.Contract.Bytes()))
		case OpCALLER:
			status = push(WordFromBytes(ctx.Caller.Bytes()))
		case OpCALLVALUE:
			status = push(ctx.CallValue)
		case OpTIMESTAMP:
			status = push(WordFromUint64(ctx.Timestamp))
		case OpBLOCKHASH:
			status = push(WordFromBytes(ctx.BlockHash.Bytes()))
		case OpBLOCKHEIGHT:
			status = push(WordFromUint64(ctx.BlockHeight))
		case OpGAS:
			status = push(WordFromUint64(meter.Remaining()))
		case OpBALANCE:
			addrWord, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			bal := ctx.Storage.BalanceOf(AddressFromBytes(addrWord.Bytes()))
			status = push(WordFromUint64(bal))

		case OpLOG:
			data, s := pop()
			if s != StatusRunning {
				status = s
				break
			}
			logs = append(logs, VMLog{Address: ctx.Contract, Data: data.Bytes()})

		case OpCALL:
			// The native VM charges gas for CALL and otherwise does nothing:
			// no nested call is dispatched and the stack is left unchanged.
			// Nested calls reach the router only through the EVM host
			// adapter's Call.

		default:
			status = StatusInvalidOpcode
		}

		if status != StatusRunning {
			break
		}
		pc += advance
	}

	if status == StatusRunning {
		status = StatusStopped // fell off the end of code
	}

	return &Receipt{Status: status, GasUsed: ctx.GasLimit - meter.Remaining(), ReturnData: returnData, Logs: logs}
}


func (vm *NativeVM) binaryOp(op Opcode, a, b Word, push func(Word) VMStatus) VMStatus {
	var r Word
	switch op {
	case OpADD:
		r = a.Add(b)
	case OpSUB:
		r = a.Sub(b)
	case OpMUL:
		r = a.Mul(b)
	case OpDIV:
		r = a.Div(b)
	case OpMOD:
		r = a.Mod(b)
	case OpAND:
		r = a.And(b)
	case OpOR:
		r = a.Or(b)
	case OpXOR:
		r = a.Xor(b)
	case OpEQ:
		r = BoolWord(a.Eq(b))
	case OpNE:
		r = BoolWord(!a.Eq(b))
	case OpLT:
		r = BoolWord(a.Lt(b))
	case OpGT:
		r = BoolWord(a.Gt(b))
	case OpLE:
		r = BoolWord(a.Le(b))
	case OpGE:
		r = BoolWord(a.Ge(b))
	}
	return push(r)
}

// cryptoPayload is the layout VERIFY_SIG*'s input-buffer operand points
// at: a 2-byte big-endian signature length, a 32-byte message hash, the
// signature itself, and a 65-byte uncompressed secp256k1 public key.
func parseCryptoPayload(input []byte, offset int) (hash []byte, sig []byte, pub []byte, ok bool) {
	if offset < 0 || offset+2 > len(input) {
		return nil, nil, nil, false
	}
	sigLen := int(input[offset])<<8 | int(input[offset+1])
	start := offset + 2
	if start+32+sigLen+65 > len(input) {
		return nil, nil, nil, false
	}
	hash = input[start : start+32]
	sig = input[start+32 : start+32+sigLen]
	pub = input[start+32+sigLen : start+32+sigLen+65]
	return hash, sig, pub, true
}

// handleCrypto implements the three signature-verification variants of
// spec §4.6, recovering/verifying over secp256k1 via go-ethereum's crypto
// package exactly as VERIFY_SIG_ECDSA's contract requires. Per spec §9,
// quantum support is not short-circuited to "valid" when unavailable:
// VERIFY_SIG_QUANTUM and the lattice branch of VERIFY_SIG fail closed
// (push 0) rather than assume validity, since this build has no
// quantum-signature verifier compiled in.
func (vm *NativeVM) handleCrypto(op Opcode, ctx *VMContext, offset int, push func(Word) VMStatus) VMStatus {
	hash, sig, pub, ok := parseCryptoPayload(ctx.Input, offset)
	sigLen := 0
	if ok {
		sigLen = len(sig)
	}

	verifyECDSA := func() Word {
		if !ok || len(sig) != 65 || len(hash) != 32 {
			return ZeroWord
		}
		recovered, err := crypto.Ecrecover(hash, sig)
		if err != nil || len(recovered) != len(pub) {
			return ZeroWord
		}
		for i := range recovered {
			if recovered[i] != pub[i] {
				return ZeroWord
			}
		}
		return WordFromUint64(1)
	}

	switch op {
	case OpVERIFY_SIG_ECDSA:
		if sigLen > 72 {
			return push(ZeroWord)
		}
		return push(verifyECDSA())
	case OpVERIFY_SIG_QUANTUM:
		// No quantum verifier is compiled into this build; fail closed
		// rather than assume validity (spec §9), regardless of length.
		return push(ZeroWord)
	default: // OpVERIFY_SIG
		switch {
		case sigLen <= 72:
			return push(verifyECDSA())
		default:
			// Lattice/post-quantum branch: no verifier compiled in, fail closed.
			return push(ZeroWord)
		}
	}
}

func computeJumpDests(code []byte) map[int]bool {
	dests := make(map[int]bool)
	i := 0
	for i < len(code) {
		op := Opcode(code[i])
		if op == OpJUMPDEST {
			dests[i] = true
		}
		if op == OpPUSH && i+1 < len(code) {
			n := int(code[i+1])
			if n >= 1 && n <= 32 {
				i += 2 + n
				continue
			}
		}
		i++
	}
	return dests
}
