package core

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

// AccessStatus is the per-transaction warm/cold classification the EVM
// access-list opcodes (and their gas costs) depend on (spec §4.7).
type AccessStatus int

const (
	AccessCold AccessStatus = iota
	AccessWarm
)

// StorageWriteStatus reports how an SSTORE changed a slot, mirroring the
// EIP-1283-style classification spec §4.7 asks `set_storage` to return.
type StorageWriteStatus int

const (
	StorageAdded StorageWriteStatus = iota
	StorageDeleted
	StorageModified
	StorageAssigned
)

// TxContext supplies the transaction- and block-scoped values the host
// exposes to the guest interpreter via get_tx_context (spec §4.7).
type TxContext struct {
	Origin      Address
	GasPrice    uint64
	BlockNumber uint64
	Timestamp   uint64
	GasLimit    uint64
	ChainID     uint64
}

// CallKind distinguishes the nested-call flavours the host's `call`
// callback must route (spec §4.7): plain, delegate, static, and the two
// contract-creation opcodes.
type CallKind int

const (
	CallPlain CallKind = iota
	CallDelegate
	CallStatic
	CallCreate
	CallCreate2
)

// CallResult is what a nested call/create returns to the guest.
type CallResult struct {
	Success    bool
	ReturnData []byte
	GasLeft    uint64
	Address    Address // populated for CallCreate/CallCreate2
}

// Dispatcher routes a nested call back through the execution router (C8),
// which owns cross-format dispatch and the 1024-frame depth limit; the
// host adapter itself never decides which sub-VM executes a nested call.
// Wired in by the router after both are constructed, avoiding a C7->C8
// import cycle.
type Dispatcher func(kind CallKind, caller, callee Address, value Word, input []byte, gas uint64, salt Word, initCode []byte) (CallResult, error)

// BlockHashProvider resolves a historical block hash, supplied by the
// enclosing node (P2P/chain state is an explicit non-goal, spec §1).
type BlockHashProvider func(height uint64) Hash

// Contract is the persisted deployed-code record (spec §6 CONTRACT/{addr}).
type Contract struct {
	Code []byte `json:"code"`
}

// EVMHostAdapter bridges a host-provided EVM interpreter (itself a black
// box per spec §1) to this core's storage, balances, and trust layer.
// Grounded on the teacher's HeavyVM/registerHost wasmer bridge in
// virtual_machine.go (host callbacks registered under an "env" namespace
// for a wasm guest); here the same callback shape is generalized from a
// single KV bridge to the full host-interface table of spec §4.7.
type EVMHostAdapter struct {
	store     KVStore
	storage   StorageBackend
	blockHash BlockHashProvider
	dispatch  Dispatcher
	logger    *log.Logger

	// access is reset at the start of every transaction (spec §9's
	// access-list scoping note): a nested call inherits the parent's
	// access list rather than starting cold again.
	accessedAccounts map[Address]bool
	accessedStorage  map[Address]map[Word]bool

	// pendingDestructs holds SELFDESTRUCT beneficiaries scheduled for
	// end-of-transaction application (spec §4.7).
	pendingDestructs map[Address]Address
}

func NewEVMHostAdapter(store KVStore, storage StorageBackend, blockHash BlockHashProvider, logger *log.Logger) *EVMHostAdapter {
	a := &EVMHostAdapter{store: store, storage: storage, blockHash: blockHash, logger: logger}
	a.BeginTx()
	return a
}

// SetDispatcher wires the router's nested-call entry point in after both
// components exist.
func (a *EVMHostAdapter) SetDispatcher(d Dispatcher) { a.dispatch = d }

// BeginTx resets the per-transaction access list and pending-destruct set,
// per spec §9: access-list tracking must be scoped to a single
// transaction's execution.
func (a *EVMHostAdapter) BeginTx() {
	a.accessedAccounts = make(map[Address]bool)
	a.accessedStorage = make(map[Address]map[Word]bool)
	a.pendingDestructs = make(map[Address]Address)
}

// EndTx applies every SELFDESTRUCT scheduled during the transaction,
// transferring each contract's remaining balance to its beneficiary and
// deleting the contract record.
func (a *EVMHostAdapter) EndTx() error {
	for contract, beneficiary := range a.pendingDestructs {
		bal := a.storage.BalanceOf(contract)
		if bal > 0 {
			if err := a.store.Set(balanceKey(contract), WordFromUint64(0).Bytes()); err != nil {
				return ErrStorageWriteFail
			}
			existing := a.storage.BalanceOf(beneficiary)
			if err := a.store.Set(balanceKey(beneficiary), WordFromUint64(existing+bal).Bytes()); err != nil {
				return ErrStorageWriteFail
			}
		}
		if err := a.store.Delete(contractKey(contract)); err != nil {
			return ErrStorageWriteFail
		}
	}
	return nil
}

// AccountExists reports whether addr has contract code or a non-zero
// balance (spec §4.7).
func (a *EVMHostAdapter) AccountExists(addr Address) (bool, error) {
	ok, err := a.store.Exists(contractKey(addr))
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return a.storage.BalanceOf(addr) > 0, nil
}

// GetStorage returns the stored word at (addr, key), zero if missing.
func (a *EVMHostAdapter) GetStorage(addr Address, key Word) Word {
	return a.storage.SLoad(addr, key)
}

// SetStorage writes through and reports the EIP-1283-style status
// transition of the write.
func (a *EVMHostAdapter) SetStorage(addr Address, key, value Word) (StorageWriteStatus, error) {
	current := a.storage.SLoad(addr, key)
	if err := a.storage.SStore(addr, key, value); err != nil {
		return 0, err
	}
	switch {
	case current.IsZero() && !value.IsZero():
		return StorageAdded, nil
	case !current.IsZero() && value.IsZero():
		return StorageDeleted, nil
	case !current.Eq(value):
		return StorageModified, nil
	default:
		return StorageAssigned, nil
	}
}

// GetBalance returns addr's integer balance, zero if unknown.
func (a *EVMHostAdapter) GetBalance(addr Address) uint64 {
	return a.storage.BalanceOf(addr)
}

func (a *EVMHostAdapter) getContract(addr Address) (*Contract, error) {
	raw, err := a.store.Get(contractKey(addr))
	if err != nil || raw == nil {
		return nil, err
	}
	var c Contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCodeSize returns the length of addr's deployed code, 0 if none.
func (a *EVMHostAdapter) GetCodeSize(addr Address) (int, error) {
	c, err := a.getContract(addr)
	if err != nil || c == nil {
		return 0, err
	}
	return len(c.Code), nil
}

// GetCodeHash returns the SHA-256 of addr's deployed code, or the
// canonical empty-data hash for an account with no code (spec §4.7).
func (a *EVMHostAdapter) GetCodeHash(addr Address) (Hash, error) {
	c, err := a.getContract(addr)
	if err != nil {
		return Hash{}, err
	}
	if c == nil {
		return H(nil), nil
	}
	return H(c.Code), nil
}

// CopyCode returns addr's deployed code, or nil if none.
func (a *EVMHostAdapter) CopyCode(addr Address) ([]byte, error) {
	c, err := a.getContract(addr)
	if err != nil || c == nil {
		return nil, err
	}
	return append([]byte(nil), c.Code...), nil
}

// SelfDestruct schedules contract for end-of-transaction destruction
// (spec §4.7): EndTx then transfers its balance to beneficiary and deletes
// the contract record. Nothing is transferred or deleted by this call.
func (a *EVMHostAdapter) SelfDestruct(contract, beneficiary Address) {
	a.pendingDestructs[contract] = beneficiary
}

// Call routes a nested call through the wired Dispatcher, enforcing
// nothing about depth itself -- that is the router's responsibility
// (spec §4.8's 1024-frame limit).
func (a *EVMHostAdapter) Call(kind CallKind, caller, callee Address, value Word, input []byte, gas uint64, salt Word, initCode []byte) (CallResult, error) {
	if a.dispatch == nil {
		return CallResult{}, ErrUnsupportedFormat
	}
	return a.dispatch(kind, caller, callee, value, input, gas, salt, initCode)
}

// EmitLog builds a log entry and returns it. The adapter keeps no
// per-transaction log set, and the router does not call EmitLog; an entry
// reaches a Receipt only if the EVM executor puts it into the Receipt's
// Logs itself.
func (a *EVMHostAdapter) EmitLog(addr Address, topics []Word, data []byte) VMLog {
	return VMLog{Address: addr, Topics: topics, Data: data}
}

// AccessAccount returns COLD on first touch this transaction and WARM
// thereafter, marking it accessed as a side effect.
func (a *EVMHostAdapter) AccessAccount(addr Address) AccessStatus {
	if a.accessedAccounts[addr] {
		return AccessWarm
	}
	a.accessedAccounts[addr] = true
	return AccessCold
}

// AccessStorage is AccessAccount's per-slot counterpart.
func (a *EVMHostAdapter) AccessStorage(addr Address, key Word) AccessStatus {
	slots, ok := a.accessedStorage[addr]
	if !ok {
		slots = make(map[Word]bool)
		a.accessedStorage[addr] = slots
	}
	if slots[key] {
		return AccessWarm
	}
	slots[key] = true
	return AccessCold
}

// GetTxContext returns the transaction/block environment for the guest.
func (a *EVMHostAdapter) GetTxContext(ctx TxContext) TxContext { return ctx }

// GetBlockHash returns the hash of block `height`, or zero if it falls
// outside the last 256 blocks or the provider is unset (spec §4.7).
func (a *EVMHostAdapter) GetBlockHash(height, currentHeight uint64) Hash {
	if a.blockHash == nil {
		return Hash{}
	}
	if currentHeight < height || currentHeight-height > 256 {
		return Hash{}
	}
	return a.blockHash(height)
}

// ContractAddressClassic derives a CREATE-style contract address:
// truncate_160(H(sender || nonce)), grounded on the teacher's
// CreateContract in virtual_machine.go, which derives addresses the same
// way with go-ethereum's crypto.Keccak256 rather than this build's SHA-256
// H() -- kept as Keccak256 here to match go-ethereum's own address-space
// conventions at the EVM boundary.
func ContractAddressClassic(sender Address, nonce uint64) Address {
	buf := append(append([]byte{}, sender.Bytes()...), u64Bytes(nonce)...)
	return AddressFromBytes(crypto.Keccak256(buf))
}

// ContractAddressSalted derives a CREATE2-style contract address:
// truncate_160(H(0xff || sender || salt || H(init_code))).
func ContractAddressSalted(sender Address, salt Word, initCode []byte) Address {
	initHash := crypto.Keccak256(initCode)
	buf := make([]byte, 0, 1+20+32+32)
	buf = append(buf, 0xff)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, initHash...)
	return AddressFromBytes(crypto.Keccak256(buf))
}
