package core

import "errors"

// Sentinel errors surfaced by the components below, one per failure kind
// named in the error-handling design. Callers are expected to match them
// with errors.Is; several (DeterminismFailure in particular) are also
// logged at the raise site rather than swallowed.
var (
	ErrInvalidBytecode = errors.New("invalid bytecode")
	ErrUnsupportedFormat = errors.New("unsupported bytecode format")
	ErrTrustGateDenied   = errors.New("trust gate denied")

	ErrOutOfGas         = errors.New("out of gas")
	ErrInvalidOpcode    = errors.New("invalid opcode")
	ErrInvalidJump      = errors.New("invalid jump destination")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrStackOverflow    = errors.New("stack overflow")
	ErrReverted         = errors.New("execution reverted")
	ErrStorageWriteFail = errors.New("storage write failed")

	ErrBondInsufficient = errors.New("insufficient bond")
	ErrWeightOutOfRange = errors.New("trust weight out of range")
	ErrSelfEdgeForbidden = errors.New("self edges are forbidden")
	ErrEdgeNotFound      = errors.New("trust edge not found")
	ErrVoteNotFound      = errors.New("bonded vote not found")

	ErrPhaseViolation      = errors.New("dispute phase violation")
	ErrCommitmentMismatch  = errors.New("commitment hash mismatch")
	ErrCommitmentExists    = errors.New("commitment already submitted")
	ErrCommitmentNotFound  = errors.New("commitment not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrDisputeNotResolved  = errors.New("dispute not yet resolved")
	ErrAlreadyClaimed      = errors.New("reward already claimed")
	ErrRewardNotFound      = errors.New("reward not found")

	ErrDeterminismFailure = errors.New("determinism check failed")

	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrSizeWrongForSigType = errors.New("signature size wrong for claimed type")

	ErrNotFound         = errors.New("not found")
	ErrContractExists   = errors.New("contract already exists at address")
	ErrNestingTooDeep   = errors.New("call depth limit exceeded")
)
