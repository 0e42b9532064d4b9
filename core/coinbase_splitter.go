package core

import (
	log "github.com/sirupsen/logrus"
)

// CoinbaseOutput is a single coinbase transaction output: an address and the
// integer amount it receives (spec §4.10).
type CoinbaseOutput struct {
	Address Address
	Amount  uint64
}

// CoinbaseTolerance bounds the base-unit drift CheckCoinbaseValidatorPayments
// tolerates against the canonical split, absorbing integer-division rounding
// across validator counts that don't evenly divide the validator share
// (spec §4.10 Open Question, resolved in favour of a fixed tolerance).
const CoinbaseTolerance = 10

// minerSharePermille is the miner's fixed cut of the gas cost, expressed in
// parts-per-thousand so the split stays integer-only on every consensus path
// (spec §9's redesign note forbids floating point here).
const minerSharePermille = 700

// SplitGasFee divides a transaction's gas cost between the miner and the
// block's validator set (spec §4.10): the miner always takes
// floor(0.70*gasCost); the remainder is split evenly across validators, with
// any remainder-of-remainder left with the miner. An empty validator set
// routes the entire gas cost to the miner.
//
// Grounded on the teacher's StakePenaltyManager in stake_penalty.go: the same
// plain-integer-arithmetic idiom (without its mutex), generalized from a single
// stake ledger to a per-transaction fee split.
func SplitGasFee(gasCost uint64, validatorCount int) (minerShare, validatorShare, perValidator uint64) {
	if validatorCount <= 0 {
		return gasCost, 0, 0
	}
	minerShare = gasCost * minerSharePermille / 1000
	validatorShare = gasCost - minerShare
	perValidator = validatorShare / uint64(validatorCount)
	remainder := validatorShare - perValidator*uint64(validatorCount)
	minerShare += remainder
	validatorShare -= remainder
	return minerShare, validatorShare, perValidator
}

// CoinbaseSplitter builds and validates coinbase transactions from a
// block's accumulated fees and the active validator set.
type CoinbaseSplitter struct {
	logger *log.Logger
}

func NewCoinbaseSplitter(logger *log.Logger) *CoinbaseSplitter {
	return &CoinbaseSplitter{logger: logger}
}

// BuildCoinbase constructs the canonical coinbase outputs for a block: output
// 0 pays the miner (block subsidy plus the sum of per-transaction miner
// shares, minus what was routed to validators), and outputs 1..N pay each
// validator its even share of the accumulated validator pool (spec §4.10).
func (c *CoinbaseSplitter) BuildCoinbase(miner Address, blockReward uint64, txFees []uint64, validators []Address) []CoinbaseOutput {
	var totalMinerShare, totalValidatorShare uint64
	for _, fee := range txFees {
		m, v, _ := SplitGasFee(fee, len(validators))
		totalMinerShare += m
		totalValidatorShare += v
	}

	minerAmount := blockReward + totalMinerShare
	outputs := make([]CoinbaseOutput, 0, 1+len(validators))
	outputs = append(outputs, CoinbaseOutput{Address: miner, Amount: minerAmount})

	if len(validators) == 0 {
		return outputs
	}

	perValidator := totalValidatorShare / uint64(len(validators))
	for _, v := range validators {
		outputs = append(outputs, CoinbaseOutput{Address: v, Amount: perValidator})
	}

	if c.logger != nil {
		c.logger.WithFields(log.Fields{
			"miner": miner.Hex(), "miner_amount": minerAmount,
			"validator_count": len(validators), "per_validator": perValidator,
		}).Debug("coinbase built")
	}
	return outputs
}

// CheckCoinbaseValidatorPayments reports whether an observed coinbase's
// validator outputs match the canonical split within CoinbaseTolerance base
// units per validator, absorbing integer-division rounding drift across
// implementations rather than demanding byte-exact equality (spec §4.10
// Open Question).
func (c *CoinbaseSplitter) CheckCoinbaseValidatorPayments(txFees []uint64, validators []Address, observed []CoinbaseOutput) bool {
	if len(validators) == 0 {
		return true
	}
	var totalValidatorShare uint64
	for _, fee := range txFees {
		_, v, _ := SplitGasFee(fee, len(validators))
		totalValidatorShare += v
	}
	perValidator := totalValidatorShare / uint64(len(validators))

	paid := make(map[Address]uint64, len(observed))
	for _, out := range observed {
		paid[out.Address] += out.Amount
	}

	for _, val := range validators {
		amount := paid[val]
		diff := int64(amount) - int64(perValidator)
		if diff < 0 {
			diff = -diff
		}
		if diff > CoinbaseTolerance {
			if c.logger != nil {
				c.logger.WithFields(log.Fields{
					"validator": val.Hex(), "expected": perValidator, "observed": amount,
				}).Warn("coinbase validator payment out of tolerance")
			}
			return false
		}
	}
	return true
}
