package core

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// VoteCommitment is one voter's commit-reveal entry against a Dispute
// (spec §3). Once stored it is final: no change, no replace.
type VoteCommitment struct {
	DisputeID      string `json:"dispute_id"`
	Voter          Address `json:"voter"`
	CommitmentHash Hash    `json:"commitment_hash"`
	Stake          uint64  `json:"stake"`
	CommitTime     uint64  `json:"commit_time"`
	Revealed       bool    `json:"revealed"`
	Vote           bool    `json:"vote"`
	Nonce          [32]byte `json:"nonce"`
	RevealTime     uint64  `json:"reveal_time"`
	Forfeited      bool    `json:"forfeited"`
}

// Dispute is a challenge against a bonded vote, adjudicated by
// stake-weighted commit-reveal voting (spec §3).
type Dispute struct {
	ID               string           `json:"id"`
	OriginalVoteTx   Hash             `json:"original_vote_tx"`
	Challenger       Address          `json:"challenger"`
	ChallengeBond    uint64           `json:"challenge_bond"`
	Reason           string           `json:"reason"`
	CreatedAt        uint64           `json:"created_at"`
	CommitPhaseStart uint64           `json:"commit_phase_start"`
	RevealPhaseStart uint64           `json:"reveal_phase_start"`
	DAOVotes         map[string]bool  `json:"dao_votes"`
	DAOStakes        map[string]uint64 `json:"dao_stakes"`
	Resolved         bool             `json:"resolved"`
	SlashDecision    bool             `json:"slash_decision"`
	ResolvedAt       uint64           `json:"resolved_at"`
}

// RewardKind enumerates the four reward flavours of spec §4.4.
type RewardKind string

const (
	RewardChallengerBondReturn RewardKind = "CHALLENGER_BOND_RETURN"
	RewardChallengerBounty     RewardKind = "CHALLENGER_BOUNTY"
	RewardDAOVoter             RewardKind = "DAO_VOTER_REWARD"
	RewardWronglyAccused       RewardKind = "WRONGLY_ACCUSED_COMPENSATION"
)

// PendingReward is a single unclaimed (or claimed-once) payout produced by
// dispute resolution (spec §3).
type PendingReward struct {
	RewardID   string     `json:"reward_id"`
	DisputeID  string     `json:"dispute_id"`
	Recipient  Address    `json:"recipient"`
	Amount     uint64     `json:"amount"`
	Kind       RewardKind `json:"kind"`
	CreatedAt  uint64     `json:"created_at"`
	Claimed    bool       `json:"claimed"`
	ClaimedAt  uint64     `json:"claimed_at"`
	ClaimTx    Hash       `json:"claim_tx"`
}

// DAOConfig holds the fixed durations and percentages of spec §4.4, each
// config-overridable (spec SPEC_FULL.md §2) with the values below as
// defaults.
type DAOConfig struct {
	CommitPhaseBlocks uint64 // D_c
	RevealPhaseBlocks uint64 // D_r
	MinVotes          int    // quorum

	PctChallengerBounty uint64 // p_ch, out of 100, of the slashed bond
	PctVoterPool        uint64 // p_v
	PctBurnOnSlash      uint64 // p_b; p_ch+p_v+p_b must equal 100

	PctWronglyAccused uint64 // p_wa, out of 100, of the forfeited challenge bond
}

func DefaultDAOConfig() DAOConfig {
	return DAOConfig{
		CommitPhaseBlocks:   100,
		RevealPhaseBlocks:   100,
		MinVotes:            3,
		PctChallengerBounty: 20,
		PctVoterPool:        50,
		PctBurnOnSlash:      30,
		PctWronglyAccused:   70,
	}
}

// DAOEngine is the commit-reveal & DAO component (C4). Grounded on the
// teacher's dao.go (sentinel errors, CurrentStore/uuid/Broadcast idiom) and
// governance_reputation_voting.go (commit-shaped proposal voting),
// generalized to the two-phase commit-reveal lifecycle of spec §4.4, with
// a zap audit line on every reward/slash per SPEC_FULL.md's supplemented
// audit-trail feature.
type DAOEngine struct {
	store  KVStore
	graph  *TrustGraph
	cfg    DAOConfig
	logger *log.Logger
	audit  *zap.Logger
}

func NewDAOEngine(store KVStore, graph *TrustGraph, cfg DAOConfig, logger *log.Logger, audit *zap.Logger) *DAOEngine {
	return &DAOEngine{store: store, graph: graph, cfg: cfg, logger: logger, audit: audit}
}

// OpenDispute creates a new dispute with commit phase starting at
// currentBlock.
func (d *DAOEngine) OpenDispute(originalVoteTx Hash, challenger Address, challengeBond uint64, reason string, currentBlock uint64) (*Dispute, error) {
	id := uuid.New().String()
	dis := &Dispute{
		ID: id, OriginalVoteTx: originalVoteTx, Challenger: challenger,
		ChallengeBond: challengeBond, Reason: reason, CreatedAt: currentBlock,
		CommitPhaseStart: currentBlock,
		RevealPhaseStart: currentBlock + d.cfg.CommitPhaseBlocks,
		DAOVotes:         map[string]bool{},
		DAOStakes:        map[string]uint64{},
	}
	if err := d.saveDispute(dis); err != nil {
		return nil, err
	}
	data, _ := json.Marshal(dis)
	Broadcast(TopicDisputeOpened, data)
	return dis, nil
}

func (d *DAOEngine) saveDispute(dis *Dispute) error {
	data, err := json.Marshal(dis)
	if err != nil {
		return err
	}
	if err := d.store.Set(disputeKey(dis.ID), data); err != nil {
		return ErrStorageWriteFail
	}
	return nil
}

func (d *DAOEngine) GetDispute(id string) (*Dispute, error) {
	raw, err := d.store.Get(disputeKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrDisputeNotFound
	}
	var dis Dispute
	if err := json.Unmarshal(raw, &dis); err != nil {
		return nil, err
	}
	return &dis, nil
}

// phase reports which of the three windows currentBlock falls in, per
// spec §4.4.
type disputePhase int

const (
	phaseCommit disputePhase = iota
	phaseReveal
	phaseResolution
)

func (d *DAOEngine) phaseAt(dis *Dispute, currentBlock uint64) disputePhase {
	commitEnd := dis.CommitPhaseStart + d.cfg.CommitPhaseBlocks
	revealEnd := dis.RevealPhaseStart + d.cfg.RevealPhaseBlocks
	switch {
	case currentBlock < commitEnd:
		return phaseCommit
	case currentBlock < revealEnd:
		return phaseReveal
	default:
		return phaseResolution
	}
}

// SubmitCommitment stores an immutable commit-reveal commitment, requiring
// the commit phase, a non-zero stake, and a unique (dispute, voter) pair.
func (d *DAOEngine) SubmitCommitment(disputeID string, voter Address, commitmentHash Hash, stake uint64, currentBlock uint64) error {
	dis, err := d.GetDispute(disputeID)
	if err != nil {
		return err
	}
	if d.phaseAt(dis, currentBlock) != phaseCommit {
		return ErrPhaseViolation
	}
	if stake == 0 {
		return ErrBondInsufficient
	}
	key := commitKey(disputeID, voter.Hex())
	existing, err := d.store.Get(key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrCommitmentExists
	}
	c := &VoteCommitment{DisputeID: disputeID, Voter: voter, CommitmentHash: commitmentHash, Stake: stake, CommitTime: currentBlock}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := d.store.Set(key, data); err != nil {
		return ErrStorageWriteFail
	}
	return nil
}

// voteByte encodes the commit-reveal vote per spec §4.4: 0x01 for slash,
// 0x00 for keep.
func voteByte(slash bool) byte {
	if slash {
		return 0x01
	}
	return 0x00
}

// Reveal validates and records a reveal, requiring the reveal phase, an
// existing non-forfeited commitment, and a matching commitment hash.
func (d *DAOEngine) Reveal(disputeID string, voter Address, slash bool, nonce [32]byte, currentBlock uint64) error {
	dis, err := d.GetDispute(disputeID)
	if err != nil {
		return err
	}
	if d.phaseAt(dis, currentBlock) != phaseReveal {
		return ErrPhaseViolation
	}
	key := commitKey(disputeID, voter.Hex())
	raw, err := d.store.Get(key)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrCommitmentNotFound
	}
	var c VoteCommitment
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	if c.Forfeited {
		return ErrCommitmentNotFound
	}
	sum := sha256.Sum256(append([]byte{voteByte(slash)}, nonce[:]...))
	if Hash(sum) != c.CommitmentHash {
		return ErrCommitmentMismatch
	}
	c.Revealed = true
	c.Vote = slash
	c.Nonce = nonce
	c.RevealTime = currentBlock
	data, err := json.Marshal(&c)
	if err != nil {
		return err
	}
	if err := d.store.Set(key, data); err != nil {
		return ErrStorageWriteFail
	}
	dis.DAOVotes[voter.Hex()] = slash
	dis.DAOStakes[voter.Hex()] = c.Stake
	return d.saveDispute(dis)
}

func (d *DAOEngine) commitments(disputeID string) ([]VoteCommitment, error) {
	it := d.store.Iterator(commitPrefix(disputeID))
	defer it.Close()
	var out []VoteCommitment
	for it.Next() {
		var c VoteCommitment
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, it.Error()
}

// ForfeitUnrevealed marks every unrevealed, non-forfeited commitment as
// forfeited at resolution entry and returns the sum of their stakes.
func (d *DAOEngine) ForfeitUnrevealed(disputeID string) (uint64, error) {
	cs, err := d.commitments(disputeID)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, c := range cs {
		if c.Revealed || c.Forfeited {
			continue
		}
		c.Forfeited = true
		total += c.Stake
		data, err := json.Marshal(&c)
		if err != nil {
			return 0, err
		}
		if err := d.store.Set(commitKey(disputeID, c.Voter.Hex()), data); err != nil {
			return 0, ErrStorageWriteFail
		}
	}
	return total, nil
}

// RewardTotals summarizes the outcome of a resolution for tests and
// callers that want a conservation check (spec §8 property 5) without
// re-reading every PendingReward.
type RewardTotals struct {
	ChallengerBondReturn uint64
	ChallengerBounty     uint64
	VoterRewards         uint64
	WronglyAccused        uint64
	Burn                 uint64
}

// Resolve counts revealed votes weighted by stake, forfeits unrevealed
// commitments, determines slash_decision, and produces every PendingReward
// the outcome implies (spec §4.4). Quorum not being met resolves as a keep
// decision, the same tie-break the spec specifies for an even split,
// favouring the accused.
func (d *DAOEngine) Resolve(disputeID string, currentBlock uint64, originalVoter Address, hasOriginalVoter bool) (*Dispute, RewardTotals, error) {
	dis, err := d.GetDispute(disputeID)
	if err != nil {
		return nil, RewardTotals{}, err
	}
	if d.phaseAt(dis, currentBlock) != phaseResolution {
		return nil, RewardTotals{}, ErrPhaseViolation
	}
	if dis.Resolved {
		return dis, RewardTotals{}, nil
	}

	forfeited, err := d.ForfeitUnrevealed(disputeID)
	if err != nil {
		return nil, RewardTotals{}, err
	}

	cs, err := d.commitments(disputeID)
	if err != nil {
		return nil, RewardTotals{}, err
	}

	var slashStake, keepStake uint64
	var slashVoters, keepVoters []VoteCommitment
	revealedCount := 0
	for _, c := range cs {
		if !c.Revealed {
			continue
		}
		revealedCount++
		if c.Vote {
			slashStake += c.Stake
			slashVoters = append(slashVoters, c)
		} else {
			keepStake += c.Stake
			keepVoters = append(keepVoters, c)
		}
	}

	slashDecision := slashStake > keepStake
	if revealedCount < d.cfg.MinVotes {
		slashDecision = false
	}

	dis.Resolved = true
	dis.SlashDecision = slashDecision
	dis.ResolvedAt = currentBlock
	if err := d.saveDispute(dis); err != nil {
		return nil, RewardTotals{}, err
	}

	var totals RewardTotals
	if slashDecision {
		slashedBond := d.originalVoteBond(dis)
		totals = d.distributeSlash(dis, slashedBond, slashVoters, forfeited, currentBlock)
	} else {
		totals = d.distributeKeep(dis, forfeited, originalVoter, hasOriginalVoter, currentBlock)
	}

	data, _ := json.Marshal(dis)
	Broadcast(TopicDisputeResolved, data)
	return dis, totals, nil
}

// originalVoteBond looks up the bond amount of the disputed vote so the
// slash-side distribution has a base amount to split.
func (d *DAOEngine) originalVoteBond(dis *Dispute) uint64 {
	raw, err := d.store.Get(voteKey(dis.OriginalVoteTx))
	if err != nil || raw == nil {
		return 0
	}
	var v BondedVote
	if json.Unmarshal(raw, &v) != nil {
		return 0
	}
	return v.Bond
}

// distributeSlash implements the slash branch of spec §4.4: challenger
// bond return (100% of challenge bond), challenger bounty (p_ch of
// slashed), voter pool (p_v of slashed) split proportionally by stake
// among slash-side revealers, burn (p_b of slashed) plus all rounding
// remainders. If there are no revealed voters on the winning (slash) side,
// the voter pool flows to the challenger instead (spec §4.4, and
// DESIGN.md's resolution of the "equal to empty" open question).
func (d *DAOEngine) distributeSlash(dis *Dispute, slashedBond uint64, slashVoters []VoteCommitment, forfeitedUnrevealed uint64, currentBlock uint64) RewardTotals {
	if d.graph != nil {
		_ = d.graph.SlashVote(dis.OriginalVoteTx, H([]byte(dis.ID)))
	}

	bondReturn := dis.ChallengeBond
	bounty := slashedBond * d.cfg.PctChallengerBounty / 100
	voterPool := slashedBond * d.cfg.PctVoterPool / 100
	burn := slashedBond - bounty - voterPool // remainder, includes p_b and rounding

	d.createReward(dis.ID, dis.Challenger, bondReturn, RewardChallengerBondReturn, currentBlock)
	d.createReward(dis.ID, dis.Challenger, bounty, RewardChallengerBounty, currentBlock)

	totals := RewardTotals{ChallengerBondReturn: bondReturn, ChallengerBounty: bounty}

	if len(slashVoters) == 0 {
		// No revealed voters on the winning side: the voter pool flows to
		// the challenger rather than being stranded.
		d.createReward(dis.ID, dis.Challenger, voterPool, RewardChallengerBounty, currentBlock)
		totals.ChallengerBounty += voterPool
	} else {
		var totalStake uint64
		for _, v := range slashVoters {
			totalStake += v.Stake
		}
		var distributed uint64
		for i, v := range slashVoters {
			var share uint64
			if i == len(slashVoters)-1 {
				share = voterPool - distributed // last voter absorbs rounding within the pool
			} else {
				share = voterPool * v.Stake / totalStake
			}
			distributed += share
			d.createReward(dis.ID, v.Voter, share, RewardDAOVoter, currentBlock)
			totals.VoterRewards += share
		}
	}

	totals.Burn = burn + forfeitedUnrevealed
	if totals.Burn > 0 {
		d.logBurn(dis.ID, totals.Burn)
	}
	return totals
}

// distributeKeep implements the keep branch: wrongly-accused compensation
// (p_wa of the forfeited challenge bond) to the original voter; remainder
// burned. If there is no original voter, everything is burned.
func (d *DAOEngine) distributeKeep(dis *Dispute, forfeitedUnrevealed uint64, originalVoter Address, hasOriginalVoter bool, currentBlock uint64) RewardTotals {
	forfeitedBond := dis.ChallengeBond
	var totals RewardTotals
	if hasOriginalVoter {
		comp := forfeitedBond * d.cfg.PctWronglyAccused / 100
		d.createReward(dis.ID, originalVoter, comp, RewardWronglyAccused, currentBlock)
		totals.WronglyAccused = comp
		totals.Burn = forfeitedBond - comp + forfeitedUnrevealed
	} else {
		totals.Burn = forfeitedBond + forfeitedUnrevealed
	}
	if totals.Burn > 0 {
		d.logBurn(dis.ID, totals.Burn)
	}
	return totals
}

func (d *DAOEngine) logBurn(disputeID string, amount uint64) {
	if d.audit != nil {
		d.audit.Info("dao burn", zap.String("dispute", disputeID), zap.Uint64("amount", amount))
	}
}

func (d *DAOEngine) createReward(disputeID string, recipient Address, amount uint64, kind RewardKind, createdAt uint64) {
	if amount == 0 {
		return
	}
	r := &PendingReward{RewardID: uuid.New().String(), DisputeID: disputeID, Recipient: recipient, Amount: amount, Kind: kind, CreatedAt: createdAt}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	_ = d.store.Set(rewardKey(r.RewardID), data)
	appendRewardIndex(d.store, recipient, r.RewardID)
	Broadcast(TopicRewardCreated, data)
	if d.audit != nil {
		d.audit.Info("pending reward created",
			zap.String("reward_id", r.RewardID), zap.String("dispute", disputeID),
			zap.String("recipient", recipient.Hex()), zap.Uint64("amount", amount),
			zap.String("kind", string(kind)))
	}
}

func appendRewardIndex(store KVStore, recipient Address, rewardID string) {
	key := rewardsByRecipientKey(recipient)
	raw, err := store.Get(key)
	var ids []string
	if err == nil && raw != nil {
		_ = json.Unmarshal(raw, &ids)
	}
	ids = append(ids, rewardID)
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = store.Set(key, data)
}

// Claim pays out a PendingReward exactly once; a second claim by anyone
// returns a zero amount rather than an error, per spec §4.4 / §7.
func (d *DAOEngine) Claim(rewardID string, claimTx Hash) (uint64, error) {
	raw, err := d.store.Get(rewardKey(rewardID))
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, ErrRewardNotFound
	}
	var r PendingReward
	if err := json.Unmarshal(raw, &r); err != nil {
		return 0, err
	}
	if r.Claimed {
		return 0, nil
	}
	r.Claimed = true
	r.ClaimTx = claimTx
	data, err := json.Marshal(&r)
	if err != nil {
		return 0, err
	}
	if err := d.store.Set(rewardKey(rewardID), data); err != nil {
		return 0, ErrStorageWriteFail
	}
	Broadcast(TopicRewardClaimed, data)
	return r.Amount, nil
}

func (d *DAOEngine) GetReward(rewardID string) (*PendingReward, error) {
	raw, err := d.store.Get(rewardKey(rewardID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrRewardNotFound
	}
	var r PendingReward
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *DAOEngine) RewardsForRecipient(recipient Address) ([]string, error) {
	raw, err := d.store.Get(rewardsByRecipientKey(recipient))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
