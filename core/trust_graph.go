package core

import (
	"encoding/json"
	"sort"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// TrustEdge is a directed, bonded, weighted declaration of trust between two
// addresses (spec §3). Weight is signed and excludes zero.
type TrustEdge struct {
	From          Address `json:"from"`
	To            Address `json:"to"`
	Weight        int32   `json:"weight"`
	EstablishedAt uint32  `json:"established_at"`
	Bond          uint64  `json:"bond"`
	BondTx        Hash    `json:"bond_tx"`
	Slashed       bool    `json:"slashed"`
	SlashTx       Hash    `json:"slash_tx"`
	Reason        string  `json:"reason"`
}

// BondedVote is a staked vote for or against an address's reputation,
// subject to the same bond discipline as a TrustEdge.
type BondedVote struct {
	Voter     Address `json:"voter"`
	Target    Address `json:"target"`
	Weight    int32   `json:"weight"`
	Bond      uint64  `json:"bond"`
	BondTx    Hash    `json:"bond_tx"`
	Slashed   bool    `json:"slashed"`
	SlashTx   Hash    `json:"slash_tx"`
	Timestamp uint32  `json:"timestamp"`
	Reason    string  `json:"reason"`
}

const (
	minBond      uint64 = 1_000
	perPointBond uint64 = 10
)

// requiredBond implements spec §3's TrustEdge invariant:
// bond >= min_bond + per_point * |weight|.
func requiredBond(weight int32) uint64 {
	w := weight
	if w < 0 {
		w = -w
	}
	return minBond + perPointBond*uint64(w)
}

// TrustGraph is the web-of-trust component (C2): directed weighted edges
// with bonds, bonded votes, bounded-depth path search, and weighted
// reputation aggregation. Grounded on the teacher's KV-backed entity idiom
// (core/dao.go, core/cross_chain.go), generalized to the edge/vote schema
// and with a zap audit trail on every bond/slash mirroring cross_chain.go's
// relayer audit logging.
type TrustGraph struct {
	store  KVStore
	logger *log.Logger
	audit  *zap.Logger
}

func NewTrustGraph(store KVStore, logger *log.Logger, audit *zap.Logger) *TrustGraph {
	return &TrustGraph{store: store, logger: logger, audit: audit}
}

// AddEdge validates and persists a new trust edge, writing both the forward
// and reverse index entries atomically. An existing edge for the same
// (from, to) pair, slashed or not, is overwritten.
func (g *TrustGraph) AddEdge(from, to Address, weight int32, bond uint64, bondTx Hash, establishedAt uint32, reason string) (*TrustEdge, error) {
	if weight == 0 || weight < -100 || weight > 100 {
		return nil, ErrWeightOutOfRange
	}
	if from == to {
		return nil, ErrSelfEdgeForbidden
	}
	if bond < requiredBond(weight) {
		return nil, ErrBondInsufficient
	}

	e := &TrustEdge{
		From: from, To: to, Weight: weight, EstablishedAt: establishedAt,
		Bond: bond, BondTx: bondTx, Reason: reason,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	b := g.store.Batch()
	b.Set(trustKey(from, to), data)
	b.Set(trustInKey(to, from), data)
	if err := b.Commit(); err != nil {
		return nil, ErrStorageWriteFail
	}

	Broadcast(TopicTrustEdge, data)
	if g.audit != nil {
		g.audit.Info("trust edge bonded",
			zap.String("from", from.Hex()), zap.String("to", to.Hex()),
			zap.Int32("weight", weight), zap.Uint64("bond", bond))
	}
	return e, nil
}

// SlashEdge marks the forward and reverse copies of an edge as slashed; the
// edge itself is retained for audit, never deleted.
func (g *TrustGraph) SlashEdge(from, to Address, slashTx Hash) error {
	raw, err := g.store.Get(trustKey(from, to))
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrEdgeNotFound
	}
	var e TrustEdge
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	e.Slashed = true
	e.SlashTx = slashTx
	data, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	b := g.store.Batch()
	b.Set(trustKey(from, to), data)
	b.Set(trustInKey(to, from), data)
	if err := b.Commit(); err != nil {
		return ErrStorageWriteFail
	}
	if g.audit != nil {
		g.audit.Warn("trust edge slashed", zap.String("from", from.Hex()), zap.String("to", to.Hex()))
	}
	return nil
}

// Outgoing returns every edge (slashed or not) whose From equals from.
func (g *TrustGraph) Outgoing(from Address) ([]TrustEdge, error) {
	return g.scanEdges(trustOutPrefix(from))
}

// Incoming returns every edge (slashed or not) whose To equals to, read
// from the reverse index.
func (g *TrustGraph) Incoming(to Address) ([]TrustEdge, error) {
	return g.scanEdges(trustInPrefix(to))
}

func (g *TrustGraph) scanEdges(prefix []byte) ([]TrustEdge, error) {
	it := g.store.Iterator(prefix)
	defer it.Close()
	var out []TrustEdge
	for it.Next() {
		var e TrustEdge
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Error()
}

// RecordVote validates and persists a bonded vote, indexed by vote_tx and
// by target.
func (g *TrustGraph) RecordVote(voteTx Hash, voter, target Address, weight int32, bond uint64, bondTx Hash, timestamp uint32, reason string) (*BondedVote, error) {
	if weight == 0 || weight < -100 || weight > 100 {
		return nil, ErrWeightOutOfRange
	}
	if bond < requiredBond(weight) {
		return nil, ErrBondInsufficient
	}
	v := &BondedVote{Voter: voter, Target: target, Weight: weight, Bond: bond, BondTx: bondTx, Timestamp: timestamp, Reason: reason}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	b := g.store.Batch()
	b.Set(voteKey(voteTx), data)
	b.Set(votesByTargetKey(target, voteTx), data)
	if err := b.Commit(); err != nil {
		return nil, ErrStorageWriteFail
	}
	Broadcast(TopicBondedVote, data)
	return v, nil
}

// SlashVote flips the slashed flag on a bonded vote in both indices.
func (g *TrustGraph) SlashVote(voteTx, slashTx Hash) error {
	raw, err := g.store.Get(voteKey(voteTx))
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrVoteNotFound
	}
	var v BondedVote
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	v.Slashed = true
	v.SlashTx = slashTx
	data, err := json.Marshal(&v)
	if err != nil {
		return err
	}
	b := g.store.Batch()
	b.Set(voteKey(voteTx), data)
	b.Set(votesByTargetKey(v.Target, voteTx), data)
	if err := b.Commit(); err != nil {
		return ErrStorageWriteFail
	}
	Broadcast(TopicVoteSlashed, data)
	if g.audit != nil {
		g.audit.Warn("bonded vote slashed", zap.String("vote_tx", voteTx.Hex()))
	}
	return nil
}

// VotesForTarget returns every bonded vote recorded against target.
func (g *TrustGraph) VotesForTarget(target Address) ([]BondedVote, error) {
	it := g.store.Iterator(votesByTargetPrefix(target))
	defer it.Close()
	var out []BondedVote
	for it.Next() {
		var v BondedVote
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, it.Error()
}

// TrustPath is one simple path discovered by FindPaths, with its aggregate
// weight as fixed-point (scaled by 1e6) per spec §9's no-floating-point
// rule for any value that could feed a consensus decision.
type TrustPath struct {
	Hops         []Address
	WeightScaled int64 // product of (weight/100) along hops, scaled by 1_000_000
}

const weightScale = 1_000_000

// FindPaths returns every simple path from `from` to `to` of at most
// maxDepth hops, considering only non-slashed edges with weight >= 10,
// sorted by total weight descending. An explicit visited set is threaded
// through the DFS so cycles cannot reappear as distinct paths (spec §9's
// "cycles in trust paths" note).
func (g *TrustGraph) FindPaths(from, to Address, maxDepth int) ([]TrustPath, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	var paths []TrustPath
	visited := map[Address]bool{from: true}

	var dfs func(cur Address, hops []Address, weightScaled int64, depth int) error
	dfs = func(cur Address, hops []Address, weightScaled int64, depth int) error {
		if depth >= maxDepth {
			return nil
		}
		edges, err := g.Outgoing(cur)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.Slashed || e.Weight < 10 {
				continue
			}
			if visited[e.To] {
				continue
			}
			nextHops := append(append([]Address{}, hops...), e.To)
			nextWeight := weightScaled * int64(e.Weight) / 100
			if e.To == to {
				paths = append(paths, TrustPath{Hops: nextHops, WeightScaled: nextWeight})
			}
			visited[e.To] = true
			if err := dfs(e.To, nextHops, nextWeight, depth+1); err != nil {
				delete(visited, e.To)
				return err
			}
			delete(visited, e.To)
		}
		return nil
	}

	if err := dfs(from, nil, weightScale, 0); err != nil {
		return nil, err
	}

	sort.SliceStable(paths, func(i, j int) bool { return paths[i].WeightScaled > paths[j].WeightScaled })
	return paths, nil
}

// WeightedReputation implements spec §4.2's weighted_reputation: when
// viewer == target it is the mean of non-slashed inbound edge weights;
// otherwise it aggregates votes on target over paths from viewer, falling
// back to the unweighted inbound mean if no path exists. Returned value is
// fixed-point scaled by 1e6.
func (g *TrustGraph) WeightedReputation(viewer, target Address, maxDepth int) (int64, bool, error) {
	if viewer == target {
		return g.unweightedInboundMean(target)
	}

	paths, err := g.FindPaths(viewer, target, maxDepth)
	if err != nil {
		return 0, false, err
	}
	if len(paths) == 0 {
		return g.unweightedInboundMean(target)
	}

	votes, err := g.VotesForTarget(target)
	if err != nil {
		return 0, false, err
	}

	var numerator, denominator int64
	for _, v := range votes {
		if v.Slashed {
			continue
		}
		for _, p := range paths {
			numerator += int64(v.Weight) * p.WeightScaled
			denominator += p.WeightScaled
		}
	}
	if denominator == 0 {
		return g.unweightedInboundMean(target)
	}
	return numerator / denominator, true, nil
}

func (g *TrustGraph) unweightedInboundMean(target Address) (int64, bool, error) {
	edges, err := g.Incoming(target)
	if err != nil {
		return 0, false, err
	}
	var sum int64
	var n int64
	for _, e := range edges {
		if e.Slashed {
			continue
		}
		sum += int64(e.Weight) * weightScale
		n++
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / n, true, nil
}

// StateHash implements spec §4.9's trust-graph state hash used for peer
// sync: H(total_edges || total_votes || total_disputes || slashed_votes).
func (g *TrustGraph) StateHash(totalDisputes uint64) (Hash, error) {
	var totalEdges, totalVotes, slashedVotes uint64
	it := g.store.Iterator([]byte("TRUST/"))
	for it.Next() {
		totalEdges++
	}
	it.Close()
	if err := it.Error(); err != nil {
		return Hash{}, err
	}
	it = g.store.Iterator([]byte("VOTE/"))
	for it.Next() {
		totalVotes++
		var v BondedVote
		if json.Unmarshal(it.Value(), &v) == nil && v.Slashed {
			slashedVotes++
		}
	}
	it.Close()
	if err := it.Error(); err != nil {
		return Hash{}, err
	}
	return consensusHash(totalEdges, totalVotes, totalDisputes, slashedVotes), nil
}
