package core

import "sync"

// EventHandler receives a topic and its serialized payload. Components
// broadcast through this instead of a direct P2P transport handle, since
// P2P transport itself is a host collaborator, not something this core
// owns (spec §1).
type EventHandler func(topic string, payload []byte)

var (
	subMu       sync.RWMutex
	subscribers []EventHandler
)

// Subscribe registers h to receive every future Broadcast call, for a
// consumer that wants an audit feed without re-reading the KV store. No
// component in this package subscribes itself.
func Subscribe(h EventHandler) {
	subMu.Lock()
	defer subMu.Unlock()
	subscribers = append(subscribers, h)
}

// Broadcast fans a topic/payload pair out to every subscriber, mirroring
// the teacher's network.go Broadcast(topic, data) call sites in dao.go and
// governance_reputation_voting.go, generalized from a pubsub publish into
// an in-process dispatch since the transport itself is out of scope.
func Broadcast(topic string, payload []byte) {
	subMu.RLock()
	handlers := make([]EventHandler, len(subscribers))
	copy(handlers, subscribers)
	subMu.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Topic names used by components below.
const (
	TopicTrustEdge     = "trust:edge"
	TopicBondedVote    = "trust:vote"
	TopicVoteSlashed   = "trust:slash"
	TopicDisputeOpened = "dao:dispute:open"
	TopicDisputeResolved = "dao:dispute:resolved"
	TopicRewardCreated = "dao:reward:created"
	TopicRewardClaimed = "dao:reward:claimed"
	TopicAnomalyAlert  = "anomaly:alert"
	TopicContractDeployed = "vm:deploy"
)
