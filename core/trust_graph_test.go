package core

import "testing"

func addrN(n byte) Address {
	var a Address
	a[19] = n
	return a
}

func TestTrustGraphAddEdgeValidation(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	a, b := addrN(1), addrN(2)

	if _, err := g.AddEdge(a, a, 50, 10_000, Hash{}, 0, "self"); err != ErrSelfEdgeForbidden {
		t.Fatalf("expected ErrSelfEdgeForbidden, got %v", err)
	}
	if _, err := g.AddEdge(a, b, 0, 10_000, Hash{}, 0, "zero"); err != ErrWeightOutOfRange {
		t.Fatalf("expected ErrWeightOutOfRange for zero weight, got %v", err)
	}
	if _, err := g.AddEdge(a, b, 200, 10_000, Hash{}, 0, "oob"); err != ErrWeightOutOfRange {
		t.Fatalf("expected ErrWeightOutOfRange for out-of-range weight, got %v", err)
	}
	if _, err := g.AddEdge(a, b, 50, 1, Hash{}, 0, "underbond"); err != ErrBondInsufficient {
		t.Fatalf("expected ErrBondInsufficient, got %v", err)
	}

	edge, err := g.AddEdge(a, b, 50, requiredBond(50), Hash{}, 0, "ok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edge.From != a || edge.To != b || edge.Weight != 50 {
		t.Fatalf("unexpected edge: %+v", edge)
	}
}

func TestTrustGraphOutgoingIncoming(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	a, b := addrN(1), addrN(2)
	if _, err := g.AddEdge(a, b, 40, requiredBond(40), Hash{}, 0, "ok"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	out, err := g.Outgoing(a)
	if err != nil || len(out) != 1 || out[0].To != b {
		t.Fatalf("unexpected Outgoing result: %+v err=%v", out, err)
	}
	in, err := g.Incoming(b)
	if err != nil || len(in) != 1 || in[0].From != a {
		t.Fatalf("unexpected Incoming result: %+v err=%v", in, err)
	}
}

func TestTrustGraphSlashEdge(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	a, b := addrN(1), addrN(2)
	if _, err := g.AddEdge(a, b, 40, requiredBond(40), Hash{}, 0, "ok"); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if err := g.SlashEdge(a, b, Hash{0xAA}); err != nil {
		t.Fatalf("SlashEdge failed: %v", err)
	}
	out, _ := g.Outgoing(a)
	if !out[0].Slashed {
		t.Fatalf("expected edge to be marked slashed")
	}
	if err := g.SlashEdge(a, addrN(99), Hash{}); err != ErrEdgeNotFound {
		t.Fatalf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestTrustGraphFindPathsRespectsDepthAndSlash(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	a, b, c, d := addrN(1), addrN(2), addrN(3), addrN(4)

	if _, err := g.AddEdge(a, b, 80, requiredBond(80), Hash{}, 0, ""); err != nil {
		t.Fatalf("AddEdge a->b failed: %v", err)
	}
	if _, err := g.AddEdge(b, c, 80, requiredBond(80), Hash{}, 0, ""); err != nil {
		t.Fatalf("AddEdge b->c failed: %v", err)
	}
	if _, err := g.AddEdge(c, d, 80, requiredBond(80), Hash{}, 0, ""); err != nil {
		t.Fatalf("AddEdge c->d failed: %v", err)
	}

	paths, err := g.FindPaths(a, d, 2)
	if err != nil {
		t.Fatalf("FindPaths failed: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no path within depth 2, got %v", paths)
	}

	paths, err = g.FindPaths(a, d, 3)
	if err != nil {
		t.Fatalf("FindPaths failed: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected exactly one path within depth 3, got %v", paths)
	}
}

func TestTrustGraphWeightedReputationFallsBackToInboundMean(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	viewer, target, other := addrN(1), addrN(2), addrN(3)

	if _, err := g.AddEdge(other, target, 60, requiredBond(60), Hash{}, 0, ""); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	rep, found, err := g.WeightedReputation(viewer, target, 3)
	if err != nil {
		t.Fatalf("WeightedReputation failed: %v", err)
	}
	if !found {
		t.Fatalf("expected fallback inbound mean to be found")
	}
	if rep != 60*weightScale {
		t.Fatalf("expected %d, got %d", 60*weightScale, rep)
	}
}

func TestTrustGraphStateHashDeterministic(t *testing.T) {
	g := NewTrustGraph(NewInMemoryStore(), nil, nil)
	a, b := addrN(1), addrN(2)
	if _, err := g.AddEdge(a, b, 40, requiredBond(40), Hash{}, 0, ""); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	h1, err := g.StateHash(5)
	if err != nil {
		t.Fatalf("StateHash failed: %v", err)
	}
	h2, err := g.StateHash(5)
	if err != nil {
		t.Fatalf("StateHash failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("StateHash not deterministic: %v != %v", h1, h2)
	}

	h3, err := g.StateHash(6)
	if err != nil {
		t.Fatalf("StateHash failed: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("expected different totalDisputes to change the hash")
	}
}
