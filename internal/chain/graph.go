// Package chain detects multi-hop money-movement patterns within a bounded
// time window.
package chain

import (
	"strings"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// node is one transaction in the window graph.
type node struct {
	id           string
	timestamp    time.Time
	counterparty string
	amount       float64
	kind         nodeKind
}

type nodeKind int

const (
	kindCredit nodeKind = iota
	kindRefund
	kindTransfer
	kindOther
)

var refundTypes = map[string]bool{
	"refund":   true,
	"reversal": true,
}

var transferTypes = map[string]bool{
	"transfer":   true,
	"wire":       true,
	"ach":        true,
	"payment":    true,
	"debit":      true,
	"outgoing":   true,
	"withdrawal": true,
}

// graph is the bounded-window view of an account's money movement: an arena
// of nodes ordered by timestamp with per-kind index slices so each scanner
// walks the window once.
type graph struct {
	nodes []node

	credits   []int
	refunds   []int
	transfers []int
	debits    []int // refunds and transfers combined, in time order
}

// buildGraph constructs the window graph from transactions already
// restricted to [asOf-window, asOf) and ordered by timestamp ascending.
// Construction is a single pass: linear in the windowed transaction count.
func buildGraph(txs []*domain.Transaction, excludeID string) *graph {
	g := &graph{nodes: make([]node, 0, len(txs))}
	for _, tx := range txs {
		if tx.ID == excludeID {
			continue
		}
		n := node{
			id:           tx.ID,
			timestamp:    tx.Timestamp,
			counterparty: tx.CounterpartyID,
			amount:       tx.Amount,
			kind:         classify(tx),
		}
		idx := len(g.nodes)
		g.nodes = append(g.nodes, n)

		switch n.kind {
		case kindCredit:
			g.credits = append(g.credits, idx)
		case kindRefund:
			g.refunds = append(g.refunds, idx)
			g.debits = append(g.debits, idx)
		case kindTransfer:
			g.transfers = append(g.transfers, idx)
			g.debits = append(g.debits, idx)
		}
	}
	return g
}

func classify(tx *domain.Transaction) nodeKind {
	typ := strings.ToLower(tx.Type)
	switch {
	case refundTypes[typ]:
		return kindRefund
	case tx.IsCredit():
		return kindCredit
	case transferTypes[typ]:
		return kindTransfer
	case tx.IsDebit():
		return kindTransfer
	default:
		return kindOther
	}
}

// firstAfter returns the position in indices of the first index whose node
// is strictly after t, starting the search at from. Indices are time-ordered,
// so repeated calls with nondecreasing t advance monotonically.
func (g *graph) firstAfter(indices []int, from int, t time.Time) int {
	for from < len(indices) && !g.nodes[indices[from]].timestamp.After(t) {
		from++
	}
	return from
}
