// Package referral keeps the upline graph used for commission payouts.
package referral

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidReferral = errors.New("invalid referral")
	ErrAlreadyReferral = errors.New("already a referral")
	ErrAlreadySet      = errors.New("referral already set")
	ErrReferralCycle   = errors.New("referral cycle")
)

// Graph stores at most one upline per participant
type Graph struct {
	eligible map[common.Address]struct{}
	uplines  map[common.Address]common.Address
}

// State is the serializable form of a Graph
type State struct {
	Eligible []common.Address                  `json:"eligible"`
	Uplines  map[common.Address]common.Address `json:"uplines"`
}

// NewGraph creates an empty referral graph
func NewGraph() *Graph {
	return &Graph{
		eligible: make(map[common.Address]struct{}),
		uplines:  make(map[common.Address]common.Address),
	}
}

// Become marks addr as eligible to be named as someone's upline
func (g *Graph) Become(addr common.Address) error {
	if _, ok := g.eligible[addr]; ok {
		return ErrAlreadyReferral
	}
	g.eligible[addr] = struct{}{}
	return nil
}

// Validate checks whether caller may bind target as upline without changing the graph
func (g *Graph) Validate(caller, target common.Address) error {
	if target == (common.Address{}) || target == caller || !g.IsReferral(target) {
		return ErrInvalidReferral
	}
	if _, ok := g.uplines[caller]; ok {
		return ErrAlreadySet
	}
	if up, ok := g.uplines[target]; ok && up == caller {
		return ErrReferralCycle
	}
	return nil
}

// Register binds caller to target
func (g *Graph) Register(caller, target common.Address) error {
	if err := g.Validate(caller, target); err != nil {
		return err
	}
	g.uplines[caller] = target
	return nil
}

// UplineOf returns the upline of addr if one is set
func (g *Graph) UplineOf(addr common.Address) (common.Address, bool) {
	up, ok := g.uplines[addr]
	return up, ok
}

// IsReferral reports whether addr registered through Become
func (g *Graph) IsReferral(addr common.Address) bool {
	_, ok := g.eligible[addr]
	return ok
}

// Chain walks up to depth uplines starting from subject's own upline
func (g *Graph) Chain(subject common.Address, depth int) []common.Address {
	chain := make([]common.Address, 0, depth)
	cur := subject
	for len(chain) < depth {
		up, ok := g.uplines[cur]
		if !ok {
			break
		}
		chain = append(chain, up)
		cur = up
	}
	return chain
}

// State returns a copy of the graph contents
func (g *Graph) State() State {
	s := State{
		Eligible: make([]common.Address, 0, len(g.eligible)),
		Uplines:  make(map[common.Address]common.Address, len(g.uplines)),
	}
	for addr := range g.eligible {
		s.Eligible = append(s.Eligible, addr)
	}
	for k, v := range g.uplines {
		s.Uplines[k] = v
	}
	return s
}

// FromState rebuilds a graph from a saved State
func FromState(s State) *Graph {
	g := NewGraph()
	for _, addr := range s.Eligible {
		g.eligible[addr] = struct{}{}
	}
	for k, v := range s.Uplines {
		g.uplines[k] = v
	}
	return g
}
