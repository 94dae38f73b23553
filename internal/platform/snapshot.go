package platform

import (
	"fmt"
	"time"

	"github.com/xtrntr/tradingplatform/internal/exchange"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
	"github.com/xtrntr/tradingplatform/internal/referral"
)

// Snapshot is a point-in-time copy of the engine, and of its ledger when the ledger supports it
type Snapshot struct {
	Seq       uint64            `json:"seq"`
	State     models.RoundState `json:"state"`
	Economics models.Economics  `json:"economics"`
	Orders    exchange.State    `json:"orders"`
	Referrals referral.State    `json:"referrals"`
	Ledger    *ledger.State     `json:"ledger,omitempty"`
	TakenAt   time.Time         `json:"taken_at"`
}

type ledgerStater interface {
	State() ledger.State
}

type ledgerRestorer interface {
	Restore(ledger.State)
}

// Snapshot captures the current state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Seq:       e.seq,
		State:     e.state,
		Economics: e.econ,
		Orders:    e.book.State(),
		Referrals: e.referrals.State(),
		TakenAt:   e.now(),
	}
	if ls, ok := e.ledger.(ledgerStater); ok {
		st := ls.State()
		snap.Ledger = &st
	}
	return snap
}

// Restore rebuilds an engine from snap. If snap carries ledger balances and l can restore
// them, l is overwritten first.
func Restore(snap Snapshot, cfg Config, l Ledger, ac AccessControl, opts ...Option) (*Engine, error) {
	if snap.State == models.RoundNone {
		return nil, fmt.Errorf("snapshot has no round state")
	}
	e, err := newEngine(cfg, l, ac, opts)
	if err != nil {
		return nil, err
	}
	if snap.Ledger != nil {
		if lr, ok := l.(ledgerRestorer); ok {
			lr.Restore(*snap.Ledger)
		}
	}

	e.seq = snap.Seq
	e.state = snap.State
	e.econ = snap.Economics
	e.book = exchange.FromState(snap.Orders)
	e.referrals = referral.FromState(snap.Referrals)
	return e, nil
}
