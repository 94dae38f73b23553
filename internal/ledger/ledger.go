// Package ledger holds token balances and pull-based coin credits, applying batches atomically.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPosting      = errors.New("invalid posting")
)

// Kind identifies what a Posting does
type Kind uint8

const (
	KindMint     Kind = iota + 1 // tokens created on To
	KindBurn                     // tokens destroyed from From
	KindTransfer                 // tokens moved From -> To
	KindCollect                  // coin debited from From
	KindCredit                   // coin credited to To
)

func (k Kind) String() string {
	switch k {
	case KindMint:
		return "mint"
	case KindBurn:
		return "burn"
	case KindTransfer:
		return "transfer"
	case KindCollect:
		return "collect"
	case KindCredit:
		return "credit"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Posting is a single balance change
type Posting struct {
	Kind   Kind
	From   common.Address
	To     common.Address
	Amount math.Int
}

func Mint(to common.Address, amount math.Int) Posting {
	return Posting{Kind: KindMint, To: to, Amount: amount}
}

func Burn(from common.Address, amount math.Int) Posting {
	return Posting{Kind: KindBurn, From: from, Amount: amount}
}

func Transfer(from, to common.Address, amount math.Int) Posting {
	return Posting{Kind: KindTransfer, From: from, To: to, Amount: amount}
}

func Collect(from common.Address, amount math.Int) Posting {
	return Posting{Kind: KindCollect, From: from, Amount: amount}
}

func Credit(to common.Address, amount math.Int) Posting {
	return Posting{Kind: KindCredit, To: to, Amount: amount}
}

// State is the serializable form of a Memory ledger
type State struct {
	Tokens      map[common.Address]math.Int `json:"tokens"`
	Coins       map[common.Address]math.Int `json:"coins"`
	TotalSupply math.Int                    `json:"total_supply"`
}

// Memory is an in-process ledger
type Memory struct {
	mu     sync.RWMutex
	tokens map[common.Address]math.Int
	coins  map[common.Address]math.Int
	supply math.Int
}

// NewMemory creates an empty ledger
func NewMemory() *Memory {
	return &Memory{
		tokens: make(map[common.Address]math.Int),
		coins:  make(map[common.Address]math.Int),
		supply: math.ZeroInt(),
	}
}

// Apply validates every posting against a staged view and commits them all, or none
func (m *Memory) Apply(postings ...Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := make(map[common.Address]math.Int)
	coins := make(map[common.Address]math.Int)
	supply := m.supply

	bal := func(staged, committed map[common.Address]math.Int, addr common.Address) math.Int {
		if v, ok := staged[addr]; ok {
			return v
		}
		return balanceOf(committed, addr)
	}

	for i, p := range postings {
		if p.Amount.IsNil() || p.Amount.IsNegative() {
			return fmt.Errorf("posting %d (%s): %w", i, p.Kind, ErrInvalidPosting)
		}
		switch p.Kind {
		case KindMint:
			tokens[p.To] = bal(tokens, m.tokens, p.To).Add(p.Amount)
			supply = supply.Add(p.Amount)
		case KindBurn:
			from := bal(tokens, m.tokens, p.From)
			if from.LT(p.Amount) {
				return fmt.Errorf("burn %s from %s: %w", p.Amount, p.From.Hex(), ErrInsufficientBalance)
			}
			tokens[p.From] = from.Sub(p.Amount)
			supply = supply.Sub(p.Amount)
		case KindTransfer:
			from := bal(tokens, m.tokens, p.From)
			if from.LT(p.Amount) {
				return fmt.Errorf("transfer %s from %s: %w", p.Amount, p.From.Hex(), ErrInsufficientBalance)
			}
			tokens[p.From] = from.Sub(p.Amount)
			tokens[p.To] = bal(tokens, m.tokens, p.To).Add(p.Amount)
		case KindCollect:
			from := bal(coins, m.coins, p.From)
			if from.LT(p.Amount) {
				return fmt.Errorf("collect %s from %s: %w", p.Amount, p.From.Hex(), ErrInsufficientBalance)
			}
			coins[p.From] = from.Sub(p.Amount)
		case KindCredit:
			coins[p.To] = bal(coins, m.coins, p.To).Add(p.Amount)
		default:
			return fmt.Errorf("posting %d (%s): %w", i, p.Kind, ErrInvalidPosting)
		}
	}

	for addr, v := range tokens {
		m.tokens[addr] = v
	}
	for addr, v := range coins {
		m.coins[addr] = v
	}
	m.supply = supply
	return nil
}

// TokenBalance returns the token balance of addr
func (m *Memory) TokenBalance(addr common.Address) math.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return balanceOf(m.tokens, addr)
}

// CoinBalance returns the withdrawable coin credit of addr
func (m *Memory) CoinBalance(addr common.Address) math.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return balanceOf(m.coins, addr)
}

// TotalSupply returns minted minus burned tokens
func (m *Memory) TotalSupply() math.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply
}

// State returns a copy of all balances
func (m *Memory) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := State{
		Tokens:      make(map[common.Address]math.Int, len(m.tokens)),
		Coins:       make(map[common.Address]math.Int, len(m.coins)),
		TotalSupply: m.supply,
	}
	for k, v := range m.tokens {
		s.Tokens[k] = v
	}
	for k, v := range m.coins {
		s.Coins[k] = v
	}
	return s
}

// Restore replaces all balances with s
func (m *Memory) Restore(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokens = make(map[common.Address]math.Int, len(s.Tokens))
	m.coins = make(map[common.Address]math.Int, len(s.Coins))
	for k, v := range s.Tokens {
		m.tokens[k] = v
	}
	for k, v := range s.Coins {
		m.coins[k] = v
	}
	m.supply = s.TotalSupply
	if m.supply.IsNil() {
		m.supply = math.ZeroInt()
	}
}

func balanceOf(balances map[common.Address]math.Int, addr common.Address) math.Int {
	if v, ok := balances[addr]; ok {
		return v
	}
	return math.ZeroInt()
}
