// Package platform implements the sale/trade round engine: round transitions, direct sales,
// the escrowed order book, referral registration and commission payouts.
//
// Every exported operation holds the engine lock for its full duration and is all-or-nothing:
// arguments and round rules are checked first, bookkeeping is updated next and ledger
// settlement runs last. If settlement fails, bookkeeping is restored before returning.
package platform

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/xtrntr/tradingplatform/internal/exchange"
	"github.com/xtrntr/tradingplatform/internal/fees"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
	"github.com/xtrntr/tradingplatform/internal/pricing"
	"github.com/xtrntr/tradingplatform/internal/referral"
)

// DefaultRoundDuration applies to both sale and trade rounds
const DefaultRoundDuration = 72 * time.Hour

// Ledger settles token and coin movements atomically
type Ledger interface {
	Apply(postings ...ledger.Posting) error
	TokenBalance(addr common.Address) math.Int
	CoinBalance(addr common.Address) math.Int
}

// AccessControl decides who may run round transitions
type AccessControl interface {
	IsAdmin(addr common.Address) bool
}

// Config holds the construction parameters of an Engine
type Config struct {
	InitialPrice  math.Int // wei per whole token
	InitialSupply math.Int // base units
	RoundDuration time.Duration
	Token         common.Address
	Treasury      common.Address
	Escrow        common.Address
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	if c.InitialPrice.IsNil() || !c.InitialPrice.IsPositive() {
		return fmt.Errorf("initial price must be positive")
	}
	if c.InitialSupply.IsNil() || c.InitialSupply.IsNegative() {
		return fmt.Errorf("initial supply must not be negative")
	}
	if c.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive")
	}
	if c.Treasury == (common.Address{}) || c.Escrow == (common.Address{}) {
		return fmt.Errorf("treasury and escrow addresses are required")
	}
	if c.Treasury == c.Escrow {
		return fmt.Errorf("escrow must be separate from treasury")
	}
	return nil
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPricing replaces the next-round pricing function
func WithPricing(f pricing.Func) Option {
	return func(e *Engine) { e.nextPrice = f }
}

// Engine is the single aggregate root of platform state
type Engine struct {
	mu sync.Mutex

	cfg       Config
	ledger    Ledger
	access    AccessControl
	now       func() time.Time
	nextPrice pricing.Func

	state     models.RoundState
	econ      models.Economics
	book      *exchange.Exchange
	referrals *referral.Graph
	seq       uint64
}

func newEngine(cfg Config, l Ledger, ac AccessControl, opts []Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		ledger:    l,
		access:    ac,
		now:       time.Now,
		nextPrice: pricing.Default,
		book:      exchange.NewExchange(),
		referrals: referral.NewGraph(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// New starts the platform in round 1 of a sale, minting the initial batch to the treasury
func New(cfg Config, l Ledger, ac AccessControl, opts ...Option) (*Engine, []models.Envelope, error) {
	e, err := newEngine(cfg, l, ac, opts)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	e.state = models.RoundSale
	e.econ = models.Economics{
		RoundNumber:     1,
		SaleTokenPrice:  cfg.InitialPrice,
		AvailableTokens: cfg.InitialSupply,
		BoughtTokens:    math.ZeroInt(),
		BurnedTokens:    math.ZeroInt(),
		SaleAccumulated: math.ZeroInt(),
		TradeVolume:     math.ZeroInt(),
		RoundEndsAt:     now.Add(cfg.RoundDuration),
	}
	if cfg.InitialSupply.IsPositive() {
		if err := e.ledger.Apply(ledger.Mint(cfg.Treasury, cfg.InitialSupply)); err != nil {
			return nil, nil, fmt.Errorf("mint initial supply: %w", err)
		}
	}

	events := e.emit(now, models.SaleRoundStarted{
		Round:       e.econ.RoundNumber,
		TokenPrice:  e.econ.SaleTokenPrice,
		TokenSupply: e.econ.AvailableTokens,
		EndsAt:      e.econ.RoundEndsAt,
	})
	return e, events, nil
}

func (e *Engine) emit(at time.Time, events ...models.Event) []models.Envelope {
	out := make([]models.Envelope, 0, len(events))
	for _, ev := range events {
		e.seq++
		out = append(out, models.Envelope{
			ID:      uuid.New(),
			Seq:     e.seq,
			Kind:    ev.Kind(),
			At:      at,
			Payload: ev,
		})
	}
	return out
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if e.access == nil || !e.access.IsAdmin(caller) {
		return ErrAccessDenied
	}
	return nil
}

// requireOpenRound guards purchases and order creation
func (e *Engine) requireOpenRound(want models.RoundState, now time.Time) error {
	if e.state != want {
		return ErrWrongRound
	}
	if !now.Before(e.econ.RoundEndsAt) {
		return ErrRoundExpiredUnrolled
	}
	return nil
}

// distribute builds the coin credits for gross paid on behalf of subject
func (e *Engine) distribute(subject common.Address, s fees.Schedule, gross math.Int, netTo common.Address) ([]ledger.Posting, []models.Event, error) {
	split, err := s.Split(gross, e.referrals.Chain(subject, s.Depth()))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	var postings []ledger.Posting
	var events []models.Event
	for _, p := range split.Referrals {
		postings = append(postings, ledger.Credit(p.Beneficiary, p.Amount))
		events = append(events, models.FeeTransferredToReferral{
			Referral: p.Beneficiary,
			Subject:  subject,
			Tier:     p.Tier,
			Amount:   p.Amount,
		})
	}
	if split.Net.IsPositive() {
		postings = append(postings, ledger.Credit(netTo, split.Net))
	}
	if split.Retained.IsPositive() {
		postings = append(postings, ledger.Credit(e.cfg.Treasury, split.Retained))
	}
	return postings, events, nil
}

// requireFunds fails before any fee arithmetic when payer cannot cover value
func (e *Engine) requireFunds(payer common.Address, value math.Int) error {
	if balance := e.ledger.CoinBalance(payer); value.GT(balance) {
		return fmt.Errorf("collect %s from %s: %w", value, payer.Hex(), ledger.ErrInsufficientBalance)
	}
	return nil
}

func positive(v math.Int) bool {
	return !v.IsNil() && v.IsPositive()
}

// State returns the current round phase
func (e *Engine) State() models.RoundState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Economics returns a copy of the round accumulators
func (e *Engine) Economics() models.Economics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.econ
}

// Round returns the round read model
func (e *Engine) Round() models.RoundView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.RoundView{
		State:        e.state,
		StateCode:    uint8(e.state),
		TokenAddress: e.cfg.Token,
		Economics:    e.econ,
	}
}

// Order returns an order by id
func (e *Engine) Order(orderID uint64) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.GetOrder(orderID)
}

// OrderBook returns the fillable orders, cheapest first
func (e *Engine) OrderBook() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.GetOrderBook()
}

// Orders returns every order ever created
func (e *Engine) Orders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Orders()
}

// ReferralOf returns addr's upline, or the zero address when none is set
func (e *Engine) ReferralOf(addr common.Address) common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	up, _ := e.referrals.UplineOf(addr)
	return up
}

// IsReferral reports whether addr may be named as an upline
func (e *Engine) IsReferral(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.referrals.IsReferral(addr)
}

// NextRoundPrice evaluates the pricing function for prevPrice and the current trade volume
func (e *Engine) NextRoundPrice(prevPrice math.Int) math.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextPrice(prevPrice, e.econ.TradeVolume)
}

// Balances returns addr's token balance and withdrawable coin credit
func (e *Engine) Balances(addr common.Address) (tokens, coins math.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.TokenBalance(addr), e.ledger.CoinBalance(addr)
}

// Audit verifies the cross-component invariants
func (e *Engine) Audit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == models.RoundSale && e.econ.BoughtTokens.GT(e.econ.AvailableTokens) {
		return fmt.Errorf("bought %s exceeds available %s", e.econ.BoughtTokens, e.econ.AvailableTokens)
	}
	for _, order := range e.book.Orders() {
		if order.FilledTokens.GT(order.TotalTokens) {
			return fmt.Errorf("order %d overfilled", order.ID)
		}
		if !e.book.Escrowed(order.ID).Equal(order.Remaining()) {
			return fmt.Errorf("order %d escrow %s does not match remaining %s", order.ID, e.book.Escrowed(order.ID), order.Remaining())
		}
	}
	if held := e.ledger.TokenBalance(e.cfg.Escrow); !held.Equal(e.book.TotalEscrow()) {
		return fmt.Errorf("escrow account holds %s, order book expects %s", held, e.book.TotalEscrow())
	}
	return nil
}
