package platform

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
	"github.com/xtrntr/tradingplatform/internal/pricing"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	token    = common.HexToAddress("0x0000000000000000000000000000000000000070")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	escrow   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	dave     = common.HexToAddress("0x00000000000000000000000000000000000000d0")

	initialPrice = math.NewInt(10_000_000_000_000)
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type adminSet map[common.Address]bool

func (a adminSet) IsAdmin(addr common.Address) bool { return a[addr] }

// flakyLedger fails every Apply while broken is set
type flakyLedger struct {
	*ledger.Memory
	broken bool
}

func (f *flakyLedger) Apply(postings ...ledger.Posting) error {
	if f.broken {
		return errors.New("ledger unavailable")
	}
	return f.Memory.Apply(postings...)
}

func testConfig(supply math.Int) Config {
	return Config{
		InitialPrice:  initialPrice,
		InitialSupply: supply,
		RoundDuration: DefaultRoundDuration,
		Token:         token,
		Treasury:      treasury,
		Escrow:        escrow,
	}
}

func newTestEngine(t *testing.T, supply math.Int, opts ...Option) (*Engine, *flakyLedger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := &flakyLedger{Memory: ledger.NewMemory()}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, _, err := New(testConfig(supply), l, adminSet{admin: true}, opts...)
	require.NoError(t, err)
	return e, l, clock
}

func fund(t *testing.T, l *flakyLedger, addr common.Address, wei math.Int) {
	t.Helper()
	require.NoError(t, l.Apply(ledger.Credit(addr, wei)))
}

func maxUint256() math.Int {
	return math.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))
}

func assertInt(t *testing.T, expected, actual math.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, expected.Equal(actual), append([]interface{}{"expected %s, got %s", expected, actual}, msgAndArgs...)...)
}

func kinds(events []models.Envelope) []models.EventKind {
	out := make([]models.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

// toTrade sells nothing, lets the sale round lapse and opens a trade round
func toTrade(t *testing.T, e *Engine, clock *fakeClock) {
	t.Helper()
	clock.Advance(DefaultRoundDuration)
	_, err := e.StartTradeRound(admin)
	require.NoError(t, err)
}

func TestNew_InitialState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.NewMemory()
	e, events, err := New(testConfig(models.Tokens(100_000)), l, adminSet{}, WithClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, models.RoundSale, e.State())
	round := e.Round()
	assert.Equal(t, uint64(1), round.RoundNumber)
	assert.Equal(t, uint8(1), round.StateCode)
	assert.Equal(t, token, round.TokenAddress)
	assertInt(t, initialPrice, round.SaleTokenPrice)
	assertInt(t, models.Tokens(100_000), round.AvailableTokens)
	assert.True(t, round.BoughtTokens.IsZero())
	assert.Equal(t, clock.now.Add(DefaultRoundDuration), round.RoundEndsAt)
	assertInt(t, models.Tokens(100_000), l.TokenBalance(treasury))

	require.Len(t, events, 1)
	assert.Equal(t, models.KindSaleRoundStarted, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.NoError(t, e.Audit())
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "ZeroPrice", mutate: func(c *Config) { c.InitialPrice = math.ZeroInt() }},
		{name: "NilPrice", mutate: func(c *Config) { c.InitialPrice = math.Int{} }},
		{name: "NoDuration", mutate: func(c *Config) { c.RoundDuration = 0 }},
		{name: "NoTreasury", mutate: func(c *Config) { c.Treasury = common.Address{} }},
		{name: "SharedEscrow", mutate: func(c *Config) { c.Escrow = c.Treasury }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(models.Tokens(1))
			tt.mutate(&cfg)
			_, _, err := New(cfg, ledger.NewMemory(), adminSet{})
			assert.Error(t, err)
		})
	}
}

func TestBuyTokensFromContract(t *testing.T) {
	cost := initialPrice.MulRaw(100)

	tests := []struct {
		name        string
		amount      math.Int
		value       math.Int
		funds       math.Int
		expectError error
	}{
		{
			name:   "Success",
			amount: models.Tokens(100),
			value:  cost,
			funds:  cost,
		},
		{
			name:        "OneWeiShort",
			amount:      models.Tokens(100),
			value:       cost.SubRaw(1),
			funds:       cost,
			expectError: ErrInsufficientPayment,
		},
		{
			name:        "ZeroAmount",
			amount:      math.ZeroInt(),
			value:       cost,
			funds:       cost,
			expectError: ErrInvalidAmount,
		},
		{
			name:        "MissingValue",
			amount:      models.Tokens(1),
			value:       math.Int{},
			funds:       cost,
			expectError: ErrInsufficientPayment,
		},
		{
			name:        "ExceedsBatch",
			amount:      models.Tokens(100_001),
			value:       initialPrice.MulRaw(100_001),
			funds:       initialPrice.MulRaw(100_001),
			expectError: ErrInsufficientSupply,
		},
		{
			name:        "BuyerCannotPay",
			amount:      models.Tokens(100),
			value:       cost,
			funds:       cost.SubRaw(1),
			expectError: ledger.ErrInsufficientBalance,
		},
		{
			name:        "MaxValueUnfunded",
			amount:      models.Tokens(100),
			value:       maxUint256(),
			funds:       cost,
			expectError: ledger.ErrInsufficientBalance,
		},
		{
			name:        "MaxValueFunded",
			amount:      models.Tokens(100),
			value:       maxUint256(),
			funds:       maxUint256(),
			expectError: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, l, _ := newTestEngine(t, models.Tokens(100_000))
			fund(t, l, alice, tt.funds)
			before := e.Economics()

			events, err := e.BuyTokensFromContract(alice, tt.amount, tt.value)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				after := e.Economics()
				assertInt(t, before.BoughtTokens, after.BoughtTokens)
				assertInt(t, before.SaleAccumulated, after.SaleAccumulated)
				assertInt(t, tt.funds, l.CoinBalance(alice))
				assert.True(t, l.TokenBalance(alice).IsZero())
				return
			}
			require.NoError(t, err)

			after := e.Economics()
			assertInt(t, models.Tokens(100), after.BoughtTokens)
			assertInt(t, cost, after.SaleAccumulated)
			assert.True(t, after.TradeVolume.IsZero())
			assertInt(t, models.Tokens(100), l.TokenBalance(alice))
			assertInt(t, cost, l.CoinBalance(treasury))
			assert.Equal(t, []models.EventKind{models.KindTokensBoughtFromSale}, kinds(events))
			assert.NoError(t, e.Audit())
		})
	}
}

func TestBuyTokensFromContract_ReferralFees(t *testing.T) {
	e, l, _ := newTestEngine(t, models.Tokens(100_000))
	_, err := e.BecomeAReferral(bob)
	require.NoError(t, err)
	_, err = e.BecomeAReferral(carol)
	require.NoError(t, err)
	_, err = e.RegisterAReferral(alice, bob)
	require.NoError(t, err)
	_, err = e.RegisterAReferral(bob, carol)
	require.NoError(t, err)

	gross := initialPrice.MulRaw(100)
	fund(t, l, alice, gross)

	events, err := e.BuyTokensFromContract(alice, models.Tokens(100), gross)
	require.NoError(t, err)

	first := gross.MulRaw(5).QuoRaw(100)
	second := gross.MulRaw(3).QuoRaw(100)
	assertInt(t, first, l.CoinBalance(bob))
	assertInt(t, second, l.CoinBalance(carol))
	assertInt(t, gross.Sub(first).Sub(second), l.CoinBalance(treasury))
	assert.True(t, first.Add(second).LTE(gross))

	assert.Equal(t, []models.EventKind{
		models.KindFeeTransferredToReferral,
		models.KindFeeTransferredToReferral,
		models.KindTokensBoughtFromSale,
	}, kinds(events))
	fee := events[0].Payload.(models.FeeTransferredToReferral)
	assert.Equal(t, bob, fee.Referral)
	assert.Equal(t, alice, fee.Subject)
	assert.Equal(t, 1, fee.Tier)
}

func TestBuyTokensFromContract_RoundGuards(t *testing.T) {
	e, l, clock := newTestEngine(t, models.Tokens(100_000))
	cost := initialPrice.MulRaw(1)
	fund(t, l, alice, cost.MulRaw(10))

	clock.Advance(DefaultRoundDuration)
	_, err := e.BuyTokensFromContract(alice, models.Tokens(1), cost)
	assert.ErrorIs(t, err, ErrRoundExpiredUnrolled)
	assert.Equal(t, models.RoundSale, e.State(), "an expired round must not roll over on its own")

	_, err = e.StartTradeRound(admin)
	require.NoError(t, err)
	_, err = e.BuyTokensFromContract(alice, models.Tokens(1), cost)
	assert.ErrorIs(t, err, ErrWrongRound)
}

func TestStartTradeRound(t *testing.T) {
	e, l, clock := newTestEngine(t, models.Tokens(100_000))
	fund(t, l, alice, initialPrice.MulRaw(250))
	_, err := e.BuyTokensFromContract(alice, models.Tokens(250), initialPrice.MulRaw(250))
	require.NoError(t, err)

	_, err = e.StartTradeRound(alice)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.StartTradeRound(admin)
	assert.ErrorIs(t, err, ErrRoundNotEnded)
	assert.Equal(t, models.RoundSale, e.State())

	clock.Advance(DefaultRoundDuration)
	events, err := e.StartTradeRound(admin)
	require.NoError(t, err)

	assert.Equal(t, []models.EventKind{models.KindSaleRoundFinished, models.KindTradeRoundStarted}, kinds(events))
	econ := e.Economics()
	assert.Equal(t, models.RoundTrade, e.State())
	assertInt(t, econ.AvailableTokens.Sub(econ.BoughtTokens), econ.BurnedTokens)
	assertInt(t, models.Tokens(100_000-250), econ.BurnedTokens)
	assert.True(t, econ.TradeVolume.IsZero())
	assert.Equal(t, clock.now.Add(DefaultRoundDuration), econ.RoundEndsAt)
	assert.True(t, l.TokenBalance(treasury).IsZero())
	assertInt(t, models.Tokens(250), l.TotalSupply())

	finished := events[0].Payload.(models.SaleRoundFinished)
	assertInt(t, models.Tokens(100_000-250), finished.Burned)

	_, err = e.StartTradeRound(admin)
	assert.ErrorIs(t, err, ErrWrongRound)
}

func TestStartTradeRound_SoldOutEndsEarly(t *testing.T) {
	e, l, _ := newTestEngine(t, models.Tokens(10))
	fund(t, l, alice, initialPrice.MulRaw(10))
	_, err := e.BuyTokensFromContract(alice, models.Tokens(10), initialPrice.MulRaw(10))
	require.NoError(t, err)

	_, err = e.StartTradeRound(admin)
	require.NoError(t, err)
	assert.Equal(t, models.RoundTrade, e.State())
	assert.True(t, e.Economics().BurnedTokens.IsZero())
}

func TestStartTradeRound_BurnFailureRollsBack(t *testing.T) {
	e, l, clock := newTestEngine(t, models.Tokens(10))
	clock.Advance(DefaultRoundDuration)
	before := e.Economics()

	l.broken = true
	_, err := e.StartTradeRound(admin)
	assert.Error(t, err)
	assert.Equal(t, models.RoundSale, e.State())
	assert.Equal(t, before.RoundEndsAt, e.Economics().RoundEndsAt)

	l.broken = false
	_, err = e.StartTradeRound(admin)
	assert.NoError(t, err)
}

func TestCreateSellOrder(t *testing.T) {
	e, l, clock := newTestEngine(t, models.Tokens(100_000))
	fund(t, l, alice, initialPrice.MulRaw(100))
	_, err := e.BuyTokensFromContract(alice, models.Tokens(100), initialPrice.MulRaw(100))
	require.NoError(t, err)

	_, _, err = e.CreateSellOrder(alice, models.Tokens(10), initialPrice)
	assert.ErrorIs(t, err, ErrWrongRound)

	toTrade(t, e, clock)

	tests := []struct {
		name        string
		amount      math.Int
		price       math.Int
		expectError error
	}{
		{name: "ZeroAmount", amount: math.ZeroInt(), price: initialPrice, expectError: ErrInvalidAmount},
		{name: "ZeroPrice", amount: models.Tokens(1), price: math.ZeroInt(), expectError: ErrInvalidAmount},
		{name: "MoreThanHeld", amount: models.Tokens(101), price: initialPrice, expectError: ledger.ErrInsufficientBalance},
		{name: "Success", amount: models.Tokens(60), price: initialPrice.MulRaw(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, events, err := e.CreateSellOrder(alice, tt.amount, tt.price)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Empty(t, e.Orders())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(1), order.ID)
			assert.Equal(t, models.OrderActive, order.State)
			assert.Equal(t, alice, order.Creator)
			assertInt(t, tt.amount, l.TokenBalance(escrow))
			assertInt(t, models.Tokens(40), l.TokenBalance(alice))
			assert.Equal(t, []models.EventKind{models.KindNewSellOrder}, kinds(events))
		})
	}

	clock.Advance(DefaultRoundDuration)
	_, _, err = e.CreateSellOrder(alice, models.Tokens(1), initialPrice)
	assert.ErrorIs(t, err, ErrRoundExpiredUnrolled)
	assert.NoError(t, e.Audit())
}

// seller owns 5000 tokens and has a two-tier referral chain; the engine is in a trade round
func setupTrade(t *testing.T) (*Engine, *flakyLedger, *fakeClock) {
	t.Helper()
	e, l, clock := newTestEngine(t, models.Tokens(100_000))

	for _, addr := range []common.Address{bob, carol} {
		_, err := e.BecomeAReferral(addr)
		require.NoError(t, err)
	}
	_, err := e.RegisterAReferral(alice, bob)
	require.NoError(t, err)
	_, err = e.RegisterAReferral(bob, carol)
	require.NoError(t, err)

	fund(t, l, alice, initialPrice.MulRaw(5000))
	_, err = e.BuyTokensFromContract(alice, models.Tokens(5000), initialPrice.MulRaw(5000))
	require.NoError(t, err)
	toTrade(t, e, clock)
	return e, l, clock
}

func TestBuyTokensFromOrder_PartialFillWithReferrals(t *testing.T) {
	e, l, _ := setupTrade(t)
	price := initialPrice

	order, _, err := e.CreateSellOrder(alice, models.Tokens(5000), price)
	require.NoError(t, err)

	payment := price.MulRaw(777)
	fund(t, l, dave, payment)
	bobBefore, carolBefore, aliceBefore := l.CoinBalance(bob), l.CoinBalance(carol), l.CoinBalance(alice)

	events, err := e.BuyTokensFromOrder(dave, order.ID, models.Tokens(777), payment)
	require.NoError(t, err)

	share := payment.MulRaw(25).QuoRaw(1000)
	assertInt(t, share, l.CoinBalance(bob).Sub(bobBefore))
	assertInt(t, share, l.CoinBalance(carol).Sub(carolBefore))
	assertInt(t, payment.MulRaw(95).QuoRaw(100), l.CoinBalance(alice).Sub(aliceBefore))
	assert.True(t, l.CoinBalance(dave).IsZero(), "buyer pays exactly 777 * price")
	assertInt(t, models.Tokens(777), l.TokenBalance(dave))

	filled, ok := e.Order(order.ID)
	require.True(t, ok)
	assertInt(t, models.Tokens(777), filled.FilledTokens)
	assert.Equal(t, models.OrderActive, filled.State)
	assertInt(t, models.Tokens(5000-777), l.TokenBalance(escrow))
	assertInt(t, payment, e.Economics().TradeVolume)

	assert.Equal(t, []models.EventKind{
		models.KindFeeTransferredToReferral,
		models.KindFeeTransferredToReferral,
		models.KindTokensBoughtFromOrder,
	}, kinds(events))
	bought := events[2].Payload.(models.TokensBoughtFromOrder)
	assert.Equal(t, alice, bought.Creator)
	assert.Equal(t, dave, bought.Buyer)
	assert.NoError(t, e.Audit())
}

func TestBuyTokensFromOrder_Errors(t *testing.T) {
	e, l, clock := setupTrade(t)
	order, _, err := e.CreateSellOrder(alice, models.Tokens(10), initialPrice)
	require.NoError(t, err)
	fund(t, l, dave, initialPrice.MulRaw(100))

	tests := []struct {
		name        string
		orderID     uint64
		amount      math.Int
		value       math.Int
		expectError error
	}{
		{name: "UnknownOrder", orderID: 42, amount: models.Tokens(1), value: initialPrice, expectError: ErrOrderNotFillable},
		{name: "Overfill", orderID: order.ID, amount: models.Tokens(11), value: initialPrice.MulRaw(11), expectError: ErrOrderNotFillable},
		{name: "ZeroAmount", orderID: order.ID, amount: math.ZeroInt(), value: initialPrice, expectError: ErrInvalidAmount},
		{name: "Underpaid", orderID: order.ID, amount: models.Tokens(2), value: initialPrice.MulRaw(2).SubRaw(1), expectError: ErrInsufficientPayment},
		{name: "MaxValue", orderID: order.ID, amount: models.Tokens(1), value: maxUint256(), expectError: ledger.ErrInsufficientBalance},
		{name: "FillAll", orderID: order.ID, amount: models.Tokens(10), value: initialPrice.MulRaw(10)},
		{name: "Exhausted", orderID: order.ID, amount: models.Tokens(1), value: initialPrice, expectError: ErrOrderNotFillable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			volume := e.Economics().TradeVolume
			_, err := e.BuyTokensFromOrder(dave, tt.orderID, tt.amount, tt.value)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assertInt(t, volume, e.Economics().TradeVolume)
				return
			}
			require.NoError(t, err)
			filled, _ := e.Order(order.ID)
			assert.Equal(t, models.OrderFilled, filled.State)
			assertInt(t, filled.TotalTokens, filled.FilledTokens)
		})
	}

	clock.Advance(DefaultRoundDuration)
	_, err = e.BuyTokensFromOrder(dave, order.ID, models.Tokens(1), initialPrice)
	assert.ErrorIs(t, err, ErrRoundExpiredUnrolled)
	assert.NoError(t, e.Audit())
}

func TestBuyTokensFromOrder_SettlementFailureRollsBack(t *testing.T) {
	e, l, _ := setupTrade(t)
	order, _, err := e.CreateSellOrder(alice, models.Tokens(10), initialPrice)
	require.NoError(t, err)
	fund(t, l, dave, initialPrice.MulRaw(10))

	l.broken = true
	_, err = e.BuyTokensFromOrder(dave, order.ID, models.Tokens(5), initialPrice.MulRaw(5))
	assert.Error(t, err)
	l.broken = false

	unchanged, _ := e.Order(order.ID)
	assert.True(t, unchanged.FilledTokens.IsZero())
	assert.True(t, e.Economics().TradeVolume.IsZero())
	assert.NoError(t, e.Audit())
}

func TestStartSaleRound(t *testing.T) {
	e, l, clock := setupTrade(t)
	order, _, err := e.CreateSellOrder(alice, models.Tokens(1000), initialPrice.MulRaw(3))
	require.NoError(t, err)
	payment := initialPrice.MulRaw(3 * 400)
	fund(t, l, dave, payment)
	_, err = e.BuyTokensFromOrder(dave, order.ID, models.Tokens(400), payment)
	require.NoError(t, err)

	_, err = e.StartSaleRound(dave)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = e.StartSaleRound(admin)
	assert.ErrorIs(t, err, ErrRoundNotEnded)

	clock.Advance(DefaultRoundDuration)
	prev := e.Economics()
	supplyBefore := l.TotalSupply()

	events, err := e.StartSaleRound(admin)
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.KindTradeRoundFinished, models.KindSaleRoundStarted}, kinds(events))

	econ := e.Economics()
	expectedPrice := pricing.Default(prev.SaleTokenPrice, payment)
	expectedSupply := payment.Mul(models.Scale).Quo(expectedPrice)
	assert.Equal(t, models.RoundSale, e.State())
	assert.Equal(t, uint64(2), econ.RoundNumber)
	assertInt(t, expectedPrice, econ.SaleTokenPrice)
	assertInt(t, expectedSupply, econ.AvailableTokens)
	assert.True(t, econ.BoughtTokens.IsZero())
	assert.True(t, econ.SaleAccumulated.IsZero())
	assert.True(t, econ.TradeVolume.IsZero())
	assertInt(t, supplyBefore.Add(expectedSupply), l.TotalSupply())

	finished := events[0].Payload.(models.TradeRoundFinished)
	assert.Equal(t, uint64(1), finished.Round)
	assertInt(t, payment, finished.Traded)

	_, err = e.StartSaleRound(admin)
	assert.ErrorIs(t, err, ErrWrongRound)

	// unfilled orders carry over to the next trade round
	clock.Advance(DefaultRoundDuration)
	_, err = e.StartTradeRound(admin)
	require.NoError(t, err)
	fund(t, l, dave, initialPrice.MulRaw(3))
	_, err = e.BuyTokensFromOrder(dave, order.ID, models.Tokens(1), initialPrice.MulRaw(3))
	assert.NoError(t, err)
}

func TestStartSaleRound_NoVolume(t *testing.T) {
	e, _, clock := newTestEngine(t, models.Tokens(10))
	toTrade(t, e, clock)
	clock.Advance(DefaultRoundDuration)

	_, err := e.StartSaleRound(admin)
	require.NoError(t, err)
	econ := e.Economics()
	assert.True(t, econ.AvailableTokens.IsZero())
	assert.True(t, econ.SaleTokenPrice.GTE(initialPrice))

	// an empty batch counts as sold out
	_, err = e.StartTradeRound(admin)
	assert.NoError(t, err)
}

func TestTradeVolume_OnlyCountsOrderFills(t *testing.T) {
	e, l, clock := newTestEngine(t, models.Tokens(100_000))
	fund(t, l, alice, initialPrice.MulRaw(50))
	_, err := e.BuyTokensFromContract(alice, models.Tokens(50), initialPrice.MulRaw(50))
	require.NoError(t, err)
	assert.True(t, e.Economics().TradeVolume.IsZero())

	toTrade(t, e, clock)
	assert.True(t, e.Economics().TradeVolume.IsZero())

	order, _, err := e.CreateSellOrder(alice, models.Tokens(50), initialPrice)
	require.NoError(t, err)
	fund(t, l, bob, initialPrice.MulRaw(5))
	_, err = e.BuyTokensFromOrder(bob, order.ID, models.Tokens(5), initialPrice.MulRaw(5))
	require.NoError(t, err)
	assertInt(t, initialPrice.MulRaw(5), e.Economics().TradeVolume)
}

func TestWithPricing(t *testing.T) {
	var gotPrev, gotVolume math.Int
	flat := func(prev, volume math.Int) math.Int {
		gotPrev, gotVolume = prev, volume
		return prev.MulRaw(2)
	}
	e, _, clock := newTestEngine(t, models.Tokens(10), WithPricing(flat))

	assertInt(t, initialPrice.MulRaw(2), e.NextRoundPrice(initialPrice))

	toTrade(t, e, clock)
	clock.Advance(DefaultRoundDuration)
	_, err := e.StartSaleRound(admin)
	require.NoError(t, err)
	assertInt(t, initialPrice, gotPrev)
	assert.True(t, gotVolume.IsZero())
	assertInt(t, initialPrice.MulRaw(2), e.Economics().SaleTokenPrice)
}

func TestReferrals(t *testing.T) {
	e, _, _ := newTestEngine(t, models.Tokens(10))

	assert.Equal(t, common.Address{}, e.ReferralOf(alice))
	_, err := e.RegisterAReferral(alice, bob)
	assert.ErrorIs(t, err, ErrInvalidReferral)

	_, err = e.BecomeAReferral(bob)
	require.NoError(t, err)
	_, err = e.BecomeAReferral(bob)
	assert.ErrorIs(t, err, ErrAlreadyReferral)
	assert.True(t, e.IsReferral(bob))

	events, err := e.RegisterAReferral(alice, bob)
	require.NoError(t, err)
	require.Len(t, events, 1)
	set := events[0].Payload.(models.ReferralSet)
	assert.Equal(t, alice, set.Participant)
	assert.Equal(t, bob, set.Referral)
	assert.Equal(t, bob, e.ReferralOf(alice))

	_, err = e.BecomeAReferral(alice)
	require.NoError(t, err)
	_, err = e.RegisterAReferral(bob, alice)
	assert.ErrorIs(t, err, ErrReferralCycle)

	_, err = e.BecomeAReferral(carol)
	require.NoError(t, err)
	_, err = e.RegisterAReferral(alice, carol)
	assert.ErrorIs(t, err, ErrAlreadySet)
	assert.Equal(t, bob, e.ReferralOf(alice))
}

func TestDepositWithdraw(t *testing.T) {
	e, l, _ := newTestEngine(t, models.Tokens(10))

	_, err := e.Deposit(alice, math.ZeroInt())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	events, err := e.Deposit(alice, math.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.KindCoinsDeposited}, kinds(events))

	_, err = e.Withdraw(alice, math.NewInt(101))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = e.Withdraw(alice, math.NewInt(60))
	require.NoError(t, err)
	assertInt(t, math.NewInt(40), l.CoinBalance(alice))
}

func TestQueriesAreIdempotent(t *testing.T) {
	e, _, _ := setupTrade(t)
	_, _, err := e.CreateSellOrder(alice, models.Tokens(5), initialPrice)
	require.NoError(t, err)

	assert.Equal(t, e.Round(), e.Round())
	assert.Equal(t, e.Orders(), e.Orders())
	assert.Equal(t, e.OrderBook(), e.OrderBook())
	assert.Equal(t, e.ReferralOf(alice), e.ReferralOf(alice))
}

func TestSnapshotRestore(t *testing.T) {
	e, _, clock := setupTrade(t)
	_, _, err := e.CreateSellOrder(alice, models.Tokens(100), initialPrice)
	require.NoError(t, err)

	raw, err := json.Marshal(e.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	l := &flakyLedger{Memory: ledger.NewMemory()}
	restored, err := Restore(snap, testConfig(models.Tokens(100_000)), l, adminSet{admin: true}, WithClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, models.RoundTrade, restored.State())
	assert.Equal(t, e.ReferralOf(alice), restored.ReferralOf(alice))
	assert.True(t, restored.IsReferral(carol))
	require.Len(t, restored.Orders(), 1)
	assertInt(t, models.Tokens(100), l.TokenBalance(escrow))
	assert.NoError(t, restored.Audit())

	fund(t, l, dave, initialPrice)
	events, err := restored.BuyTokensFromOrder(dave, 1, models.Tokens(1), initialPrice)
	require.NoError(t, err)
	assert.Equal(t, snap.Seq+uint64(len(events)), events[len(events)-1].Seq)

	_, err = Restore(Snapshot{}, testConfig(models.Tokens(1)), l, adminSet{})
	assert.Error(t, err)
}
