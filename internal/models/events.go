package models

import (
	"encoding/json"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names a record emitted by the platform
type EventKind string

const (
	KindSaleRoundStarted         EventKind = "sale_round_started"
	KindSaleRoundFinished        EventKind = "sale_round_finished"
	KindTradeRoundStarted        EventKind = "trade_round_started"
	KindTradeRoundFinished       EventKind = "trade_round_finished"
	KindReferralSet              EventKind = "referral_set"
	KindNewSellOrder             EventKind = "new_sell_order"
	KindTokensBoughtFromSale     EventKind = "tokens_bought_from_sale"
	KindTokensBoughtFromOrder    EventKind = "tokens_bought_from_order"
	KindFeeTransferredToReferral EventKind = "fee_transferred_to_referral"
	KindCoinsDeposited           EventKind = "coins_deposited"
	KindCoinsWithdrawn           EventKind = "coins_withdrawn"
)

// Event is implemented by every record payload
type Event interface {
	Kind() EventKind
}

// Envelope wraps an event with its journal position
type Envelope struct {
	ID      uuid.UUID `json:"id"`
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	Payload Event     `json:"payload"`
}

// JournalEntry is an envelope read back from storage with an undecoded payload
type JournalEntry struct {
	ID      uuid.UUID       `json:"id"`
	Seq     uint64          `json:"seq"`
	Kind    EventKind       `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

type SaleRoundStarted struct {
	Round       uint64    `json:"round"`
	TokenPrice  math.Int  `json:"token_price"`
	TokenSupply math.Int  `json:"token_supply"`
	EndsAt      time.Time `json:"ends_at"`
}

func (SaleRoundStarted) Kind() EventKind { return KindSaleRoundStarted }

type SaleRoundFinished struct {
	Round       uint64   `json:"round"`
	Bought      math.Int `json:"bought"`
	Burned      math.Int `json:"burned"`
	Accumulated math.Int `json:"accumulated"`
}

func (SaleRoundFinished) Kind() EventKind { return KindSaleRoundFinished }

type TradeRoundStarted struct {
	Round  uint64    `json:"round"`
	EndsAt time.Time `json:"ends_at"`
}

func (TradeRoundStarted) Kind() EventKind { return KindTradeRoundStarted }

type TradeRoundFinished struct {
	Round  uint64   `json:"round"`
	Traded math.Int `json:"traded"`
}

func (TradeRoundFinished) Kind() EventKind { return KindTradeRoundFinished }

type ReferralSet struct {
	Participant common.Address `json:"participant"`
	Referral    common.Address `json:"referral"`
}

func (ReferralSet) Kind() EventKind { return KindReferralSet }

type NewSellOrder struct {
	OrderID       uint64         `json:"order_id"`
	Creator       common.Address `json:"creator"`
	TokenAmount   math.Int       `json:"token_amount"`
	PricePerToken math.Int       `json:"price_per_token"`
}

func (NewSellOrder) Kind() EventKind { return KindNewSellOrder }

type TokensBoughtFromSale struct {
	Round       uint64         `json:"round"`
	Buyer       common.Address `json:"buyer"`
	TokenAmount math.Int       `json:"token_amount"`
	Paid        math.Int       `json:"paid"`
}

func (TokensBoughtFromSale) Kind() EventKind { return KindTokensBoughtFromSale }

type TokensBoughtFromOrder struct {
	OrderID       uint64         `json:"order_id"`
	Creator       common.Address `json:"creator"`
	Buyer         common.Address `json:"buyer"`
	TokenAmount   math.Int       `json:"token_amount"`
	PricePerToken math.Int       `json:"price_per_token"`
}

func (TokensBoughtFromOrder) Kind() EventKind { return KindTokensBoughtFromOrder }

// FeeTransferredToReferral is emitted once per non-zero upline payout
type FeeTransferredToReferral struct {
	Referral common.Address `json:"referral"`
	Subject  common.Address `json:"subject"`
	Tier     int            `json:"tier"`
	Amount   math.Int       `json:"amount"`
}

func (FeeTransferredToReferral) Kind() EventKind { return KindFeeTransferredToReferral }

type CoinsDeposited struct {
	Account common.Address `json:"account"`
	Amount  math.Int       `json:"amount"`
}

func (CoinsDeposited) Kind() EventKind { return KindCoinsDeposited }

type CoinsWithdrawn struct {
	Account common.Address `json:"account"`
	Amount  math.Int       `json:"amount"`
}

func (CoinsWithdrawn) Kind() EventKind { return KindCoinsWithdrawn }
