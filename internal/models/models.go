package models

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// User represents a registered account bound to a wallet address
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Address      common.Address
	CreatedAt    time.Time
}

// RoundState is the phase the platform is in
type RoundState uint8

const (
	RoundNone RoundState = iota
	RoundSale
	RoundTrade
)

func (s RoundState) String() string {
	switch s {
	case RoundSale:
		return "sale"
	case RoundTrade:
		return "trade"
	default:
		return "none"
	}
}

func (s RoundState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RoundState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = RoundNone
	case "sale":
		*s = RoundSale
	case "trade":
		*s = RoundTrade
	default:
		return fmt.Errorf("unknown round state %q", b)
	}
	return nil
}

// OrderState tracks whether a sell order can still be filled
type OrderState uint8

const (
	OrderNone OrderState = iota
	OrderActive
	OrderFilled
)

func (s OrderState) String() string {
	switch s {
	case OrderActive:
		return "active"
	case OrderFilled:
		return "filled"
	default:
		return "none"
	}
}

func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = OrderNone
	case "active":
		*s = OrderActive
	case "filled":
		*s = OrderFilled
	default:
		return fmt.Errorf("unknown order state %q", b)
	}
	return nil
}

// Order represents an escrowed sell order placed during a trade round
type Order struct {
	ID            uint64         `json:"id"`
	State         OrderState     `json:"state"`
	Creator       common.Address `json:"creator"`
	TotalTokens   math.Int       `json:"total_tokens"`
	FilledTokens  math.Int       `json:"filled_tokens"`
	PricePerToken math.Int       `json:"price_per_token"` // wei per whole token
	Round         uint64         `json:"round"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Remaining returns the tokens still available for filling
func (o Order) Remaining() math.Int {
	return o.TotalTokens.Sub(o.FilledTokens)
}

// Economics holds the per-round supply, price and volume accumulators
type Economics struct {
	RoundNumber     uint64    `json:"round_number"`
	SaleTokenPrice  math.Int  `json:"sale_token_price"`
	AvailableTokens math.Int  `json:"available_tokens"`
	BoughtTokens    math.Int  `json:"bought_tokens"`
	BurnedTokens    math.Int  `json:"burned_tokens"`
	SaleAccumulated math.Int  `json:"eth_accumulated_during_sale_round"`
	TradeVolume     math.Int  `json:"eth_traded_during_trade_round"`
	RoundEndsAt     time.Time `json:"round_ends_at"`
}

// RoundView is the read model of the current round
type RoundView struct {
	State        RoundState     `json:"state"`
	StateCode    uint8          `json:"state_code"`
	TokenAddress common.Address `json:"token_address"`
	Economics
}
