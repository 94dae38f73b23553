package platform

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// StartTradeRound closes the sale round once its deadline passed or its batch sold out,
// burning whatever was left unsold.
func (e *Engine) StartTradeRound(caller common.Address) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if e.state != models.RoundSale {
		return nil, ErrWrongRound
	}
	now := e.now()
	soldOut := e.econ.BoughtTokens.Equal(e.econ.AvailableTokens)
	if now.Before(e.econ.RoundEndsAt) && !soldOut {
		return nil, ErrRoundNotEnded
	}

	prevEcon, prevState := e.econ, e.state
	burned := e.econ.AvailableTokens.Sub(e.econ.BoughtTokens)
	e.econ.BurnedTokens = burned
	e.econ.TradeVolume = math.ZeroInt()
	e.econ.RoundEndsAt = now.Add(e.cfg.RoundDuration)
	e.state = models.RoundTrade

	if burned.IsPositive() {
		if err := e.ledger.Apply(ledger.Burn(e.cfg.Treasury, burned)); err != nil {
			e.econ, e.state = prevEcon, prevState
			return nil, fmt.Errorf("burn unsold tokens: %w", err)
		}
	}

	return e.emit(now,
		models.SaleRoundFinished{
			Round:       e.econ.RoundNumber,
			Bought:      e.econ.BoughtTokens,
			Burned:      burned,
			Accumulated: e.econ.SaleAccumulated,
		},
		models.TradeRoundStarted{
			Round:  e.econ.RoundNumber,
			EndsAt: e.econ.RoundEndsAt,
		},
	), nil
}

// StartSaleRound closes an expired trade round and opens the next sale round, pricing it with
// the pricing function and sizing its batch by the coin volume traded in the closed round.
func (e *Engine) StartSaleRound(caller common.Address) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if e.state != models.RoundTrade {
		return nil, ErrWrongRound
	}
	now := e.now()
	if now.Before(e.econ.RoundEndsAt) {
		return nil, ErrRoundNotEnded
	}

	traded := e.econ.TradeVolume
	price := e.nextPrice(e.econ.SaleTokenPrice, traded)
	if price.IsNil() || !price.IsPositive() {
		return nil, fmt.Errorf("pricing returned non-positive price %v", price)
	}
	supply, err := models.TokensFor(traded, price)
	if err != nil {
		return nil, fmt.Errorf("size next batch: %w", err)
	}

	prevEcon, prevState := e.econ, e.state
	closedRound := e.econ.RoundNumber
	e.econ.SaleTokenPrice = price
	e.econ.AvailableTokens = supply
	e.econ.BoughtTokens = math.ZeroInt()
	e.econ.SaleAccumulated = math.ZeroInt()
	e.econ.TradeVolume = math.ZeroInt()
	e.econ.RoundEndsAt = now.Add(e.cfg.RoundDuration)
	e.econ.RoundNumber++
	e.state = models.RoundSale

	if supply.IsPositive() {
		if err := e.ledger.Apply(ledger.Mint(e.cfg.Treasury, supply)); err != nil {
			e.econ, e.state = prevEcon, prevState
			return nil, fmt.Errorf("mint sale batch: %w", err)
		}
	}

	return e.emit(now,
		models.TradeRoundFinished{
			Round:  closedRound,
			Traded: traded,
		},
		models.SaleRoundStarted{
			Round:       e.econ.RoundNumber,
			TokenPrice:  price,
			TokenSupply: supply,
			EndsAt:      e.econ.RoundEndsAt,
		},
	), nil
}
