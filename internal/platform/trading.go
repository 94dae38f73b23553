package platform

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/fees"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// BuyTokensFromContract sells tokenAmount base units of the current batch to buyer.
// value is the gross payment; all of it is collected and split along the buyer's referral chain.
func (e *Engine) BuyTokensFromContract(buyer common.Address, tokenAmount, value math.Int) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.requireOpenRound(models.RoundSale, now); err != nil {
		return nil, err
	}
	if !positive(tokenAmount) {
		return nil, ErrInvalidAmount
	}
	if e.econ.AvailableTokens.Sub(e.econ.BoughtTokens).LT(tokenAmount) {
		return nil, ErrInsufficientSupply
	}
	cost, err := models.Cost(tokenAmount, e.econ.SaleTokenPrice)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if value.IsNil() || value.LT(cost) {
		return nil, ErrInsufficientPayment
	}
	if err := e.requireFunds(buyer, value); err != nil {
		return nil, err
	}

	postings := []ledger.Posting{
		ledger.Collect(buyer, value),
		ledger.Transfer(e.cfg.Treasury, buyer, tokenAmount),
	}
	payouts, feeEvents, err := e.distribute(buyer, fees.Primary, value, e.cfg.Treasury)
	if err != nil {
		return nil, err
	}
	postings = append(postings, payouts...)

	prevEcon := e.econ
	e.econ.BoughtTokens = e.econ.BoughtTokens.Add(tokenAmount)
	e.econ.SaleAccumulated = e.econ.SaleAccumulated.Add(value)

	if err := e.ledger.Apply(postings...); err != nil {
		e.econ = prevEcon
		return nil, fmt.Errorf("settle sale purchase: %w", err)
	}

	events := append(feeEvents, models.TokensBoughtFromSale{
		Round:       e.econ.RoundNumber,
		Buyer:       buyer,
		TokenAmount: tokenAmount,
		Paid:        value,
	})
	return e.emit(now, events...), nil
}

// CreateSellOrder escrows tokenAmount of creator's tokens behind a new order priced in wei per whole token
func (e *Engine) CreateSellOrder(creator common.Address, tokenAmount, pricePerToken math.Int) (models.Order, []models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.requireOpenRound(models.RoundTrade, now); err != nil {
		return models.Order{}, nil, err
	}
	if !positive(tokenAmount) || !positive(pricePerToken) {
		return models.Order{}, nil, ErrInvalidAmount
	}
	if _, err := models.Cost(tokenAmount, pricePerToken); err != nil {
		return models.Order{}, nil, ErrInvalidAmount
	}

	order := e.book.AddOrder(creator, tokenAmount, pricePerToken, e.econ.RoundNumber, now)
	if err := e.ledger.Apply(ledger.Transfer(creator, e.cfg.Escrow, tokenAmount)); err != nil {
		e.book.RemoveOrder(order.ID)
		return models.Order{}, nil, fmt.Errorf("escrow order tokens: %w", err)
	}

	return order, e.emit(now, models.NewSellOrder{
		OrderID:       order.ID,
		Creator:       creator,
		TokenAmount:   tokenAmount,
		PricePerToken: pricePerToken,
	}), nil
}

// BuyTokensFromOrder fills tokenAmount of an order. The creator's net proceeds are credited
// immediately and the seller's referral chain takes the secondary commission.
func (e *Engine) BuyTokensFromOrder(buyer common.Address, orderID uint64, tokenAmount, value math.Int) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.requireOpenRound(models.RoundTrade, now); err != nil {
		return nil, err
	}
	if !positive(tokenAmount) {
		return nil, ErrInvalidAmount
	}
	order, err := e.book.Fillable(orderID, tokenAmount)
	if err != nil {
		return nil, err
	}
	cost, err := models.Cost(tokenAmount, order.PricePerToken)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if value.IsNil() || value.LT(cost) {
		return nil, ErrInsufficientPayment
	}
	if err := e.requireFunds(buyer, value); err != nil {
		return nil, err
	}

	postings := []ledger.Posting{ledger.Collect(buyer, value)}
	payouts, feeEvents, err := e.distribute(order.Creator, fees.Secondary, value, order.Creator)
	if err != nil {
		return nil, err
	}
	postings = append(postings, payouts...)
	postings = append(postings, ledger.Transfer(e.cfg.Escrow, buyer, tokenAmount))

	prevEcon := e.econ
	if _, err := e.book.FillOrder(orderID, tokenAmount); err != nil {
		return nil, err
	}
	e.econ.TradeVolume = e.econ.TradeVolume.Add(value)

	if err := e.ledger.Apply(postings...); err != nil {
		e.book.UnfillOrder(orderID, tokenAmount)
		e.econ = prevEcon
		return nil, fmt.Errorf("settle order fill: %w", err)
	}

	events := append(feeEvents, models.TokensBoughtFromOrder{
		OrderID:       orderID,
		Creator:       order.Creator,
		Buyer:         buyer,
		TokenAmount:   tokenAmount,
		PricePerToken: order.PricePerToken,
	})
	return e.emit(now, events...), nil
}
