package exchange

import (
	"errors"
	"sort"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// ErrOrderNotFillable covers both unknown and exhausted orders
var ErrOrderNotFillable = errors.New("order not fillable")

// Exchange manages escrow-backed sell orders
type Exchange struct {
	orders map[uint64]*models.Order
	escrow map[uint64]math.Int
	nextID uint64
}

// State is the serializable form of an Exchange
type State struct {
	Orders []models.Order      `json:"orders"`
	Escrow map[uint64]math.Int `json:"escrow"`
	NextID uint64              `json:"next_id"`
}

// NewExchange creates an empty order book
func NewExchange() *Exchange {
	return &Exchange{
		orders: make(map[uint64]*models.Order),
		escrow: make(map[uint64]math.Int),
		nextID: 1,
	}
}

// AddOrder records a new active order and its escrow entry
func (e *Exchange) AddOrder(creator common.Address, amount, price math.Int, round uint64, at time.Time) models.Order {
	order := &models.Order{
		ID:            e.nextID,
		State:         models.OrderActive,
		Creator:       creator,
		TotalTokens:   amount,
		FilledTokens:  math.ZeroInt(),
		PricePerToken: price,
		Round:         round,
		CreatedAt:     at,
	}
	e.nextID++
	e.orders[order.ID] = order
	e.escrow[order.ID] = amount
	return *order
}

// RemoveOrder drops an order that was never filled; used to undo AddOrder
func (e *Exchange) RemoveOrder(orderID uint64) bool {
	order, ok := e.orders[orderID]
	if !ok || !order.FilledTokens.IsZero() {
		return false
	}
	delete(e.orders, orderID)
	delete(e.escrow, orderID)
	if orderID == e.nextID-1 {
		e.nextID--
	}
	return true
}

// Fillable checks that amount tokens can be taken from the order
func (e *Exchange) Fillable(orderID uint64, amount math.Int) (models.Order, error) {
	order, ok := e.orders[orderID]
	if !ok || order.State != models.OrderActive || order.Remaining().LT(amount) {
		return models.Order{}, ErrOrderNotFillable
	}
	return *order, nil
}

// FillOrder takes amount tokens out of the order and its escrow
func (e *Exchange) FillOrder(orderID uint64, amount math.Int) (models.Order, error) {
	if _, err := e.Fillable(orderID, amount); err != nil {
		return models.Order{}, err
	}
	order := e.orders[orderID]
	order.FilledTokens = order.FilledTokens.Add(amount)
	if order.FilledTokens.Equal(order.TotalTokens) {
		order.State = models.OrderFilled
	}
	e.escrow[orderID] = e.escrow[orderID].Sub(amount)
	return *order, nil
}

// UnfillOrder reverts a FillOrder of the same amount
func (e *Exchange) UnfillOrder(orderID uint64, amount math.Int) {
	order, ok := e.orders[orderID]
	if !ok {
		return
	}
	order.FilledTokens = order.FilledTokens.Sub(amount)
	order.State = models.OrderActive
	e.escrow[orderID] = e.escrow[orderID].Add(amount)
}

// GetOrder returns the order with the given id
func (e *Exchange) GetOrder(orderID uint64) (models.Order, bool) {
	order, ok := e.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// GetOrderBook returns active orders, lowest price first, then oldest first
func (e *Exchange) GetOrderBook() []models.Order {
	book := make([]models.Order, 0, len(e.orders))
	for _, order := range e.orders {
		if order.State == models.OrderActive {
			book = append(book, *order)
		}
	}
	sort.Slice(book, func(i, j int) bool {
		if book[i].PricePerToken.Equal(book[j].PricePerToken) {
			return book[i].ID < book[j].ID
		}
		return book[i].PricePerToken.LT(book[j].PricePerToken)
	})
	return book
}

// Orders returns every order ever created, by id
func (e *Exchange) Orders() []models.Order {
	all := make([]models.Order, 0, len(e.orders))
	for _, order := range e.orders {
		all = append(all, *order)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Escrowed returns the tokens still held for an order
func (e *Exchange) Escrowed(orderID uint64) math.Int {
	if v, ok := e.escrow[orderID]; ok {
		return v
	}
	return math.ZeroInt()
}

// TotalEscrow sums every escrow entry
func (e *Exchange) TotalEscrow() math.Int {
	total := math.ZeroInt()
	for _, v := range e.escrow {
		total = total.Add(v)
	}
	return total
}

// State returns a copy of the order book
func (e *Exchange) State() State {
	s := State{
		Orders: e.Orders(),
		Escrow: make(map[uint64]math.Int, len(e.escrow)),
		NextID: e.nextID,
	}
	for k, v := range e.escrow {
		s.Escrow[k] = v
	}
	return s
}

// FromState rebuilds an order book from a saved State
func FromState(s State) *Exchange {
	e := NewExchange()
	for i := range s.Orders {
		order := s.Orders[i]
		e.orders[order.ID] = &order
	}
	for k, v := range s.Escrow {
		e.escrow[k] = v
	}
	if s.NextID > 0 {
		e.nextID = s.NextID
	}
	return e
}
