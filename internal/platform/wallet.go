package platform

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// Deposit credits coin to an account, e.g. a signup grant
func (e *Engine) Deposit(to common.Address, amount math.Int) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if err := e.ledger.Apply(ledger.Credit(to, amount)); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return e.emit(e.now(), models.CoinsDeposited{Account: to, Amount: amount}), nil
}

// Withdraw pays out coin credited to caller by sales, fills and commissions
func (e *Engine) Withdraw(caller common.Address, amount math.Int) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !positive(amount) {
		return nil, ErrInvalidAmount
	}
	if err := e.ledger.Apply(ledger.Collect(caller, amount)); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	return e.emit(e.now(), models.CoinsWithdrawn{Account: caller, Amount: amount}), nil
}
