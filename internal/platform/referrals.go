package platform

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/models"
)

// BecomeAReferral lets other participants name caller as their upline
func (e *Engine) BecomeAReferral(caller common.Address) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.referrals.Become(caller); err != nil {
		return nil, err
	}
	return nil, nil
}

// RegisterAReferral binds caller to target for good
func (e *Engine) RegisterAReferral(caller, target common.Address) ([]models.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.referrals.Register(caller, target); err != nil {
		return nil, err
	}
	return e.emit(e.now(), models.ReferralSet{Participant: caller, Referral: target}), nil
}
