package platform

import (
	"errors"

	"github.com/xtrntr/tradingplatform/internal/exchange"
	"github.com/xtrntr/tradingplatform/internal/referral"
)

var (
	ErrAccessDenied         = errors.New("access denied")
	ErrWrongRound           = errors.New("wrong round")
	ErrRoundNotEnded        = errors.New("round not ended")
	ErrRoundExpiredUnrolled = errors.New("round expired, awaiting transition")
	ErrInsufficientSupply   = errors.New("insufficient supply")
	ErrInsufficientPayment  = errors.New("insufficient payment")
	ErrInvalidAmount        = errors.New("invalid amount")

	ErrInvalidReferral = referral.ErrInvalidReferral
	ErrAlreadyReferral = referral.ErrAlreadyReferral
	ErrAlreadySet      = referral.ErrAlreadySet
	ErrReferralCycle   = referral.ErrReferralCycle

	ErrOrderNotFillable = exchange.ErrOrderNotFillable
)
