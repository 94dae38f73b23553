// Package fees splits purchase payments between referral uplines and the net beneficiary.
package fees

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// BpsBase is the basis-point denominator
const BpsBase = 10_000

// Schedule defines per-tier upline shares in basis points
type Schedule struct {
	Name  string
	Tiers []int64

	// NetKeepsUnpaid routes the share of a missing upline to the net beneficiary.
	// When false the net beneficiary receives gross minus every tier share regardless
	// of the chain, and unpaid shares are retained by the platform.
	NetKeepsUnpaid bool
}

var (
	// Primary applies to direct sales; the treasury is the net beneficiary
	Primary = Schedule{Name: "primary", Tiers: []int64{500, 300}, NetKeepsUnpaid: true}
	// Secondary applies to order fills; the order creator is the net beneficiary
	Secondary = Schedule{Name: "secondary", Tiers: []int64{250, 250}}
)

// Payout is a single upline commission
type Payout struct {
	Beneficiary common.Address
	Tier        int
	Amount      math.Int
}

// Split is the result of distributing one gross payment
type Split struct {
	Referrals []Payout
	Net       math.Int // to the schedule's net beneficiary
	Retained  math.Int // to the platform treasury
}

// Depth returns how many uplines the schedule pays
func (s Schedule) Depth() int {
	return len(s.Tiers)
}

// Share returns floor(gross * tier bps / BpsBase)
func (s Schedule) Share(gross math.Int, tier int) (math.Int, error) {
	scaled, err := gross.SafeMul(math.NewInt(s.Tiers[tier]))
	if err != nil {
		return math.ZeroInt(), fmt.Errorf("%s tier %d share of %s: %w", s.Name, tier+1, gross, err)
	}
	return scaled.QuoRaw(BpsBase), nil
}

// Split distributes gross along chain, which lists uplines nearest first
func (s Schedule) Split(gross math.Int, chain []common.Address) (Split, error) {
	out := Split{Net: gross, Retained: math.ZeroInt()}
	for tier := range s.Tiers {
		share, err := s.Share(gross, tier)
		if err != nil {
			return Split{}, err
		}
		if tier < len(chain) {
			if share.IsPositive() {
				out.Referrals = append(out.Referrals, Payout{Beneficiary: chain[tier], Tier: tier + 1, Amount: share})
			}
			out.Net = out.Net.Sub(share)
			continue
		}
		if !s.NetKeepsUnpaid {
			out.Net = out.Net.Sub(share)
			out.Retained = out.Retained.Add(share)
		}
	}
	return out, nil
}

// Total returns the sum of every part of the split
func (sp Split) Total() math.Int {
	total := sp.Net.Add(sp.Retained)
	for _, p := range sp.Referrals {
		total = total.Add(p.Amount)
	}
	return total
}
