package services

import (
	"context"
	"database/sql"
	"sort"

	"spinsettle/internal/models"
	"spinsettle/internal/util"

	"github.com/sirupsen/logrus"
)

// CommissionCalculator turns a purchase into payout entries for the buyer's
// upstream referrers.
type CommissionCalculator struct {
	referrals ReferralStore
	ids       IdGenerator
	maxDepth  int
}

func NewCommissionCalculator(referrals ReferralStore, ids IdGenerator, maxDepth int) *CommissionCalculator {
	return &CommissionCalculator{
		referrals: referrals,
		ids:       ids,
		maxDepth:  maxDepth,
	}
}

// ComputeCommissions pays every active edge above the buyer gross × rate,
// floored. Each payout points at the credit entry and shares its batch key.
func (c *CommissionCalculator) ComputeCommissions(ctx context.Context, buyer int64, gross int64, unit models.Unit, credit models.LedgerEntry) ([]models.LedgerEntry, error) {
	edges, err := c.referrals.EdgesOf(ctx, buyer)
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Depth < edges[j].Depth })

	paid := make(map[int64]struct{})
	var res []models.LedgerEntry

	for _, e := range edges {
		if e.Depth < 1 || e.Depth > c.maxDepth {
			continue
		}
		if e.Disabled {
			continue
		}
		if e.ReferrerId == buyer {
			log.WithFields(logrus.Fields{"buyer": buyer, "depth": e.Depth}).Warn("Referral edge points at the buyer, skipped")
			continue
		}
		if _, ok := paid[e.ReferrerId]; ok {
			log.WithFields(logrus.Fields{"buyer": buyer, "referrer": e.ReferrerId}).Warn("Referrer appears twice in chain, skipped")
			continue
		}

		amount := util.Commission(gross, e.RateBps)
		if amount == 0 {
			continue
		}
		paid[e.ReferrerId] = struct{}{}

		res = append(res, models.LedgerEntry{
			Id:            c.ids.NextId(),
			SettlementKey: credit.SettlementKey,
			IntentId:      credit.IntentId,
			Kind:          models.EntryCommissionPayout,
			UserId:        e.ReferrerId,
			Amount:        amount,
			Unit:          unit,
			PredecessorId: sql.NullInt64{Int64: credit.Id, Valid: true},
			CreatedAt:     credit.CreatedAt,
		})
	}

	return res, nil
}
