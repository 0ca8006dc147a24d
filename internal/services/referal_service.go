package services

import (
	"context"
	"errors"
	"fmt"

	"spinsettle/internal/config"
	"spinsettle/internal/models"

	"github.com/sirupsen/logrus"
)

// ancestry walks stop here even when the data is corrupt.
const maxAncestryWalk = 1024

type ReferalService struct {
	users     UserStore
	referrals ReferralStore
	cfg       config.ReferralConfig
}

func NewReferalService(users UserStore, referrals ReferralStore, cfg config.ReferralConfig) *ReferalService {
	return &ReferalService{
		users:     users,
		referrals: referrals,
		cfg:       cfg,
	}
}

// CreateEdge records referrer as the direct referrer of referred and copies
// the referrer's own ancestry one level deeper, up to the configured depth.
func (s *ReferalService) CreateEdge(ctx context.Context, referrerId, referredId int64) ([]models.ReferralEdge, error) {
	if referrerId == referredId {
		return nil, models.ErrSelfReferral
	}

	referrer, err := s.users.FindUser(ctx, referrerId)
	if err != nil {
		return nil, fmt.Errorf("referrer %d: %w", referrerId, err)
	}
	referred, err := s.users.FindUser(ctx, referredId)
	if err != nil {
		return nil, fmt.Errorf("referred %d: %w", referredId, err)
	}
	if referred.ReferrerId.Valid {
		return nil, models.ErrConflict
	}

	if err := s.checkCycle(ctx, referrer, referredId); err != nil {
		return nil, err
	}

	edges := []models.ReferralEdge{{
		ReferrerId: referrerId,
		ReferredId: referredId,
		Depth:      1,
		RateBps:    s.rate(1, referrer.ReferralRole),
	}}

	upstream, err := s.referrals.EdgesOf(ctx, referrerId)
	if err != nil {
		return nil, err
	}
	for _, e := range upstream {
		depth := e.Depth + 1
		if depth > s.cfg.MaxDepth() {
			continue
		}
		if e.ReferrerId == referredId {
			return nil, models.ErrReferralCycle
		}
		edges = append(edges, models.ReferralEdge{
			ReferrerId: e.ReferrerId,
			ReferredId: referredId,
			Depth:      depth,
			RateBps:    s.rate(depth, 0),
		})
	}

	if err := s.referrals.CreateEdges(ctx, referredId, edges); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"referrer": referrerId,
		"referred": referredId,
		"edges":    len(edges),
	}).Info("Referral registered")

	return edges, nil
}

// checkCycle rejects the edge when referred is already above referrer.
func (s *ReferalService) checkCycle(ctx context.Context, referrer *models.User, referredId int64) error {
	cur := referrer
	for i := 0; i < maxAncestryWalk; i++ {
		if !cur.ReferrerId.Valid {
			return nil
		}
		parent := cur.ReferrerId.Int64
		if parent == referredId {
			return models.ErrReferralCycle
		}
		next, err := s.users.FindUser(ctx, parent)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur = next
	}
	return fmt.Errorf("%w: ancestry of %d deeper than %d", models.ErrReferralCycle, referrer.Id, maxAncestryWalk)
}

// rate returns the depth rate, or the influencer override for a direct
// referrer holding a configured role.
func (s *ReferalService) rate(depth int, role int) int64 {
	if depth == 1 && role != 0 {
		if bps, ok := s.cfg.InfluencerBps[role]; ok {
			return bps
		}
	}
	return s.cfg.RatesBps[depth-1]
}

// DisableEdges freezes (or unfreezes) future accrual for referrerId. A zero
// referredId applies it to every user the referrer earns from.
func (s *ReferalService) DisableEdges(ctx context.Context, referrerId, referredId int64, disabled bool) (int, error) {
	n, err := s.referrals.SetEdgesDisabled(ctx, referrerId, referredId, disabled)
	if err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{
		"referrer": referrerId,
		"referred": referredId,
		"disabled": disabled,
		"edges":    n,
	}).Warn("Referral edges updated")
	return n, nil
}

func (s *ReferalService) Chain(ctx context.Context, userId int64) ([]models.ReferralEdge, error) {
	return s.referrals.EdgesOf(ctx, userId)
}
