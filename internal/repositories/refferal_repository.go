package repositories

import (
	"context"
	"time"

	"spinsettle/internal/models"

	"github.com/jmoiron/sqlx"
)

type ReferralRepository struct {
	db *sqlx.DB
}

func NewReferralRepository(db *sqlx.DB) *ReferralRepository {
	return &ReferralRepository{
		db: db,
	}
}

// CreateEdges stores the closure edges of a newly referred user. A user is
// referred at most once: the row lock on the user makes the check and the
// insert atomic.
func (r *ReferralRepository) CreateEdges(ctx context.Context, referredId int64, edges []models.ReferralEdge) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error(err)
		return classify(err)
	}
	defer rollback(tx)

	var user models.User
	if err := tx.GetContext(ctx, &user, "select * from usr where id = $1 for update", referredId); err != nil {
		return classify(err)
	}
	if user.ReferrerId.Valid {
		return models.ErrConflict
	}

	now := time.Now()
	for i := range edges {
		if edges[i].CreatedAt.IsZero() {
			edges[i].CreatedAt = now
		}
		_, err := tx.NamedExecContext(
			ctx,
			`insert into referral_edge (referrer_id, referred_id, depth, rate_bps, disabled, created_at)
			values (:referrer_id, :referred_id, :depth, :rate_bps, :disabled, :created_at)`,
			edges[i],
		)
		if err != nil {
			log.Error("Error inserting referral edge: ", err)
			return classify(err)
		}
		if edges[i].Depth == 1 {
			if _, err := tx.ExecContext(ctx, "update usr set referrer_id = $2 where id = $1", referredId, edges[i].ReferrerId); err != nil {
				return classify(err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("Error committing referral edges: ", err)
		return classify(err)
	}
	return nil
}

func (r *ReferralRepository) EdgesOf(ctx context.Context, referredId int64) ([]models.ReferralEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var edges []models.ReferralEdge
	err := r.db.SelectContext(ctx, &edges, "select * from referral_edge where referred_id = $1 order by depth", referredId)
	if err != nil {
		log.Error("Error finding referral edges: ", err)
		return nil, classify(err)
	}
	return edges, nil
}

// SetEdgesDisabled toggles every edge paying referrerId. A non-zero referredId
// narrows the change to that one referred user.
func (r *ReferralRepository) SetEdgesDisabled(ctx context.Context, referrerId, referredId int64, disabled bool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(
		ctx,
		`update referral_edge set disabled = $3
		where referrer_id = $1 and ($2 = 0 or referred_id = $2) and disabled <> $3`,
		referrerId, referredId, disabled,
	)
	if err != nil {
		log.Error("Error updating referral edges: ", err)
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
