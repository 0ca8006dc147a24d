package repositories

import (
	"context"
	"time"

	"spinsettle/internal/models"

	"github.com/jmoiron/sqlx"
)

type IntentRepository struct {
	db *sqlx.DB
}

func NewIntentRepository(db *sqlx.DB) *IntentRepository {
	return &IntentRepository{
		db: db,
	}
}

// CreateIntent stores the intent together with its settlement record.
func (r *IntentRepository) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error(err)
		return classify(err)
	}
	defer rollback(tx)

	_, err = tx.NamedExecContext(
		ctx,
		`insert into payment_intent (id, user_id, package_id, rail, expected_amount, unit, destination, created_at, expires_at, status)
		values (:id, :user_id, :package_id, :rail, :expected_amount, :unit, :destination, :created_at, :expires_at, :status)`,
		intent,
	)
	if err != nil {
		log.Error("Error inserting payment intent: ", err)
		return classify(err)
	}

	rec := models.SettlementRecord{
		IntentId:   intent.Id,
		State:      intent.Status,
		NextPollAt: intent.CreatedAt,
		UpdatedAt:  intent.CreatedAt,
	}
	_, err = tx.NamedExecContext(
		ctx,
		`insert into settlement (intent_id, state, next_poll_at, updated_at)
		values (:intent_id, :state, :next_poll_at, :updated_at)`,
		rec,
	)
	if err != nil {
		log.Error("Error inserting settlement: ", err)
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		log.Error("Error committing payment intent: ", err)
		return classify(err)
	}
	return nil
}

func (r *IntentRepository) FindIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var intent models.PaymentIntent
	if err := r.db.GetContext(ctx, &intent, "select * from payment_intent where id = $1", id); err != nil {
		return nil, classify(err)
	}
	return &intent, nil
}

func (r *IntentRepository) FindSettlement(ctx context.Context, id string) (*models.SettlementRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var rec models.SettlementRecord
	if err := r.db.GetContext(ctx, &rec, "select * from settlement where intent_id = $1", id); err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

// UpdateSettlement writes the record and mirrors its state onto the intent.
func (r *IntentRepository) UpdateSettlement(ctx context.Context, rec *models.SettlementRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error(err)
		return classify(err)
	}
	defer rollback(tx)

	res, err := tx.NamedExecContext(
		ctx,
		`update settlement set state = :state, verify_attempts = :verify_attempts, settle_attempts = :settle_attempts,
		last_error = :last_error, proof_ref = :proof_ref, paid_amount = :paid_amount, next_poll_at = :next_poll_at,
		completed_at = :completed_at, updated_at = :updated_at
		where intent_id = :intent_id`,
		rec,
	)
	if err != nil {
		log.Error("Error updating settlement: ", err)
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "update payment_intent set status = $2 where id = $1", rec.IntentId, rec.State); err != nil {
		log.Error("Error updating intent status: ", err)
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		log.Error("Error committing settlement: ", err)
		return classify(err)
	}
	return nil
}

// FindByState returns intents in the state whose next poll is due. A zero
// dueBefore disables the due filter.
func (r *IntentRepository) FindByState(ctx context.Context, state models.SettlementState, dueBefore time.Time, limit int) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	var intents []models.PaymentIntent
	var err error
	if dueBefore.IsZero() {
		err = r.db.SelectContext(ctx, &intents,
			"select * from payment_intent where status = $1 order by created_at limit $2",
			state, limit,
		)
	} else {
		err = r.db.SelectContext(ctx, &intents,
			`select i.* from payment_intent i join settlement s on s.intent_id = i.id
			where i.status = $1 and s.next_poll_at <= $2 order by i.created_at limit $3`,
			state, dueBefore, limit,
		)
	}
	if err != nil {
		log.Error("Error finding intents by state: ", err)
		return nil, classify(err)
	}
	return intents, nil
}

func (r *IntentRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	var intents []models.PaymentIntent
	err := r.db.SelectContext(ctx, &intents,
		`select * from payment_intent where status in ($1, $2) and expires_at <= $3
		order by created_at limit $4`,
		models.StateCreated, models.StateAwaitingVerification, now, limit,
	)
	if err != nil {
		log.Error("Error finding expired intents: ", err)
		return nil, classify(err)
	}
	return intents, nil
}

// ConsumeProof binds a charge id or tx hash to one intent. Presenting the same
// proof for the same intent again is fine; for any other intent it is a replay.
func (r *IntentRepository) ConsumeProof(ctx context.Context, rail models.Rail, ref, intentId string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`insert into consumed_proof (rail, proof_ref, intent_id) values ($1, $2, $3)
		on conflict (rail, proof_ref) do nothing`,
		rail, ref, intentId,
	)
	if err != nil {
		log.Error("Error consuming proof: ", err)
		return classify(err)
	}

	var owner string
	if err := r.db.GetContext(ctx, &owner,
		"select intent_id from consumed_proof where rail = $1 and proof_ref = $2", rail, ref,
	); err != nil {
		return classify(err)
	}
	if owner != intentId {
		return models.ErrReplaySignal
	}
	return nil
}
