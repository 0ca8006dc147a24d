package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"spinsettle/internal/models"
	"spinsettle/internal/util"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	scanLimit       = 200
	settlingTimeout = time.Minute
	lockWait        = 15 * time.Second
)

// PaymentIssuer produces what the buyer needs to pay an intent on one rail.
type PaymentIssuer interface {
	Destination() string
	Issue(ctx context.Context, intent *models.PaymentIntent, pkg models.Package) (*models.PaymentRequest, error)
}

type SettlementOptions struct {
	IntentTTL         time.Duration
	SettleMaxAttempts int
	// Poll schedules re-verification of pending intents.
	Poll util.RetryPolicy
	// Storage retries AppendAtomic on transient failures only.
	Storage util.RetryPolicy
}

func DefaultSettlementOptions() SettlementOptions {
	return SettlementOptions{
		IntentTTL:         time.Hour,
		SettleMaxAttempts: 5,
		Poll:              util.RetryPolicy{Initial: 10 * time.Second, Max: 2 * time.Minute, Multiplier: 2},
		Storage:           util.RetryPolicy{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 3},
	}
}

// SettlementService drives each intent through
// created → awaiting_verification → verified → settling → settled.
type SettlementService struct {
	users       UserStore
	intents     IntentStore
	ledger      LedgerStore
	verifier    *Verifier
	commissions *CommissionCalculator
	notifier    Notifier
	ids         IdGenerator
	catalog     models.Catalog
	issuers     map[models.Rail]PaymentIssuer
	opts        SettlementOptions

	locks  *KeyedMutex
	remote Locker
	now    func() time.Time
}

func NewSettlementService(
	users UserStore,
	intents IntentStore,
	ledger LedgerStore,
	verifier *Verifier,
	commissions *CommissionCalculator,
	notifier Notifier,
	ids IdGenerator,
	catalog models.Catalog,
	opts SettlementOptions,
) *SettlementService {
	return &SettlementService{
		users:       users,
		intents:     intents,
		ledger:      ledger,
		verifier:    verifier,
		commissions: commissions,
		notifier:    notifier,
		ids:         ids,
		catalog:     catalog,
		issuers:     make(map[models.Rail]PaymentIssuer),
		opts:        opts,
		locks:       NewKeyedMutex(),
		now:         time.Now,
	}
}

func (s *SettlementService) RegisterIssuer(rail models.Rail, issuer PaymentIssuer) {
	s.issuers[rail] = issuer
}

// UseLocker adds a cross-process lock on top of the in-process one.
func (s *SettlementService) UseLocker(l Locker) {
	s.remote = l
}

func (s *SettlementService) Catalog() models.Catalog {
	return s.catalog
}

// StartCheckout records a new intent and asks the rail for a payment request.
// If issuance fails the intent stays created and simply expires.
func (s *SettlementService) StartCheckout(ctx context.Context, userId int64, packageId string, rail models.Rail) (*models.PaymentRequest, error) {
	if _, err := s.users.FindUser(ctx, userId); err != nil {
		return nil, fmt.Errorf("user %d: %w", userId, err)
	}
	pkg, err := s.catalog.Get(packageId)
	if err != nil {
		return nil, err
	}
	issuer, ok := s.issuers[rail]
	if !ok {
		return nil, models.ErrRailUnavailable
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	intent := &models.PaymentIntent{
		Id:             uuid.NewString(),
		UserId:         userId,
		PackageId:      pkg.Id,
		Rail:           rail,
		ExpectedAmount: pkg.Price(rail),
		Unit:           models.UnitOf(rail),
		Destination:    issuer.Destination(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.opts.IntentTTL),
		Status:         models.StateCreated,
	}
	if err := s.intents.CreateIntent(ctx, intent); err != nil {
		log.Error("Failed save payment intent: ", err)
		return nil, err
	}

	logger := log.WithFields(logrus.Fields{"intent": intent.Id, "user": userId, "rail": rail, "package": pkg.Id})

	req, err := issuer.Issue(ctx, intent, pkg)
	if err != nil {
		logger.Error("Failed issue payment request: ", err)
		return nil, err
	}

	unlock, err := s.lock(ctx, intent.Id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.intents.FindSettlement(ctx, intent.Id)
	if err != nil {
		return nil, err
	}
	if rec.State == models.StateCreated {
		rec.State = models.StateAwaitingVerification
		rec.NextPollAt, _ = s.opts.Poll.NextAt(now, 1, intent.ExpiresAt)
		rec.UpdatedAt = s.now()
		if err := s.intents.UpdateSettlement(ctx, rec); err != nil {
			return nil, err
		}
	}

	logger.Info("Checkout started")
	return req, nil
}

func (s *SettlementService) Status(ctx context.Context, intentId string) (*models.PaymentIntent, *models.SettlementRecord, error) {
	intent, err := s.intents.FindIntent(ctx, intentId)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.intents.FindSettlement(ctx, intentId)
	if err != nil {
		return nil, nil, err
	}
	return intent, rec, nil
}

// OnSignal handles an external payment signal: a platform callback or a
// wallet reporting a sent transaction.
func (s *SettlementService) OnSignal(ctx context.Context, intentId string, proof models.PaymentProof) (models.SettlementState, error) {
	unlock, err := s.lock(ctx, intentId)
	if err != nil {
		return "", err
	}
	defer unlock()

	return s.advance(ctx, intentId, &proof)
}

// Poll re-runs verification, or retries settlement, without an external signal.
func (s *SettlementService) Poll(ctx context.Context, intentId string) (models.SettlementState, error) {
	unlock, err := s.lock(ctx, intentId)
	if err != nil {
		return "", err
	}
	defer unlock()

	return s.advance(ctx, intentId, nil)
}

// ErrStillPending is returned by WaitSettled when the intent is still open
// after the last attempt.
var ErrStillPending = errors.New("intent not settled yet")

// WaitSettled polls until the intent reaches a terminal state, the policy's
// attempts run out or ctx is done.
func (s *SettlementService) WaitSettled(ctx context.Context, intentId string, policy util.RetryPolicy) (models.SettlementState, error) {
	var state models.SettlementState
	err := policy.Do(ctx, func(err error) bool {
		return errors.Is(err, ErrStillPending) || isTransient(err)
	}, func(ctx context.Context) error {
		st, err := s.Poll(ctx, intentId)
		state = st
		if err != nil {
			return err
		}
		if !st.Terminal() {
			return ErrStillPending
		}
		return nil
	})
	return state, err
}

func (s *SettlementService) lock(ctx context.Context, intentId string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	unlock, err := s.locks.Lock(lctx, intentId)
	if err != nil {
		return nil, fmt.Errorf("lock intent %s: %w", intentId, err)
	}
	if s.remote == nil {
		return unlock, nil
	}

	token := uuid.NewString()
	if err := s.remote.Lock(lctx, "intent:"+intentId, token); err != nil {
		unlock()
		return nil, fmt.Errorf("lock intent %s: %w", intentId, err)
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.remote.Unlock(uctx, "intent:"+intentId, token)
		unlock()
	}, nil
}

// advance moves the intent as far as it can go. Callers hold the intent lock.
func (s *SettlementService) advance(ctx context.Context, intentId string, proof *models.PaymentProof) (models.SettlementState, error) {
	intent, err := s.intents.FindIntent(ctx, intentId)
	if err != nil {
		return "", err
	}
	rec, err := s.intents.FindSettlement(ctx, intentId)
	if err != nil {
		return "", err
	}

	logger := log.WithFields(logrus.Fields{"intent": intent.Id, "user": intent.UserId, "rail": intent.Rail, "state": rec.State})

	switch rec.State {
	case models.StateSettled:
		if proof != nil {
			logger.Info("Replayed signal for settled intent ignored")
		}
		return models.StateSettled, nil

	case models.StateExpired, models.StateRejected:
		if proof != nil {
			logger.Warn("Payment signal for closed intent")
			s.notify(models.AdminEvent{
				Kind:      models.EventSettlementFailed,
				UserId:    intent.UserId,
				IntentId:  intent.Id,
				PackageId: intent.PackageId,
				Amount:    proof.Amount,
				Unit:      intent.Unit,
				Detail:    "payment signal after intent was " + string(rec.State),
			})
			return rec.State, models.ErrIntentClosed
		}
		return rec.State, nil

	case models.StateCreated, models.StateAwaitingVerification:
		state, err := s.verify(ctx, intent, rec, proof)
		if err != nil || state != models.StateVerified {
			return state, err
		}
		return s.settle(ctx, intent, rec)

	case models.StateFailed:
		if proof == nil && s.exhausted(rec) {
			return models.StateFailed, nil
		}
		return s.settle(ctx, intent, rec)

	case models.StateVerified, models.StateSettling:
		return s.settle(ctx, intent, rec)

	default:
		return rec.State, fmt.Errorf("intent %s in unknown state %q", intent.Id, rec.State)
	}
}

func (s *SettlementService) verify(ctx context.Context, intent *models.PaymentIntent, rec *models.SettlementRecord, proof *models.PaymentProof) (models.SettlementState, error) {
	now := s.now()
	logger := log.WithFields(logrus.Fields{"intent": intent.Id, "user": intent.UserId, "rail": intent.Rail})

	rec.VerifyAttempts++
	v, err := s.verifier.Verify(ctx, intent, proof)
	if err != nil {
		rec.LastError = err.Error()
		rec.NextPollAt = s.nextPoll(now, rec.VerifyAttempts, intent.ExpiresAt)
		rec.UpdatedAt = now
		if uerr := s.intents.UpdateSettlement(ctx, rec); uerr != nil {
			logger.Error("Failed save settlement: ", uerr)
		}
		return rec.State, err
	}

	switch v.Result {
	case models.VerificationConfirmed:
		rec.State = models.StateVerified
		rec.ProofRef = v.ProofRef
		rec.PaidAmount = v.PaidAmount
		rec.LastError = ""
		logger.WithField("proof", v.ProofRef).Info("Payment verified")

	case models.VerificationPending:
		if rec.State == models.StateCreated && proof == nil {
			// not issued yet
			return rec.State, nil
		}
		rec.State = models.StateAwaitingVerification
		rec.LastError = v.Reason
		rec.NextPollAt = s.nextPoll(now, rec.VerifyAttempts, intent.ExpiresAt)

	case models.VerificationRejected:
		rec.State = models.StateRejected
		rec.LastError = v.Reason
		rec.CompletedAt = sql.NullTime{Time: now, Valid: true}
		logger.Warn("Payment rejected: ", v.Reason)

	case models.VerificationExpired:
		rec.State = models.StateExpired
		rec.LastError = v.Reason
		rec.CompletedAt = sql.NullTime{Time: now, Valid: true}
		logger.Info("Intent expired")
	}

	rec.UpdatedAt = now
	if err := s.intents.UpdateSettlement(ctx, rec); err != nil {
		logger.Error("Failed save settlement: ", err)
		return rec.State, err
	}
	return rec.State, nil
}

// nextPoll backs off while the intent is open and falls back to the policy
// ceiling after expiry, when a seen transfer may still be confirming.
func (s *SettlementService) nextPoll(now time.Time, attempt int, deadline time.Time) time.Time {
	next, ok := s.opts.Poll.NextAt(now, attempt, deadline)
	if !ok {
		return now.Add(s.opts.Poll.Delay(attempt))
	}
	return next
}

func (s *SettlementService) exhausted(rec *models.SettlementRecord) bool {
	return s.opts.SettleMaxAttempts > 0 && rec.SettleAttempts >= s.opts.SettleMaxAttempts
}

// settle writes the credit and its commission fan-out as one batch keyed by
// the intent id, so a repeated settle can never apply it twice.
func (s *SettlementService) settle(ctx context.Context, intent *models.PaymentIntent, rec *models.SettlementRecord) (models.SettlementState, error) {
	logger := log.WithFields(logrus.Fields{"intent": intent.Id, "user": intent.UserId, "rail": intent.Rail})

	buyer, err := s.users.FindUser(ctx, intent.UserId)
	if err != nil {
		return rec.State, err
	}
	if buyer.IntegrityHold {
		if rec.State != models.StateVerified || rec.LastError != models.ErrIntegrityHold.Error() {
			rec.State = models.StateVerified
			rec.LastError = models.ErrIntegrityHold.Error()
			rec.UpdatedAt = s.now()
			if err := s.intents.UpdateSettlement(ctx, rec); err != nil {
				return rec.State, err
			}
		}
		logger.Warn("Settlement held: user on integrity hold")
		return models.StateVerified, models.ErrIntegrityHold
	}

	now := s.now()
	rec.State = models.StateSettling
	rec.SettleAttempts++
	rec.NextPollAt = now.Add(settlingTimeout)
	rec.UpdatedAt = now
	if err := s.intents.UpdateSettlement(ctx, rec); err != nil {
		return models.StateVerified, err
	}

	batch, err := s.buildBatch(ctx, intent)
	var stored []models.LedgerEntry
	fresh := true
	if err == nil {
		err = s.opts.Storage.Do(ctx, isTransient, func(ctx context.Context) error {
			var aerr error
			stored, aerr = s.ledger.AppendAtomic(ctx, intent.Id, batch)
			return aerr
		})
		if errors.Is(err, models.ErrConflict) {
			logger.Info("Batch already appended, settling idempotently")
			fresh = false
			err = nil
		}
	}

	now = s.now()
	if err != nil {
		rec.State = models.StateFailed
		rec.LastError = err.Error()
		rec.NextPollAt = now.Add(s.opts.Poll.Delay(rec.SettleAttempts))
		rec.UpdatedAt = now
		if uerr := s.intents.UpdateSettlement(ctx, rec); uerr != nil {
			logger.Error("Failed save settlement: ", uerr)
		}
		logger.Error("Settlement failed: ", err)
		if s.exhausted(rec) {
			s.notify(models.AdminEvent{
				Kind:      models.EventSettlementFailed,
				UserId:    intent.UserId,
				IntentId:  intent.Id,
				PackageId: intent.PackageId,
				Amount:    intent.ExpectedAmount,
				Unit:      intent.Unit,
				Detail:    err.Error(),
			})
		}
		return models.StateFailed, err
	}

	rec.State = models.StateSettled
	rec.LastError = ""
	rec.CompletedAt = sql.NullTime{Time: now, Valid: true}
	rec.UpdatedAt = now
	if err := s.intents.UpdateSettlement(ctx, rec); err != nil {
		// the batch is in; the next poll finds the conflict and finishes
		logger.Error("Failed mark intent settled: ", err)
		return models.StateSettling, err
	}

	logger.Info("Intent settled")
	if fresh {
		s.announce(intent, stored)
	}
	return models.StateSettled, nil
}

func (s *SettlementService) buildBatch(ctx context.Context, intent *models.PaymentIntent) ([]models.LedgerEntry, error) {
	pkg, err := s.catalog.Get(intent.PackageId)
	if err != nil {
		return nil, err
	}

	credit := models.LedgerEntry{
		Id:            s.ids.NextId(),
		SettlementKey: intent.Id,
		IntentId:      intent.Id,
		Kind:          models.EntryCredit,
		UserId:        intent.UserId,
		Amount:        pkg.Spins,
		Unit:          models.UnitSpin,
		CreatedAt:     s.now().UTC().Truncate(time.Microsecond),
	}

	commissions, err := s.commissions.ComputeCommissions(ctx, intent.UserId, intent.ExpectedAmount, intent.Unit, credit)
	if err != nil {
		return nil, err
	}

	return append([]models.LedgerEntry{credit}, commissions...), nil
}

func (s *SettlementService) announce(intent *models.PaymentIntent, stored []models.LedgerEntry) {
	s.notify(models.AdminEvent{
		Kind:      models.EventPurchase,
		UserId:    intent.UserId,
		IntentId:  intent.Id,
		PackageId: intent.PackageId,
		Amount:    intent.ExpectedAmount,
		Unit:      intent.Unit,
	})
	for _, e := range stored {
		if e.Kind != models.EntryCommissionPayout {
			continue
		}
		s.notify(models.AdminEvent{
			Kind:      models.EventCommissionPaid,
			UserId:    e.UserId,
			IntentId:  intent.Id,
			PackageId: intent.PackageId,
			Amount:    e.Amount,
			Unit:      e.Unit,
			Detail:    fmt.Sprintf("buyer %d", intent.UserId),
		})
	}
}

func (s *SettlementService) notify(ev models.AdminEvent) {
	if s.notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.notifier.Notify(ev)
}

func isTransient(err error) bool {
	return errors.Is(err, models.ErrTransientStorage)
}

// PollPending re-verifies intents whose next poll is due.
func (s *SettlementService) PollPending(ctx context.Context) (int, error) {
	due, err := s.intents.FindByState(ctx, models.StateAwaitingVerification, s.now(), scanLimit)
	if err != nil {
		return 0, err
	}
	return s.pollAll(ctx, due), nil
}

// ExpireStale closes open intents past their expiry. Each one gets a final
// verification so a payment that landed just in time still settles.
func (s *SettlementService) ExpireStale(ctx context.Context) (int, error) {
	stale, err := s.intents.FindExpired(ctx, s.now(), scanLimit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, i := range stale {
		st, err := s.Poll(ctx, i.Id)
		if err != nil {
			log.WithField("intent", i.Id).Warn("Expiry check failed: ", err)
			continue
		}
		if st == models.StateExpired {
			n++
		}
	}
	return n, nil
}

// RetryFailed picks up failed settlements below the attempt ceiling, verified
// intents left behind by a hold, and settlements interrupted mid-write.
func (s *SettlementService) RetryFailed(ctx context.Context) (int, error) {
	now := s.now()
	var todo []models.PaymentIntent

	for _, q := range []struct {
		state models.SettlementState
		due   time.Time
	}{
		{models.StateFailed, now},
		{models.StateVerified, time.Time{}},
		{models.StateSettling, now},
	} {
		found, err := s.intents.FindByState(ctx, q.state, q.due, scanLimit)
		if err != nil {
			return 0, err
		}
		todo = append(todo, found...)
	}

	return s.pollAll(ctx, todo), nil
}

func (s *SettlementService) pollAll(ctx context.Context, intents []models.PaymentIntent) int {
	settled := 0
	for _, i := range intents {
		if ctx.Err() != nil {
			break
		}
		st, err := s.Poll(ctx, i.Id)
		if err != nil && !errors.Is(err, models.ErrIntegrityHold) {
			log.WithFields(logrus.Fields{"intent": i.Id, "state": st}).Warn("Poll failed: ", err)
			continue
		}
		if st == models.StateSettled {
			settled++
		}
	}
	return settled
}

// SpendSpin consumes one spin for spinId. Repeating the same spinId does not
// charge again.
func (s *SettlementService) SpendSpin(ctx context.Context, userId int64, spinId string) (int64, error) {
	user, err := s.users.FindUser(ctx, userId)
	if err != nil {
		return 0, err
	}
	if user.IntegrityHold {
		return 0, models.ErrIntegrityHold
	}

	key := "spin:" + spinId
	entry := models.LedgerEntry{
		Id:            s.ids.NextId(),
		SettlementKey: key,
		Kind:          models.EntryDebit,
		UserId:        userId,
		Amount:        -1,
		Unit:          models.UnitSpin,
		CreatedAt:     s.now().UTC().Truncate(time.Microsecond),
	}

	err = s.opts.Storage.Do(ctx, isTransient, func(ctx context.Context) error {
		_, aerr := s.ledger.AppendAtomic(ctx, key, []models.LedgerEntry{entry})
		return aerr
	})
	if err != nil && !errors.Is(err, models.ErrConflict) {
		return 0, err
	}

	return s.ledger.BalanceOf(ctx, userId, models.UnitSpin)
}

// Reverse undoes a settled purchase with entries negating the credit and
// every payout. The intent itself stays settled.
func (s *SettlementService) Reverse(ctx context.Context, intentId, reason string) ([]models.LedgerEntry, error) {
	unlock, err := s.lock(ctx, intentId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	intent, rec, err := s.Status(ctx, intentId)
	if err != nil {
		return nil, err
	}
	if rec.State != models.StateSettled {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrNotSettled, intentId, rec.State)
	}

	original, err := s.ledger.EntriesByKey(ctx, intentId)
	if err != nil {
		return nil, err
	}

	key := "reversal:" + intentId
	at := s.now().UTC().Truncate(time.Microsecond)
	batch := make([]models.LedgerEntry, 0, len(original))
	for _, e := range original {
		batch = append(batch, models.LedgerEntry{
			Id:            s.ids.NextId(),
			SettlementKey: key,
			IntentId:      intentId,
			Kind:          models.EntryReversal,
			UserId:        e.UserId,
			Amount:        -e.Amount,
			Unit:          e.Unit,
			PredecessorId: sql.NullInt64{Int64: e.Id, Valid: true},
			CreatedAt:     at,
		})
	}

	var stored []models.LedgerEntry
	err = s.opts.Storage.Do(ctx, isTransient, func(ctx context.Context) error {
		var aerr error
		stored, aerr = s.ledger.AppendAtomic(ctx, key, batch)
		return aerr
	})
	if errors.Is(err, models.ErrConflict) {
		return stored, nil
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"intent": intentId, "entries": len(stored)}).Warn("Purchase reversed: ", reason)
	s.notify(models.AdminEvent{
		Kind:      models.EventReversal,
		UserId:    intent.UserId,
		IntentId:  intentId,
		PackageId: intent.PackageId,
		Amount:    intent.ExpectedAmount,
		Unit:      intent.Unit,
		Detail:    reason,
	})
	return stored, nil
}

// History returns the user's ledger entries, newest first.
func (s *SettlementService) History(ctx context.Context, userId int64) ([]models.LedgerEntry, error) {
	entries, err := s.ledger.EntriesByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

// BalanceOf is the read side for the chat layer and the admin API.
func (s *SettlementService) BalanceOf(ctx context.Context, userId int64, unit models.Unit) (int64, error) {
	return s.ledger.BalanceOf(ctx, userId, unit)
}
