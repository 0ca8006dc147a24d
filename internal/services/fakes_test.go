package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/models"
	"spinsettle/internal/repositories"
	"spinsettle/internal/util"
)

type seqIds struct{ n atomic.Int64 }

func (s *seqIds) NextId() int64 { return s.n.Add(1) }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeChain struct {
	mu        sync.Mutex
	transfers map[string][]models.Transfer
	err       error
}

func (f *fakeChain) LookupTransfers(_ context.Context, _, memo string) ([]models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.transfers[memo]
	if !ok {
		return nil, models.ErrTransferNotFound
	}
	return t, nil
}

func (f *fakeChain) set(memo string, t ...models.Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transfers == nil {
		f.transfers = make(map[string][]models.Transfer)
	}
	f.transfers[memo] = t
}

type fakeIssuer struct {
	dest string
	err  error
}

func (f fakeIssuer) Destination() string { return f.dest }

func (f fakeIssuer) Issue(_ context.Context, intent *models.PaymentIntent, _ models.Package) (*models.PaymentRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.PaymentRequest{
		IntentId:    intent.Id,
		Rail:        intent.Rail,
		Amount:      intent.ExpectedAmount,
		Unit:        intent.Unit,
		ExpiresAt:   intent.ExpiresAt,
		Destination: f.dest,
		Comment:     intent.Id,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AdminEvent
}

func (r *recordingNotifier) Notify(ev models.AdminEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingNotifier) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []models.EventKind
	for _, e := range r.events {
		res = append(res, e.Kind)
	}
	return res
}

// flakyLedger fails AppendAtomic with a transient error a set number of times.
type flakyLedger struct {
	*repositories.MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyLedger) AppendAtomic(ctx context.Context, key string, entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.Join(models.ErrTransientStorage, errors.New("connection reset"))
	}
	f.mu.Unlock()
	return f.MemoryStore.AppendAtomic(ctx, key, entries)
}

type harness struct {
	store      *repositories.MemoryStore
	ledger     LedgerStore
	chain      *fakeChain
	clock      *clock
	notifier   *recordingNotifier
	users      *UserService
	referrals  *ReferalService
	settlement *SettlementService
	integrity  *IntegrityService
}

const tonWallet = "UQD6A01mB8tAKJVekRrMjoA3l188LSCF2zrIHoH94tWhZGAO"

func newHarness(ledger func(*repositories.MemoryStore) LedgerStore) *harness {
	store := repositories.NewMemoryStore()
	var l LedgerStore = store
	if ledger != nil {
		l = ledger(store)
	}

	h := &harness{
		store:    store,
		ledger:   l,
		chain:    &fakeChain{},
		clock:    newClock(),
		notifier: &recordingNotifier{},
	}

	refCfg := config.ReferralConfig{RatesBps: []int64{1500, 2500}, InfluencerBps: map[int]int64{2: 3000}}
	ids := &seqIds{}

	h.referrals = NewReferalService(store, store, refCfg)
	h.users = NewUserService(store, h.referrals)

	verifier := NewVerifier(store, h.chain, 1)
	verifier.now = h.clock.Now

	opts := DefaultSettlementOptions()
	opts.IntentTTL = 10 * time.Minute
	opts.SettleMaxAttempts = 3
	opts.Storage = util.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1, MaxAttempts: 3}

	h.settlement = NewSettlementService(store, store, l, verifier,
		NewCommissionCalculator(store, ids, refCfg.MaxDepth()), h.notifier, ids, models.DefaultCatalog(), opts)
	h.settlement.now = h.clock.Now
	h.settlement.RegisterIssuer(models.RailStars, fakeIssuer{})
	h.settlement.RegisterIssuer(models.RailTON, fakeIssuer{dest: tonWallet})

	h.integrity = NewIntegrityService(l, store, h.notifier)
	h.integrity.now = h.clock.Now
	return h
}
