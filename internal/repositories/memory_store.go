package repositories

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"spinsettle/internal/models"
)

type balanceKey struct {
	userId int64
	unit   models.Unit
}

type proofKey struct {
	rail models.Rail
	ref  string
}

// MemoryStore keeps users, intents, referral edges and the ledger in process
// memory behind one mutex. It follows the same contracts as the Postgres
// repositories and backs tests and local runs.
type MemoryStore struct {
	mu sync.Mutex

	users       map[int64]models.User
	intents     map[string]models.PaymentIntent
	settlements map[string]models.SettlementRecord
	proofs      map[proofKey]string
	edges       map[int64][]models.ReferralEdge

	entries  []models.LedgerEntry
	batches  map[string][]int
	balances map[balanceKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]models.User),
		intents:     make(map[string]models.PaymentIntent),
		settlements: make(map[string]models.SettlementRecord),
		proofs:      make(map[proofKey]string),
		edges:       make(map[int64][]models.ReferralEdge),
		batches:     make(map[string][]int),
		balances:    make(map[balanceKey]int64),
	}
}

// users

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.Id]; ok {
		return models.ErrConflict
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.LastEntryHash == "" {
		u.LastEntryHash = models.GenesisHash
	}
	m.users[u.Id] = *u
	return nil
}

func (m *MemoryStore) FindUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) SetHold(_ context.Context, id int64, hold bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.IntegrityHold = hold
	u.IntegrityHoldReason = reason
	if !hold {
		u.IntegrityHoldReason = ""
	}
	m.users[id] = u
	return nil
}

func (m *MemoryStore) HeldUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []models.User
	for _, u := range m.users {
		if u.IntegrityHold {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Id < res[j].Id })
	return res, nil
}

// referrals

func (m *MemoryStore) CreateEdges(_ context.Context, referredId int64, edges []models.ReferralEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[referredId]
	if !ok {
		return models.ErrNotFound
	}
	if len(m.edges[referredId]) > 0 || u.ReferrerId.Valid {
		return models.ErrConflict
	}
	for _, e := range edges {
		if _, ok := m.users[e.ReferrerId]; !ok {
			return models.ErrNotFound
		}
	}

	now := time.Now()
	stored := make([]models.ReferralEdge, len(edges))
	for i, e := range edges {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		stored[i] = e
		if e.Depth == 1 {
			u.ReferrerId = sql.NullInt64{Int64: e.ReferrerId, Valid: true}
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Depth < stored[j].Depth })
	m.edges[referredId] = stored
	m.users[referredId] = u
	return nil
}

func (m *MemoryStore) EdgesOf(_ context.Context, referredId int64) ([]models.ReferralEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges := m.edges[referredId]
	res := make([]models.ReferralEdge, len(edges))
	copy(res, edges)
	return res, nil
}

func (m *MemoryStore) SetEdgesDisabled(_ context.Context, referrerId, referredId int64, disabled bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, edges := range m.edges {
		if referredId != 0 && id != referredId {
			continue
		}
		for i := range edges {
			if edges[i].ReferrerId == referrerId && edges[i].Disabled != disabled {
				edges[i].Disabled = disabled
				n++
			}
		}
	}
	return n, nil
}

// intents

func (m *MemoryStore) CreateIntent(_ context.Context, intent *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.intents[intent.Id]; ok {
		return models.ErrConflict
	}
	m.intents[intent.Id] = *intent
	m.settlements[intent.Id] = models.SettlementRecord{
		IntentId:   intent.Id,
		State:      intent.Status,
		NextPollAt: intent.CreatedAt,
		UpdatedAt:  intent.CreatedAt,
	}
	return nil
}

func (m *MemoryStore) FindIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &i, nil
}

func (m *MemoryStore) FindSettlement(_ context.Context, id string) (*models.SettlementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.settlements[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) UpdateSettlement(_ context.Context, rec *models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.intents[rec.IntentId]
	if !ok {
		return models.ErrNotFound
	}
	i.Status = rec.State
	m.intents[rec.IntentId] = i
	m.settlements[rec.IntentId] = *rec
	return nil
}

func (m *MemoryStore) FindByState(_ context.Context, state models.SettlementState, dueBefore time.Time, limit int) ([]models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []models.PaymentIntent
	for id, i := range m.intents {
		if i.Status != state {
			continue
		}
		if !dueBefore.IsZero() && m.settlements[id].NextPollAt.After(dueBefore) {
			continue
		}
		res = append(res, i)
	}
	return limitIntents(res, limit), nil
}

func (m *MemoryStore) FindExpired(_ context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []models.PaymentIntent
	for _, i := range m.intents {
		if i.Status == models.StateCreated || i.Status == models.StateAwaitingVerification {
			if i.Expired(now) {
				res = append(res, i)
			}
		}
	}
	return limitIntents(res, limit), nil
}

func (m *MemoryStore) ConsumeProof(_ context.Context, rail models.Rail, ref, intentId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := proofKey{rail: rail, ref: ref}
	if owner, ok := m.proofs[k]; ok {
		if owner == intentId {
			return nil
		}
		return models.ErrReplaySignal
	}
	m.proofs[k] = intentId
	return nil
}

func limitIntents(res []models.PaymentIntent, limit int) []models.PaymentIntent {
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

// ledger

func (m *MemoryStore) AppendAtomic(_ context.Context, key string, entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.batches[key]; ok {
		return m.collect(idx), models.ErrConflict
	}

	if err := validateBatch(key, entries); err != nil {
		return nil, err
	}

	// stage everything first so a rejected batch leaves no trace
	users := make(map[int64]models.User)
	balances := make(map[balanceKey]int64)
	staged := make([]models.LedgerEntry, 0, len(entries))

	for _, e := range entries {
		u, ok := users[e.UserId]
		if !ok {
			u, ok = m.users[e.UserId]
			if !ok {
				return nil, models.ErrNotFound
			}
		}

		bk := balanceKey{userId: e.UserId, unit: e.Unit}
		bal, ok := balances[bk]
		if !ok {
			bal = m.balances[bk]
		}
		bal += e.Amount
		if e.Kind == models.EntryDebit && bal < 0 {
			return nil, models.ErrInsufficientBalance
		}
		balances[bk] = bal

		e.PreviousHash = u.LastEntryHash
		e.Hash = e.GenerateHash()
		u.LastEntryHash = e.Hash
		applyCommission(&u, e)
		users[e.UserId] = u

		staged = append(staged, e)
	}

	idx := make([]int, 0, len(staged))
	for _, e := range staged {
		idx = append(idx, len(m.entries))
		m.entries = append(m.entries, e)
	}
	m.batches[key] = idx
	for k, v := range balances {
		m.balances[k] = v
	}
	for id, u := range users {
		m.users[id] = u
	}

	return staged, nil
}

func (m *MemoryStore) collect(idx []int) []models.LedgerEntry {
	res := make([]models.LedgerEntry, 0, len(idx))
	for _, i := range idx {
		res = append(res, m.entries[i])
	}
	return res
}

func (m *MemoryStore) EntriesByKey(_ context.Context, key string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.collect(m.batches[key]), nil
}

func (m *MemoryStore) EntriesByUser(_ context.Context, userId int64) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []models.LedgerEntry
	for _, e := range m.entries {
		if e.UserId == userId {
			res = append(res, e)
		}
	}
	return res, nil
}

func (m *MemoryStore) BalanceOf(_ context.Context, userId int64, unit models.Unit) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances[balanceKey{userId: userId, unit: unit}], nil
}

func (m *MemoryStore) SumAllEntries(_ context.Context) (map[models.Unit]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entrySums(), nil
}

func (m *MemoryStore) SumAllBalances(_ context.Context) (map[models.Unit]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balanceSums(), nil
}

func (m *MemoryStore) Totals(_ context.Context) (map[models.Unit]int64, map[models.Unit]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entrySums(), m.balanceSums(), nil
}

func (m *MemoryStore) entrySums() map[models.Unit]int64 {
	res := make(map[models.Unit]int64)
	for _, e := range m.entries {
		res[e.Unit] += e.Amount
	}
	return res
}

func (m *MemoryStore) balanceSums() map[models.Unit]int64 {
	res := make(map[models.Unit]int64)
	for k, v := range m.balances {
		res[k.unit] += v
	}
	return res
}

func (m *MemoryStore) UserChain(_ context.Context, userId int64) ([]models.LedgerEntry, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userId]
	if !ok {
		return nil, "", models.ErrNotFound
	}
	var res []models.LedgerEntry
	for _, e := range m.entries {
		if e.UserId == userId {
			res = append(res, e)
		}
	}
	return res, u.LastEntryHash, nil
}

func (m *MemoryStore) BalanceDrift(_ context.Context) ([]models.BalanceDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sums := make(map[balanceKey]int64)
	for _, e := range m.entries {
		sums[balanceKey{userId: e.UserId, unit: e.Unit}] += e.Amount
	}
	keys := make(map[balanceKey]struct{})
	for k := range sums {
		keys[k] = struct{}{}
	}
	for k := range m.balances {
		keys[k] = struct{}{}
	}

	var res []models.BalanceDrift
	for k := range keys {
		if sums[k] != m.balances[k] {
			res = append(res, models.BalanceDrift{
				UserId:     k.userId,
				Unit:       k.unit,
				EntriesSum: sums[k],
				Balance:    m.balances[k],
			})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserId < res[j].UserId })
	return res, nil
}

func (m *MemoryStore) LedgerUsers(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int64]struct{})
	var res []int64
	for _, e := range m.entries {
		if _, ok := seen[e.UserId]; !ok {
			seen[e.UserId] = struct{}{}
			res = append(res, e.UserId)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}
