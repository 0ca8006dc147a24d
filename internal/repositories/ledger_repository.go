package repositories

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"spinsettle/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{
		db: db,
	}
}

type balanceRow struct {
	UserId int64       `db:"user_id"`
	Unit   models.Unit `db:"unit"`
	Amount int64       `db:"amount"`
}

// AppendAtomic writes the batch under its settlement key in one transaction.
// If the key was already used the stored batch is returned with ErrConflict
// and nothing is written.
func (r *LedgerRepository) AppendAtomic(ctx context.Context, key string, entries []models.LedgerEntry) ([]models.LedgerEntry, error) {
	if err := validateBatch(key, entries); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error(err)
		return nil, classify(err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		"insert into ledger_batch (settlement_key) values ($1) on conflict (settlement_key) do nothing",
		key,
	)
	if err != nil {
		log.Error("Error reserving settlement key: ", err)
		return nil, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		rollback(tx)
		existing, err := r.EntriesByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		return existing, models.ErrConflict
	}

	ids := make([]int64, 0, len(entries))
	seen := make(map[int64]struct{})
	for _, e := range entries {
		if _, ok := seen[e.UserId]; !ok {
			seen[e.UserId] = struct{}{}
			ids = append(ids, e.UserId)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var locked []models.User
	if err := tx.SelectContext(ctx, &locked,
		"select * from usr where id = any($1) order by id for update", pq.Array(ids),
	); err != nil {
		log.Error("Error locking users: ", err)
		return nil, classify(err)
	}
	if len(locked) != len(ids) {
		return nil, models.ErrNotFound
	}
	users := make(map[int64]*models.User, len(locked))
	for i := range locked {
		users[locked[i].Id] = &locked[i]
	}

	var rows []balanceRow
	if err := tx.SelectContext(ctx, &rows,
		"select user_id, unit, amount from balance where user_id = any($1)", pq.Array(ids),
	); err != nil {
		return nil, classify(err)
	}
	balances := make(map[balanceKey]int64, len(rows))
	for _, b := range rows {
		balances[balanceKey{userId: b.UserId, unit: b.Unit}] = b.Amount
	}
	touched := make(map[balanceKey]struct{})

	stored := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		u := users[e.UserId]

		bk := balanceKey{userId: e.UserId, unit: e.Unit}
		balances[bk] += e.Amount
		if e.Kind == models.EntryDebit && balances[bk] < 0 {
			return nil, models.ErrInsufficientBalance
		}
		touched[bk] = struct{}{}

		e.PreviousHash = u.LastEntryHash
		e.Hash = e.GenerateHash()
		u.LastEntryHash = e.Hash
		applyCommission(u, e)

		_, err := tx.NamedExecContext(ctx,
			`insert into ledger_entry (id, settlement_key, intent_id, kind, user_id, amount, unit, predecessor_id, created_at, previous_hash, hash)
			values (:id, :settlement_key, :intent_id, :kind, :user_id, :amount, :unit, :predecessor_id, :created_at, :previous_hash, :hash)`,
			e,
		)
		if err != nil {
			log.Error("Error inserting ledger entry: ", err)
			return nil, classify(err)
		}
		stored = append(stored, e)
	}

	for bk := range touched {
		_, err := tx.ExecContext(ctx,
			`insert into balance (user_id, unit, amount) values ($1, $2, $3)
			on conflict (user_id, unit) do update set amount = excluded.amount`,
			bk.userId, bk.unit, balances[bk],
		)
		if err != nil {
			log.Error("Error updating balance: ", err)
			return nil, classify(err)
		}
	}

	for _, id := range ids {
		u := users[id]
		_, err := tx.ExecContext(ctx,
			"update usr set last_entry_hash = $2, commission_stars = $3, commission_nano = $4 where id = $1",
			u.Id, u.LastEntryHash, u.CommissionStars, u.CommissionNano,
		)
		if err != nil {
			log.Error("Error updating user chain head: ", err)
			return nil, classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("Error committing ledger batch: ", err)
		return nil, classify(err)
	}

	return stored, nil
}

func (r *LedgerRepository) EntriesByKey(ctx context.Context, key string) ([]models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries,
		"select * from ledger_entry where settlement_key = $1 order by id", key,
	); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// EntriesByUser returns the user's entries in append order, which is the
// order of the hash chain.
func (r *LedgerRepository) EntriesByUser(ctx context.Context, userId int64) ([]models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries,
		"select * from ledger_entry where user_id = $1 order by id", userId,
	); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (r *LedgerRepository) BalanceOf(ctx context.Context, userId int64, unit models.Unit) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var amount int64
	err := r.db.GetContext(ctx, &amount,
		"select coalesce((select amount from balance where user_id = $1 and unit = $2), 0)", userId, unit,
	)
	if err != nil {
		return 0, classify(err)
	}
	return amount, nil
}

const (
	sumEntriesQuery  = "select unit, sum(amount)::bigint as total from ledger_entry group by unit"
	sumBalancesQuery = "select unit, sum(amount)::bigint as total from balance group by unit"
)

type unitSum struct {
	Unit  models.Unit `db:"unit"`
	Total int64       `db:"total"`
}

func (r *LedgerRepository) sumBy(ctx context.Context, query string) (map[models.Unit]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	return sumUnits(ctx, r.db, query)
}

func (r *LedgerRepository) SumAllEntries(ctx context.Context) (map[models.Unit]int64, error) {
	return r.sumBy(ctx, sumEntriesQuery)
}

func (r *LedgerRepository) SumAllBalances(ctx context.Context) (map[models.Unit]int64, error) {
	return r.sumBy(ctx, sumBalancesQuery)
}

// Totals returns both reconciliation sums from one repeatable-read snapshot,
// so a batch committing in between cannot make them disagree.
func (r *LedgerRepository) Totals(ctx context.Context) (map[models.Unit]int64, map[models.Unit]int64, error) {
	var entries, balances map[models.Unit]int64
	err := r.snapshot(ctx, func(tx *sqlx.Tx) error {
		var err error
		if entries, err = sumUnits(ctx, tx, sumEntriesQuery); err != nil {
			return err
		}
		balances, err = sumUnits(ctx, tx, sumBalancesQuery)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return entries, balances, nil
}

// UserChain returns the user's entries in append order together with the
// chain head stored on the user, both read from the same snapshot.
func (r *LedgerRepository) UserChain(ctx context.Context, userId int64) ([]models.LedgerEntry, string, error) {
	var entries []models.LedgerEntry
	var head string
	err := r.snapshot(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &head, "select last_entry_hash from usr where id = $1", userId); err != nil {
			return classify(err)
		}
		if err := tx.SelectContext(ctx, &entries,
			"select * from ledger_entry where user_id = $1 order by id", userId,
		); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return entries, head, nil
}

func (r *LedgerRepository) snapshot(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return classify(err)
	}
	defer rollback(tx)

	if err := fn(tx); err != nil {
		return err
	}
	return classify(tx.Commit())
}

func sumUnits(ctx context.Context, q sqlx.QueryerContext, query string) (map[models.Unit]int64, error) {
	var rows []unitSum
	if err := sqlx.SelectContext(ctx, q, &rows, query); err != nil {
		return nil, classify(err)
	}
	res := make(map[models.Unit]int64, len(rows))
	for _, s := range rows {
		res[s.Unit] = s.Total
	}
	return res, nil
}

func (r *LedgerRepository) BalanceDrift(ctx context.Context) ([]models.BalanceDrift, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var drift []models.BalanceDrift
	err := r.db.SelectContext(ctx, &drift,
		`select coalesce(e.user_id, b.user_id) as user_id, coalesce(e.unit, b.unit) as unit,
			coalesce(e.total, 0) as entries_sum, coalesce(b.amount, 0) as balance
		from (select user_id, unit, sum(amount)::bigint as total from ledger_entry group by user_id, unit) e
		full outer join balance b on b.user_id = e.user_id and b.unit = e.unit
		where coalesce(e.total, 0) <> coalesce(b.amount, 0)
		order by 1`,
	)
	if err != nil {
		return nil, classify(err)
	}
	return drift, nil
}

func (r *LedgerRepository) LedgerUsers(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, "select distinct user_id from ledger_entry order by user_id"); err != nil {
		return nil, classify(err)
	}
	return ids, nil
}
