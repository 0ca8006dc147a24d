package services

import (
	"context"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/models"

	"github.com/bwmarrin/snowflake"
)

var log = config.InitLogger()

type LedgerStore interface {
	AppendAtomic(ctx context.Context, key string, entries []models.LedgerEntry) ([]models.LedgerEntry, error)
	BalanceOf(ctx context.Context, userId int64, unit models.Unit) (int64, error)
	SumAllEntries(ctx context.Context) (map[models.Unit]int64, error)
	SumAllBalances(ctx context.Context) (map[models.Unit]int64, error)
	// Totals returns the entry and balance sums taken at one point in time.
	Totals(ctx context.Context) (entries, balances map[models.Unit]int64, err error)
	EntriesByKey(ctx context.Context, key string) ([]models.LedgerEntry, error)
	EntriesByUser(ctx context.Context, userId int64) ([]models.LedgerEntry, error)
	// UserChain returns the user's entries and stored chain head from one snapshot.
	UserChain(ctx context.Context, userId int64) ([]models.LedgerEntry, string, error)
	BalanceDrift(ctx context.Context) ([]models.BalanceDrift, error)
	LedgerUsers(ctx context.Context) ([]int64, error)
}

type IntentStore interface {
	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	FindIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindSettlement(ctx context.Context, id string) (*models.SettlementRecord, error)
	UpdateSettlement(ctx context.Context, rec *models.SettlementRecord) error
	FindByState(ctx context.Context, state models.SettlementState, dueBefore time.Time, limit int) ([]models.PaymentIntent, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	ConsumeProof(ctx context.Context, rail models.Rail, ref, intentId string) error
}

type ReferralStore interface {
	CreateEdges(ctx context.Context, referredId int64, edges []models.ReferralEdge) error
	EdgesOf(ctx context.Context, referredId int64) ([]models.ReferralEdge, error)
	SetEdgesDisabled(ctx context.Context, referrerId, referredId int64, disabled bool) (int, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUser(ctx context.Context, id int64) (*models.User, error)
	SetHold(ctx context.Context, id int64, hold bool, reason string) error
	HeldUsers(ctx context.Context) ([]models.User, error)
}

// IdGenerator hands out ledger entry ids.
type IdGenerator interface {
	NextId() int64
}

type SnowflakeIds struct {
	node *snowflake.Node
}

func NewSnowflakeIds(node int64) (*SnowflakeIds, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, err
	}
	return &SnowflakeIds{node: n}, nil
}

func (s *SnowflakeIds) NextId() int64 {
	return s.node.Generate().Int64()
}
