package repositories

import (
	"context"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/models"

	"github.com/jmoiron/sqlx"
)

var log = config.InitLogger()

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

func (u *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.LastEntryHash == "" {
		user.LastEntryHash = models.GenesisHash
	}

	_, err := u.db.NamedExecContext(
		ctx,
		`insert into usr (id, username, referral_role, last_entry_hash, created_at)
		values (:id, :username, :referral_role, :last_entry_hash, :created_at)`,
		user,
	)
	if err != nil {
		log.Error("Failed save user ", err)
		return classify(err)
	}

	return nil
}

func (u *UserRepository) FindUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var user models.User

	err := u.db.GetContext(
		ctx,
		&user,
		"select * from usr where id=$1",
		id,
	)
	if err != nil {
		return nil, classify(err)
	}

	return &user, nil
}

func (u *UserRepository) SetHold(ctx context.Context, id int64, hold bool, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if !hold {
		reason = ""
	}

	res, err := u.db.ExecContext(
		ctx,
		"update usr set integrity_hold = $2, integrity_hold_reason = $3 where id = $1",
		id, hold, reason,
	)
	if err != nil {
		log.Error("Failed update hold flag: ", err)
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (u *UserRepository) HeldUsers(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var users []models.User

	if err := u.db.SelectContext(ctx, &users, "select * from usr where integrity_hold order by id"); err != nil {
		log.Error("Failed find held users ", err)
		return nil, classify(err)
	}

	return users, nil
}
