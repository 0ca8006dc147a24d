package database

import (
	"context"
	"fmt"
	"time"

	"spinsettle/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var log = config.InitLogger()

type Postgres struct {
	Db *sqlx.DB
}

func NewPostgres(config *config.PostgresConfig) (*Postgres, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&client_encoding=%s",
		config.User,
		config.Password,
		config.Host,
		config.Port,
		config.DBName,
		"UTF8",
	)

	return Connect(connStr)
}

// Connect opens a pool for an already assembled connection string.
func Connect(connStr string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		log.Error("Failed to connect to database: ", err)
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Postgres{
		Db: db,
	}, nil
}

func (p *Postgres) Close() error {
	err := p.Db.Close()
	if err != nil {
		log.Error("Error closing database: ", err)
		return err
	}

	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.Db.PingContext(ctx)
}
