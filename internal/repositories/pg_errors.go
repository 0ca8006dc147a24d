package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"spinsettle/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// classify maps driver errors onto the domain errors callers branch on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", models.ErrNotFound, pqErr.Constraint)
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", models.ErrTransientStorage, pqErr.Message)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %s", models.ErrTransientStorage, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrTransientStorage, err)
	}
	return err
}

func rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error("Failed to rollback transaction: ", err)
	}
}
