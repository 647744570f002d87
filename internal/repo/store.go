package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect is goqu's default dialect, which renders RETURNING and
// ON CONFLICT clauses that SQLite understands.
const dialect = "sqlite"

var (
	ErrDuplicate = errors.New("duplicate row")
	// ErrLiveBindingExists means the account already has a non-deleted
	// binding to the destination.
	ErrLiveBindingExists = errors.New("live binding to destination already exists")
	errNoRowReturned     = errors.New("insert returned no rows")
)

// querier is satisfied by both *goqu.Database and *goqu.TxDatabase.
type querier interface {
	From(from ...any) *goqu.SelectDataset
	Insert(table any) *goqu.InsertDataset
	Update(table any) *goqu.UpdateDataset
	Delete(table any) *goqu.DeleteDataset
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Accounts     *AccountsRepo
	Destinations *DestinationsRepo
	Bindings     *BindingsRepo
	Visits       *VisitsRepo
}

func newRepos(q querier) *Repos {
	return &Repos{
		Accounts:     &AccountsRepo{q: q},
		Destinations: &DestinationsRepo{q: q},
		Bindings:     &BindingsRepo{q: q},
		Visits:       &VisitsRepo{q: q},
	}
}

// Store exposes the repositories outside a transaction and opens units of
// work with InTx.
type Store struct {
	*Repos
	db *goqu.Database
}

func NewStore(db *sql.DB) *Store {
	gdb := goqu.New(dialect, db)
	return &Store{Repos: newRepos(gdb), db: gdb}
}

// InTx runs fn in a single transaction. It commits when fn returns nil and
// rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx.Wrap(func() error {
		return fn(newRepos(tx))
	})
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	// libsql reports constraint failures as plain text
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
