package repo

import (
	"context"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type accountRow struct {
	ID           int64  `db:"id" goqu:"skipinsert,skipupdate"`
	Email        string `db:"email"`
	FirstName    string `db:"first_name"`
	LastName     string `db:"last_name"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    Date   `db:"created_at" goqu:"skipupdate"`
}

var accountColumns = []any{"id", "email", "first_name", "last_name", "password_hash", "created_at"}

type AccountsRepo struct {
	q querier
}

func (r *AccountsRepo) Create(ctx context.Context, account internal.Account) (*internal.Account, error) {
	log.Debug().Str("email", account.Email).Msg("creating account")

	row := accountRow{
		Email:        account.Email,
		FirstName:    account.FirstName,
		LastName:     account.LastName,
		PasswordHash: account.PasswordHash,
		CreatedAt:    NewDate(time.Now()),
	}
	query := r.q.Insert("accounts").Rows(row).Returning(accountColumns...)

	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, translateError(err)
	}
	if !found {
		return nil, errNoRowReturned
	}

	log.Info().Int64("account_id", row.ID).Msg("account created")
	return row.toDomain(), nil
}

func (r *AccountsRepo) ByEmail(ctx context.Context, email string) (*internal.Account, error) {
	return r.one(ctx, goqu.Ex{"email": email})
}

func (r *AccountsRepo) ByID(ctx context.Context, id int64) (*internal.Account, error) {
	return r.one(ctx, goqu.Ex{"id": id})
}

// one returns nil without an error when nothing matches.
func (r *AccountsRepo) one(ctx context.Context, where goqu.Ex) (*internal.Account, error) {
	var row accountRow
	found, err := r.q.From("accounts").Select(accountColumns...).Where(where).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return row.toDomain(), nil
}

func (r *accountRow) toDomain() *internal.Account {
	return &internal.Account{
		ID:           r.ID,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.Time(),
	}
}
