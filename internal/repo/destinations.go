package repo

import (
	"context"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/rs/zerolog/log"
)

type destinationRow struct {
	ID         int64  `db:"id" goqu:"skipinsert,skipupdate"`
	URL        string `db:"url"`
	VisitCount int64  `db:"visit_count"`
	CreatedAt  Date   `db:"created_at" goqu:"skipupdate"`
}

var destinationColumns = []any{"id", "url", "visit_count", "created_at"}

type DestinationsRepo struct {
	q querier
}

// ByURL returns nil without an error when the URL has never been shortened.
func (r *DestinationsRepo) ByURL(ctx context.Context, url string) (*internal.Destination, error) {
	var row destinationRow
	found, err := r.q.From("destinations").Select(destinationColumns...).
		Where(goqu.Ex{"url": url}).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return row.toDomain(), nil
}

// FindOrCreate returns the destination row for url, inserting it on first use.
func (r *DestinationsRepo) FindOrCreate(ctx context.Context, url string) (*internal.Destination, error) {
	existing, err := r.ByURL(ctx, url)
	if err != nil || existing != nil {
		return existing, err
	}

	log.Debug().Str("url", url).Msg("creating destination")

	row := destinationRow{URL: url, CreatedAt: NewDate(time.Now())}
	found, err := r.q.Insert("destinations").Rows(row).Returning(destinationColumns...).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, translateError(err)
	}
	if !found {
		return nil, errNoRowReturned
	}
	return row.toDomain(), nil
}

func (r *DestinationsRepo) IncrementVisits(ctx context.Context, id int64) error {
	_, err := r.q.Update("destinations").
		Set(goqu.Record{"visit_count": goqu.L(`"visit_count" + 1`)}).
		Where(goqu.Ex{"id": id}).
		Executor().ExecContext(ctx)
	return err
}

func (r *DestinationsRepo) LinkAccount(ctx context.Context, accountID, destinationID int64) error {
	_, err := r.q.Insert("account_destinations").
		Rows(goqu.Record{"account_id": accountID, "destination_id": destinationID}).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	return err
}

func (r *DestinationsRepo) UnlinkAccount(ctx context.Context, accountID, destinationID int64) error {
	_, err := r.q.Delete("account_destinations").
		Where(goqu.Ex{"account_id": accountID, "destination_id": destinationID}).
		Executor().ExecContext(ctx)
	return err
}

// ListForAccount returns the destinations the account is linked to, newest first.
func (r *DestinationsRepo) ListForAccount(ctx context.Context, accountID int64) ([]*internal.Destination, error) {
	query := r.q.From(goqu.T("destinations").As("d")).
		Join(goqu.T("account_destinations").As("ad"), goqu.On(goqu.I("ad.destination_id").Eq(goqu.I("d.id")))).
		Where(goqu.I("ad.account_id").Eq(accountID)).
		Select(
			goqu.I("d.id").As("id"),
			goqu.I("d.url").As("url"),
			goqu.I("d.visit_count").As("visit_count"),
			goqu.I("d.created_at").As("created_at"),
		).
		Order(goqu.I("d.created_at").Desc(), goqu.I("d.id").Desc())

	var rows []destinationRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}
	return destinationsToDomain(rows), nil
}

func (r *DestinationsRepo) ByPopularity(ctx context.Context) ([]*internal.Destination, error) {
	return r.ordered(ctx, goqu.C("visit_count").Desc(), goqu.C("id").Asc())
}

func (r *DestinationsRepo) ByDateAdded(ctx context.Context) ([]*internal.Destination, error) {
	return r.ordered(ctx, goqu.C("created_at").Desc(), goqu.C("id").Desc())
}

func (r *DestinationsRepo) ordered(ctx context.Context, order ...exp.OrderedExpression) ([]*internal.Destination, error) {
	var rows []destinationRow
	err := r.q.From("destinations").Select(destinationColumns...).Order(order...).
		Executor().ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return destinationsToDomain(rows), nil
}

func destinationsToDomain(rows []destinationRow) []*internal.Destination {
	out := make([]*internal.Destination, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

func (r *destinationRow) toDomain() *internal.Destination {
	return &internal.Destination{
		ID:         r.ID,
		URL:        r.URL,
		VisitCount: r.VisitCount,
		CreatedAt:  r.CreatedAt.Time(),
	}
}
