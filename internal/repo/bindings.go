package repo

import (
	"context"
	"errors"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/rs/zerolog/log"
)

type bindingRow struct {
	ID             int64  `db:"id"`
	Code           string `db:"code"`
	AccountID      int64  `db:"account_id"`
	DestinationID  int64  `db:"destination_id"`
	DestinationURL string `db:"destination_url"`
	Active         bool   `db:"active"`
	Deleted        bool   `db:"deleted"`
	VisitCount     int64  `db:"visit_count"`
	CreatedAt      Date   `db:"created_at"`
}

type bindingVisitRow struct {
	bindingRow
	LastVisitedAt *Date `db:"last_visited_at"`
}

type BindingsRepo struct {
	q querier
}

// Create inserts a live, active binding. A taken code surfaces as ErrDuplicate.
func (r *BindingsRepo) Create(ctx context.Context, code string, accountID, destinationID int64) (*internal.Binding, error) {
	log.Debug().Str("code", code).Int64("account_id", accountID).Msg("creating binding")

	record := goqu.Record{
		"code":           code,
		"account_id":     accountID,
		"destination_id": destinationID,
		"active":         true,
		"deleted":        false,
		"visit_count":    0,
		"created_at":     NewDate(time.Now()),
	}

	var id int64
	found, err := r.q.Insert("bindings").Rows(record).Returning("id").
		Executor().ScanValContext(ctx, &id)
	if err != nil {
		err = translateError(err)
		if errors.Is(err, ErrDuplicate) {
			// the code is free, so the one-live-binding index rejected the row
			if taken, cerr := r.CodeExists(ctx, code); cerr == nil && !taken {
				return nil, ErrLiveBindingExists
			}
		}
		return nil, err
	}
	if !found {
		return nil, errNoRowReturned
	}

	log.Info().Int64("binding_id", id).Str("code", code).Msg("binding created")
	return r.ByID(ctx, id)
}

// ByCode looks the code up among all bindings, deleted ones included.
func (r *BindingsRepo) ByCode(ctx context.Context, code string) (*internal.Binding, error) {
	return r.one(ctx, goqu.I("b.code").Eq(code))
}

func (r *BindingsRepo) ByID(ctx context.Context, id int64) (*internal.Binding, error) {
	return r.one(ctx, goqu.I("b.id").Eq(id))
}

// LiveFor returns the account's non-deleted binding to the destination, if any.
func (r *BindingsRepo) LiveFor(ctx context.Context, accountID, destinationID int64) (*internal.Binding, error) {
	return r.one(ctx,
		goqu.I("b.account_id").Eq(accountID),
		goqu.I("b.destination_id").Eq(destinationID),
		goqu.I("b.deleted").IsFalse(),
	)
}

func (r *BindingsRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	count, err := r.q.From("bindings").Where(goqu.Ex{"code": code}).CountContext(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByAccount returns the account's non-deleted bindings, newest first,
// each with the time of its latest visit.
func (r *BindingsRepo) ListByAccount(ctx context.Context, accountID int64) ([]*internal.Binding, error) {
	lastVisits := r.q.From("visits").
		Select(goqu.C("binding_id"), goqu.MAX("visited_at").As("last_visited_at")).
		GroupBy("binding_id")

	query := r.selectBindings().
		LeftJoin(lastVisits.As("v"), goqu.On(goqu.I("v.binding_id").Eq(goqu.I("b.id")))).
		SelectAppend(goqu.I("v.last_visited_at").As("last_visited_at")).
		Where(goqu.I("b.account_id").Eq(accountID), goqu.I("b.deleted").IsFalse()).
		Order(goqu.I("b.created_at").Desc(), goqu.I("b.id").Desc())

	var rows []bindingVisitRow
	if err := query.Executor().ScanStructsContext(ctx, &rows); err != nil {
		return nil, err
	}

	bindings := make([]*internal.Binding, len(rows))
	for i := range rows {
		bindings[i] = rows[i].toDomain()
		bindings[i].LastVisitedAt = rows[i].LastVisitedAt.TimePtr()
	}
	return bindings, nil
}

// ByPopularity ranks every non-deleted binding by visit count.
func (r *BindingsRepo) ByPopularity(ctx context.Context) ([]*internal.Binding, error) {
	return r.many(ctx,
		[]exp.OrderedExpression{goqu.I("b.visit_count").Desc(), goqu.I("b.id").Asc()},
		goqu.I("b.deleted").IsFalse(),
	)
}

// ByDateAdded ranks every non-deleted binding by creation time.
func (r *BindingsRepo) ByDateAdded(ctx context.Context) ([]*internal.Binding, error) {
	return r.many(ctx,
		[]exp.OrderedExpression{goqu.I("b.created_at").Desc(), goqu.I("b.id").Desc()},
		goqu.I("b.deleted").IsFalse(),
	)
}

// IncrementVisits bumps the counter in place so concurrent redirects do not
// lose updates.
func (r *BindingsRepo) IncrementVisits(ctx context.Context, id int64) error {
	return r.update(ctx, id, goqu.Record{"visit_count": goqu.L(`"visit_count" + 1`)})
}

func (r *BindingsRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, id, goqu.Record{"active": active})
}

func (r *BindingsRepo) MarkDeleted(ctx context.Context, id int64) error {
	return r.update(ctx, id, goqu.Record{"deleted": true})
}

// Rebind points the binding at another destination and restarts its statistics.
func (r *BindingsRepo) Rebind(ctx context.Context, id, destinationID int64, at time.Time) error {
	err := r.update(ctx, id, goqu.Record{
		"destination_id": destinationID,
		"visit_count":    0,
		"created_at":     NewDate(at),
	})
	if errors.Is(err, ErrDuplicate) {
		return ErrLiveBindingExists
	}
	return err
}

func (r *BindingsRepo) update(ctx context.Context, id int64, set goqu.Record) error {
	_, err := r.q.Update("bindings").Set(set).Where(goqu.Ex{"id": id}).
		Executor().ExecContext(ctx)
	return translateError(err)
}

func (r *BindingsRepo) selectBindings() *goqu.SelectDataset {
	return r.q.From(goqu.T("bindings").As("b")).
		Join(goqu.T("destinations").As("d"), goqu.On(goqu.I("d.id").Eq(goqu.I("b.destination_id")))).
		Select(
			goqu.I("b.id").As("id"),
			goqu.I("b.code").As("code"),
			goqu.I("b.account_id").As("account_id"),
			goqu.I("b.destination_id").As("destination_id"),
			goqu.I("d.url").As("destination_url"),
			goqu.I("b.active").As("active"),
			goqu.I("b.deleted").As("deleted"),
			goqu.I("b.visit_count").As("visit_count"),
			goqu.I("b.created_at").As("created_at"),
		)
}

// one returns nil without an error when nothing matches.
func (r *BindingsRepo) one(ctx context.Context, where ...exp.Expression) (*internal.Binding, error) {
	var row bindingRow
	found, err := r.selectBindings().Where(where...).Limit(1).
		Executor().ScanStructContext(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return row.toDomain(), nil
}

func (r *BindingsRepo) many(ctx context.Context, order []exp.OrderedExpression, where ...exp.Expression) ([]*internal.Binding, error) {
	var rows []bindingRow
	err := r.selectBindings().Where(where...).Order(order...).
		Executor().ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, err
	}

	bindings := make([]*internal.Binding, len(rows))
	for i := range rows {
		bindings[i] = rows[i].toDomain()
	}
	return bindings, nil
}

func (r *bindingRow) toDomain() *internal.Binding {
	return &internal.Binding{
		ID:             r.ID,
		Code:           r.Code,
		AccountID:      r.AccountID,
		DestinationID:  r.DestinationID,
		DestinationURL: r.DestinationURL,
		Active:         r.Active,
		Deleted:        r.Deleted,
		VisitCount:     r.VisitCount,
		CreatedAt:      r.CreatedAt.Time(),
	}
}
