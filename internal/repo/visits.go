package repo

import (
	"context"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type visitRow struct {
	ID        int64  `db:"id" goqu:"skipinsert"`
	BindingID int64  `db:"binding_id"`
	IPAddress string `db:"ip_address"`
	Browser   string `db:"browser"`
	Platform  string `db:"platform"`
	VisitedAt Date   `db:"visited_at"`
}

type visitStatsRow struct {
	Total         int64 `db:"total"`
	LastVisitedAt *Date `db:"last_visited_at"`
}

var visitColumns = []any{"id", "binding_id", "ip_address", "browser", "platform", "visited_at"}

type VisitsRepo struct {
	q querier
}

func (r *VisitsRepo) Create(ctx context.Context, visit internal.Visit) error {
	log.Debug().Int64("binding_id", visit.BindingID).Str("ip", visit.IPAddress).Msg("recording visit")

	row := visitRow{
		BindingID: visit.BindingID,
		IPAddress: visit.IPAddress,
		Browser:   visit.Browser,
		Platform:  visit.Platform,
		VisitedAt: NewDate(time.Now()),
	}
	if !visit.VisitedAt.IsZero() {
		row.VisitedAt = NewDate(visit.VisitedAt)
	}

	_, err := r.q.Insert("visits").Rows(row).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("binding_id", visit.BindingID).Msg("failed to record visit")
		return err
	}
	return nil
}

func (r *VisitsRepo) ListForBinding(ctx context.Context, bindingID int64) ([]internal.Visit, error) {
	var rows []visitRow
	err := r.q.From("visits").Select(visitColumns...).
		Where(goqu.Ex{"binding_id": bindingID}).
		Order(goqu.C("visited_at").Desc(), goqu.C("id").Desc()).
		Executor().ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, err
	}

	visits := make([]internal.Visit, len(rows))
	for i, row := range rows {
		visits[i] = internal.Visit{
			ID:        row.ID,
			BindingID: row.BindingID,
			IPAddress: row.IPAddress,
			Browser:   row.Browser,
			Platform:  row.Platform,
			VisitedAt: row.VisitedAt.Time(),
		}
	}
	return visits, nil
}

func (r *VisitsRepo) StatsForBinding(ctx context.Context, bindingID int64) (internal.VisitStats, error) {
	query := r.q.From("visits").Where(goqu.Ex{"binding_id": bindingID}).Select(
		goqu.COUNT("*").As("total"),
		goqu.MAX("visited_at").As("last_visited_at"),
	)

	var row visitStatsRow
	if _, err := query.Executor().ScanStructContext(ctx, &row); err != nil {
		return internal.VisitStats{}, err
	}
	return internal.VisitStats{
		Total:         row.Total,
		LastVisitedAt: row.LastVisitedAt.TimePtr(),
	}, nil
}
