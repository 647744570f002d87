package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func seedBinding(t *testing.T, s *Store, code string) (*internal.Account, *internal.Binding) {
	t.Helper()
	ctx := context.Background()
	account, err := s.Accounts.Create(ctx, internal.Account{Email: code + "@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	dest, err := s.Destinations.FindOrCreate(ctx, "https://example.com/"+code)
	require.NoError(t, err)
	binding, err := s.Bindings.Create(ctx, code, account.ID, dest.ID)
	require.NoError(t, err)
	return account, binding
}

func TestDateRoundTrip(t *testing.T) {
	in := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("X", 3*3600))

	value, err := NewDate(in).Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T09:30:45.123456789Z", value)

	var out Date
	require.NoError(t, out.Scan(value))
	assert.True(t, in.Equal(out.Time()))

	require.NoError(t, out.Scan("2024-03-01 09:30:45"))
	assert.Equal(t, 9, out.Time().Hour())

	var empty *Date
	assert.Nil(t, empty.TimePtr())
}

func TestBindingCodesAreUnique(t *testing.T) {
	s := newTestStore(t)
	account, binding := seedBinding(t, s, "abc123")

	dest, err := s.Destinations.FindOrCreate(context.Background(), "https://example.com/other")
	require.NoError(t, err)

	_, err = s.Bindings.Create(context.Background(), binding.Code, account.ID, dest.ID)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOneLiveBindingPerDestination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, binding := seedBinding(t, s, "first1")

	_, err := s.Bindings.Create(ctx, "second", account.ID, binding.DestinationID)
	require.ErrorIs(t, err, ErrLiveBindingExists)
	assert.NotErrorIs(t, err, ErrDuplicate)

	require.NoError(t, s.Bindings.MarkDeleted(ctx, binding.ID))
	again, err := s.Bindings.Create(ctx, "second", account.ID, binding.DestinationID)
	require.NoError(t, err)

	live, err := s.Bindings.LiveFor(ctx, account.ID, binding.DestinationID)
	require.NoError(t, err)
	assert.Equal(t, again.ID, live.ID)
}

func TestConcurrentVisitCounting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, binding := seedBinding(t, s, "hot123")

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx *Repos) error {
				if err := tx.Bindings.IncrementVisits(ctx, binding.ID); err != nil {
					return err
				}
				return tx.Destinations.IncrementVisits(ctx, binding.DestinationID)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Bindings.ByID(ctx, binding.ID)
	require.NoError(t, err)
	assert.EqualValues(t, n, got.VisitCount)

	dests, err := s.Destinations.ByPopularity(ctx)
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.EqualValues(t, n, dests[0].VisitCount)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, binding := seedBinding(t, s, "keep12")

	err := s.InTx(ctx, func(tx *Repos) error {
		require.NoError(t, tx.Bindings.MarkDeleted(ctx, binding.ID))
		return internal.ErrConflict
	})
	require.ErrorIs(t, err, internal.ErrConflict)

	got, err := s.Bindings.ByID(ctx, binding.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
}

func TestVisitStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, binding := seedBinding(t, s, "stat12")

	stats, err := s.Visits.StatsForBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Nil(t, stats.LastVisitedAt)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, s.Visits.Create(ctx, internal.Visit{
			BindingID: binding.ID,
			IPAddress: "127.0.0.1",
			VisitedAt: first.Add(time.Duration(i) * time.Hour),
		}))
	}

	stats, err = s.Visits.StatsForBinding(ctx, binding.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	require.NotNil(t, stats.LastVisitedAt)
	assert.True(t, first.Add(2*time.Hour).Equal(*stats.LastVisitedAt))

	visits, err := s.Visits.ListForBinding(ctx, binding.ID)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	assert.True(t, visits[0].VisitedAt.After(visits[2].VisitedAt))
}

func TestRebindOntoBoundDestination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, first := seedBinding(t, s, "rebd01")

	other, err := s.Destinations.FindOrCreate(ctx, "https://example.com/other")
	require.NoError(t, err)
	second, err := s.Bindings.Create(ctx, "rebd02", account.ID, other.ID)
	require.NoError(t, err)

	err = s.Bindings.Rebind(ctx, second.ID, first.DestinationID, time.Now())
	assert.ErrorIs(t, err, ErrLiveBindingExists)
}

func TestListByAccountCarriesLastVisit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	account, visited := seedBinding(t, s, "seen01")

	other, err := s.Destinations.FindOrCreate(ctx, "https://example.com/quiet")
	require.NoError(t, err)
	quiet, err := s.Bindings.Create(ctx, "quiet1", account.ID, other.ID)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := range 2 {
		require.NoError(t, s.Visits.Create(ctx, internal.Visit{
			BindingID: visited.ID,
			IPAddress: "127.0.0.1",
			VisitedAt: at.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.Bindings.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := map[int64]*internal.Binding{list[0].ID: list[0], list[1].ID: list[1]}
	require.NotNil(t, byID[visited.ID].LastVisitedAt)
	assert.True(t, at.Add(time.Minute).Equal(*byID[visited.ID].LastVisitedAt))
	assert.Nil(t, byID[quiet.ID].LastVisitedAt)
	assert.Equal(t, "https://example.com/seen01", byID[visited.ID].DestinationURL)
}
