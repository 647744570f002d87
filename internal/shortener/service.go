// Package shortener binds short codes to destination URLs on behalf of
// accounts and resolves them back on redirect.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/metrics"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/rs/zerolog/log"
)

// DefaultMaxCodeAttempts bounds random code generation per shorten request.
const DefaultMaxCodeAttempts = 10

type SortKind string

const (
	SortByPopularity SortKind = "popularity"
	SortByDate       SortKind = "date"
)

type SortScope string

const (
	ScopeShort SortScope = "shorturl"
	ScopeLong  SortScope = "longurl"
)

// DefaultReservedCodes are path segments served by fixed routes, so a
// binding with one of these codes could never be resolved.
var DefaultReservedCodes = []string{"api", "health", "metrics"}

type Option func(*Service)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

func WithMaxCodeAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReservedCodes adds codes that must never be handed out.
func WithReservedCodes(codes ...string) Option {
	return func(s *Service) {
		for _, code := range codes {
			s.reserved[code] = struct{}{}
		}
	}
}

type Service struct {
	store       *repo.Store
	generate    func() (string, error)
	maxAttempts int
	now         func() time.Time
	reserved    map[string]struct{}
}

func NewService(store *repo.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		generate:    GenerateCode,
		maxAttempts: DefaultMaxCodeAttempts,
		now:         time.Now,
		reserved:    make(map[string]struct{}),
	}
	for _, code := range DefaultReservedCodes {
		s.reserved[code] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shorten returns the account's binding for url, creating it when the
// account has none yet. created reports whether a new binding was made.
func (s *Service) Shorten(ctx context.Context, accountID int64, url, vanity string) (binding *internal.Binding, created bool, err error) {
	err = s.store.InTx(ctx, func(tx *repo.Repos) error {
		dest, err := tx.Destinations.ByURL(ctx, url)
		if err != nil {
			return err
		}
		if dest != nil {
			existing, err := tx.Bindings.LiveFor(ctx, accountID, dest.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				binding = existing
				metrics.BindingsCreated.WithLabelValues(metrics.OriginExisting).Inc()
				return nil
			}
		}

		if dest == nil {
			if dest, err = tx.Destinations.FindOrCreate(ctx, url); err != nil {
				return err
			}
		}

		if vanity != "" {
			binding, err = s.bindVanity(ctx, tx, accountID, dest.ID, vanity)
		} else {
			binding, err = s.bindRandom(ctx, tx, accountID, dest.ID)
		}
		if errors.Is(err, repo.ErrLiveBindingExists) {
			// lost a race against a concurrent shorten of the same url
			binding, err = tx.Bindings.LiveFor(ctx, accountID, dest.ID)
			if err == nil && binding == nil {
				err = repo.ErrLiveBindingExists
			}
			if err != nil {
				return err
			}
			metrics.BindingsCreated.WithLabelValues(metrics.OriginExisting).Inc()
			return nil
		}
		if err != nil {
			return err
		}
		created = true

		return tx.Destinations.LinkAccount(ctx, accountID, dest.ID)
	})
	if err != nil {
		return nil, false, err
	}
	return binding, created, nil
}

func (s *Service) bindVanity(ctx context.Context, tx *repo.Repos, accountID, destinationID int64, vanity string) (*internal.Binding, error) {
	if s.isReserved(vanity) {
		return nil, internal.ErrVanityTaken
	}
	taken, err := tx.Bindings.CodeExists(ctx, vanity)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, internal.ErrVanityTaken
	}

	binding, err := tx.Bindings.Create(ctx, vanity, accountID, destinationID)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, internal.ErrVanityTaken
	}
	if err != nil {
		return nil, err
	}
	metrics.BindingsCreated.WithLabelValues(metrics.OriginVanity).Inc()
	return binding, nil
}

func (s *Service) bindRandom(ctx context.Context, tx *repo.Repos, accountID, destinationID int64) (*internal.Binding, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}

		if s.isReserved(code) {
			continue
		}
		taken, err := tx.Bindings.CodeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if taken {
			metrics.CodeCollisions.Inc()
			log.Info().Str("code", code).Int("attempt", attempt).Msg("collision detected, generating a new short code")
			continue
		}

		binding, err := tx.Bindings.Create(ctx, code, accountID, destinationID)
		if errors.Is(err, repo.ErrDuplicate) {
			metrics.CodeCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.BindingsCreated.WithLabelValues(metrics.OriginRandom).Inc()
		return binding, nil
	}

	log.Error().Int("attempts", s.maxAttempts).Msg("giving up on short code generation")
	return nil, internal.ErrCodeSpaceExhausted
}

func (s *Service) isReserved(code string) bool {
	_, ok := s.reserved[code]
	return ok
}

// Resolve returns the destination of code and records the visit.
func (s *Service) Resolve(ctx context.Context, code string, meta internal.VisitMeta) (string, error) {
	var destination string
	err := s.store.InTx(ctx, func(tx *repo.Repos) error {
		binding, err := tx.Bindings.ByCode(ctx, code)
		switch {
		case err != nil:
			return err
		case binding == nil:
			return internal.ErrNotFound
		case binding.Deleted:
			return internal.ErrGone
		case !binding.Active:
			return internal.ErrInactive
		}

		if err := tx.Bindings.IncrementVisits(ctx, binding.ID); err != nil {
			return err
		}
		if err := tx.Destinations.IncrementVisits(ctx, binding.DestinationID); err != nil {
			return err
		}

		browser, platform := parseUserAgent(meta.UserAgent)
		err = tx.Visits.Create(ctx, internal.Visit{
			BindingID: binding.ID,
			IPAddress: meta.IPAddress,
			Browser:   browser,
			Platform:  platform,
			VisitedAt: s.now(),
		})
		if err != nil {
			return err
		}

		destination = binding.DestinationURL
		return nil
	})

	metrics.Resolutions.WithLabelValues(resolutionOutcome(err)).Inc()
	if err != nil {
		return "", err
	}
	return destination, nil
}

func resolutionOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeRedirected
	case errors.Is(err, internal.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, internal.ErrGone):
		return metrics.OutcomeGone
	case errors.Is(err, internal.ErrInactive):
		return metrics.OutcomeInactive
	}
	return metrics.OutcomeError
}

// ChangeTarget points an owned binding at url. If the account already binds
// url, that binding is returned and nothing changes.
func (s *Service) ChangeTarget(ctx context.Context, accountID, bindingID int64, url string) (*internal.Binding, error) {
	var result *internal.Binding
	err := s.store.InTx(ctx, func(tx *repo.Repos) error {
		binding, err := ownedLive(ctx, tx, accountID, bindingID)
		if err != nil {
			return err
		}

		dest, err := tx.Destinations.ByURL(ctx, url)
		if err != nil {
			return err
		}
		if dest != nil {
			existing, err := tx.Bindings.LiveFor(ctx, accountID, dest.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				result = existing
				return nil
			}
		} else if dest, err = tx.Destinations.FindOrCreate(ctx, url); err != nil {
			return err
		}

		err = tx.Bindings.Rebind(ctx, binding.ID, dest.ID, s.now())
		if errors.Is(err, repo.ErrLiveBindingExists) {
			result, err = tx.Bindings.LiveFor(ctx, accountID, dest.ID)
			return err
		}
		if err != nil {
			return err
		}
		if err := tx.Destinations.LinkAccount(ctx, accountID, dest.ID); err != nil {
			return err
		}
		if err := unlinkIfUnused(ctx, tx, accountID, binding.DestinationID); err != nil {
			return err
		}

		log.Info().Int64("binding_id", binding.ID).Str("url", url).Msg("binding target changed")

		result, err = tx.Bindings.ByID(ctx, binding.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetActive switches an owned binding on or off. Asking for the state the
// binding is already in fails with ErrAlreadyInState.
func (s *Service) SetActive(ctx context.Context, accountID, bindingID int64, active bool) error {
	return s.store.InTx(ctx, func(tx *repo.Repos) error {
		binding, err := ownedLive(ctx, tx, accountID, bindingID)
		if err != nil {
			return err
		}
		if binding.Active == active {
			return internal.ErrAlreadyInState
		}
		return tx.Bindings.SetActive(ctx, binding.ID, active)
	})
}

// SoftDelete hides an owned binding from resolution and listings. The row
// stays for audit.
func (s *Service) SoftDelete(ctx context.Context, accountID, bindingID int64) error {
	return s.store.InTx(ctx, func(tx *repo.Repos) error {
		binding, err := owned(ctx, tx, accountID, bindingID)
		if err != nil {
			return err
		}
		if binding.Deleted {
			return internal.ErrGone
		}
		if err := tx.Bindings.MarkDeleted(ctx, binding.ID); err != nil {
			return err
		}
		return unlinkIfUnused(ctx, tx, accountID, binding.DestinationID)
	})
}

// ListForAccount returns the account's live bindings, newest first.
func (s *Service) ListForAccount(ctx context.Context, accountID int64) ([]*internal.Binding, error) {
	bindings, err := s.store.Bindings.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return bindings, nil
}

func (s *Service) DestinationsForAccount(ctx context.Context, accountID int64) ([]*internal.Destination, error) {
	return s.store.Destinations.ListForAccount(ctx, accountID)
}

// Visits returns the visit log of an owned binding. Deleted bindings keep
// their log.
func (s *Service) Visits(ctx context.Context, accountID, bindingID int64) ([]internal.Visit, internal.VisitStats, error) {
	if _, err := owned(ctx, s.store.Repos, accountID, bindingID); err != nil {
		return nil, internal.VisitStats{}, err
	}

	visits, err := s.store.Visits.ListForBinding(ctx, bindingID)
	if err != nil {
		return nil, internal.VisitStats{}, err
	}
	stats, err := s.store.Visits.StatsForBinding(ctx, bindingID)
	if err != nil {
		return nil, internal.VisitStats{}, err
	}
	return visits, stats, nil
}

// Sort ranks all live bindings or all destinations.
func (s *Service) Sort(ctx context.Context, kind SortKind, scope SortScope) ([]internal.Summary, error) {
	switch scope {
	case ScopeShort:
		var bindings []*internal.Binding
		var err error
		switch kind {
		case SortByPopularity:
			bindings, err = s.store.Bindings.ByPopularity(ctx)
		case SortByDate:
			bindings, err = s.store.Bindings.ByDateAdded(ctx)
		default:
			return nil, invalidSort(kind, scope)
		}
		if err != nil {
			return nil, err
		}
		summaries := make([]internal.Summary, len(bindings))
		for i, b := range bindings {
			summaries[i] = internal.Summary{URL: b.Code, VisitCount: b.VisitCount, CreatedAt: b.CreatedAt}
		}
		return summaries, nil

	case ScopeLong:
		var dests []*internal.Destination
		var err error
		switch kind {
		case SortByPopularity:
			dests, err = s.store.Destinations.ByPopularity(ctx)
		case SortByDate:
			dests, err = s.store.Destinations.ByDateAdded(ctx)
		default:
			return nil, invalidSort(kind, scope)
		}
		if err != nil {
			return nil, err
		}
		summaries := make([]internal.Summary, len(dests))
		for i, d := range dests {
			summaries[i] = internal.Summary{URL: d.URL, VisitCount: d.VisitCount, CreatedAt: d.CreatedAt}
		}
		return summaries, nil
	}
	return nil, invalidSort(kind, scope)
}

func invalidSort(kind SortKind, scope SortScope) error {
	return fmt.Errorf("%w: cannot sort %q by %q", internal.ErrValidation, scope, kind)
}

// owned hides other accounts' bindings behind ErrNotFound.
func owned(ctx context.Context, tx *repo.Repos, accountID, bindingID int64) (*internal.Binding, error) {
	binding, err := tx.Bindings.ByID(ctx, bindingID)
	if err != nil {
		return nil, err
	}
	if binding == nil || binding.AccountID != accountID {
		return nil, internal.ErrNotFound
	}
	return binding, nil
}

func ownedLive(ctx context.Context, tx *repo.Repos, accountID, bindingID int64) (*internal.Binding, error) {
	binding, err := owned(ctx, tx, accountID, bindingID)
	if err != nil {
		return nil, err
	}
	if binding.Deleted {
		return nil, internal.ErrNotFound
	}
	return binding, nil
}

func unlinkIfUnused(ctx context.Context, tx *repo.Repos, accountID, destinationID int64) error {
	remaining, err := tx.Bindings.LiveFor(ctx, accountID, destinationID)
	if err != nil {
		return err
	}
	if remaining != nil {
		return nil
	}
	return tx.Destinations.UnlinkAccount(ctx, accountID, destinationID)
}
