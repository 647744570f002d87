package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/repo"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the caller as resolved from request credentials. A nil
// Account means anonymous.
type Identity struct {
	Account   *internal.Account
	TokenUsed bool
}

func (i Identity) Anonymous() bool {
	return i.Account == nil
}

type Registration struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type Authenticator struct {
	accounts   *repo.AccountsRepo
	jwtSecret  string
	tokenTTL   time.Duration
	bcryptCost int
}

func NewAuthenticator(accounts *repo.AccountsRepo, jwtSecret string, tokenTTL time.Duration) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &Authenticator{
		accounts:   accounts,
		jwtSecret:  jwtSecret,
		tokenTTL:   tokenTTL,
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (a *Authenticator) Register(ctx context.Context, reg Registration) (*internal.Account, error) {
	email := normalizeEmail(reg.Email)

	existing, err := a.accounts.ByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, internal.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := a.accounts.Create(ctx, internal.Account{
		Email:        email,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PasswordHash: string(hash),
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, internal.ErrEmailTaken
	}
	return account, err
}

// Authenticate resolves email and password to an account-level identity, or
// a token passed with an empty password to a token-level one.
func (a *Authenticator) Authenticate(ctx context.Context, emailOrToken, password string) (Identity, error) {
	if emailOrToken == "" {
		return Identity{}, nil
	}
	if password == "" {
		return a.authenticateToken(ctx, emailOrToken)
	}

	account, err := a.accounts.ByEmail(ctx, normalizeEmail(emailOrToken))
	if err != nil {
		return Identity{}, err
	}
	if account == nil {
		return Identity{}, internal.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Identity{}, internal.ErrUnauthenticated
	}
	return Identity{Account: account}, nil
}

func (a *Authenticator) authenticateToken(ctx context.Context, token string) (Identity, error) {
	accountID, err := ValidateToken(token, a.jwtSecret)
	if err != nil {
		log.Debug().Err(err).Msg("rejected token")
		return Identity{}, internal.ErrUnauthenticated
	}

	account, err := a.accounts.ByID(ctx, accountID)
	if err != nil {
		return Identity{}, err
	}
	if account == nil {
		return Identity{}, internal.ErrUnauthenticated
	}
	return Identity{Account: account, TokenUsed: true}, nil
}

func (a *Authenticator) IssueToken(account *internal.Account) (string, time.Time, error) {
	return SignToken(account.ID, a.jwtSecret, a.tokenTTL)
}

func (a *Authenticator) TokenTTL() time.Duration {
	return a.tokenTTL
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
