package handler

import (
	"net/http"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

type RegisterRequest struct {
	FirstName       string `json:"firstname" validate:"required,alpha,max=50"`
	LastName        string `json:"lastname" validate:"required,alpha,max=50"`
	Email           string `json:"email" validate:"required,email,max=254"`
	Password        string `json:"password" validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiration"`
}

// Register handles POST /api/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account, err := h.authenticator.Register(c.Request().Context(), auth.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}

	log.Info().Int64("account_id", account.ID).Msg("account registered")
	return c.JSON(http.StatusCreated, account)
}

// Token handles GET /api/token. Only email and password credentials reach
// here, so a token cannot be used to mint another one.
func (h *AuthHandler) Token(c echo.Context) error {
	account := auth.CurrentAccount(c)
	if account == nil {
		return internal.ErrUnauthenticated
	}

	token, expiresAt, err := h.authenticator.IssueToken(account)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, TokenResponse{Token: token, ExpiresAt: expiresAt})
}
